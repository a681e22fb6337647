package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Типы бирж
const (
	VenueKindBybit = "bybit"
	VenueKindPaper = "paper"
)

// Точность по умолчанию для бирж без qty_precision / price_precision
const (
	DefaultQtyPrecision   int32 = 6
	DefaultPricePrecision int32 = 8

	maxPrecision int32 = 18
)

// VenueConfig - описание биржи из файла бирж.
// Ключи API в файле не хранятся: они читаются из <NAME>_API_KEY / <NAME>_API_SECRET.
type VenueConfig struct {
	Name         string  `toml:"name" yaml:"name"`
	Kind         string  `toml:"kind" yaml:"kind"`
	BaseURL      string  `toml:"base_url" yaml:"base_url"`
	MakerFee     float64 `toml:"maker_fee" yaml:"maker_fee"` // доля, 0.001 = 0.1%
	TakerFee     float64 `toml:"taker_fee" yaml:"taker_fee"`
	RateLimit    float64 `toml:"rate_limit" yaml:"rate_limit"` // запросов в секунду

	// Знаков после запятой в количестве и цене ордера. nil - не задано в файле,
	// 0 - целые лоты или целые цены.
	QtyPrecision   *int32 `toml:"qty_precision" yaml:"qty_precision"`
	PricePrecision *int32 `toml:"price_precision" yaml:"price_precision"`

	// Балансы для DRY_RUN и paper бирж: актив -> количество
	PaperBalances map[string]float64 `toml:"paper_balances" yaml:"paper_balances"`
	// Статический стакан для paper биржи: символ -> [bid, ask]
	PaperQuotes map[string][2]float64 `toml:"paper_quotes" yaml:"paper_quotes"`

	APIKey    string `toml:"-" yaml:"-"`
	APISecret string `toml:"-" yaml:"-"`
}

type venuesFile struct {
	Venues []VenueConfig `toml:"venue" yaml:"venues"`
}

// LoadVenues читает файл бирж. Формат определяется расширением: .toml, .yaml, .yml.
func LoadVenues(path string) ([]VenueConfig, error) {
	var file venuesFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("failed to parse venues file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read venues file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse venues file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported venues file extension: %s", path)
	}

	for i := range file.Venues {
		v := &file.Venues[i]
		v.Name = strings.ToLower(strings.TrimSpace(v.Name))
		if v.Kind == "" {
			v.Kind = v.Name
		}
		if err := checkPrecision(v.Name, "qty_precision", v.QtyPrecision); err != nil {
			return nil, err
		}
		if err := checkPrecision(v.Name, "price_precision", v.PricePrecision); err != nil {
			return nil, err
		}
		v.APIKey = os.Getenv(v.keyEnv())
		v.APISecret = os.Getenv(v.secretEnv())
	}

	return file.Venues, nil
}

func checkPrecision(venue, field string, p *int32) error {
	if p != nil && (*p < 0 || *p > maxPrecision) {
		return fmt.Errorf("venue %s: %s must be in [0, %d], got %d", venue, field, maxPrecision, *p)
	}
	return nil
}

// QtyDecimals - знаков после запятой в количестве ордера
func (v VenueConfig) QtyDecimals() int32 {
	if v.QtyPrecision == nil {
		return DefaultQtyPrecision
	}
	return *v.QtyPrecision
}

// PriceDecimals - знаков после запятой в цене ордера
func (v VenueConfig) PriceDecimals() int32 {
	if v.PricePrecision == nil {
		return DefaultPricePrecision
	}
	return *v.PricePrecision
}

func (v VenueConfig) keyEnv() string {
	return strings.ToUpper(v.Name) + "_API_KEY"
}

func (v VenueConfig) secretEnv() string {
	return strings.ToUpper(v.Name) + "_API_SECRET"
}
