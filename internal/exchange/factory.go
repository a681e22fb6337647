package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"spreadarb/internal/config"
)

// New создает адаптер биржи по описанию из файла бирж.
// В режиме dryRun настоящая биржа оборачивается в DryRun.
func New(cfg config.VenueConfig, dryRun bool, logger *zap.Logger) (Exchange, error) {
	switch cfg.Kind {
	case config.VenueKindPaper:
		p := NewPaper(cfg.Name, cfg.MakerFee, cfg.TakerFee)
		for symbol, quote := range cfg.PaperQuotes {
			p.SetQuote(symbol, quote[0], quote[1])
		}
		for asset, amount := range cfg.PaperBalances {
			p.SetBalance(asset, amount)
		}
		return p, nil

	case config.VenueKindBybit:
		b := NewBybit(BybitConfig{
			Name:      cfg.Name,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			MakerFee:  cfg.MakerFee,
			TakerFee:  cfg.TakerFee,
			RateLimit: cfg.RateLimit,
		}, logger)
		if dryRun {
			return NewDryRun(b, cfg.PaperBalances), nil
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported venue kind %q for venue %s", cfg.Kind, cfg.Name)
	}
}

// NewAll создает адаптеры всех бирж. При ошибке уже созданные адаптеры закрываются.
func NewAll(cfgs []config.VenueConfig, dryRun bool, logger *zap.Logger) (map[string]Exchange, error) {
	venues := make(map[string]Exchange, len(cfgs))
	for _, cfg := range cfgs {
		ex, err := New(cfg, dryRun, logger)
		if err != nil {
			for _, v := range venues {
				v.Close()
			}
			return nil, err
		}
		venues[cfg.Name] = ex
	}
	return venues, nil
}
