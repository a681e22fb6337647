package bot

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
)

// SizingBudget - ограничения на объем, которые детектор учитывает при расчете размера
type SizingBudget interface {
	// Available - доступное количество актива на бирже
	Available(venue, asset string) float64
	// MaxNotional - максимум на одну сделку в котируемой валюте
	MaxNotional() float64
	// RemainingExposure - остаток лимита экспозиции символа
	RemainingExposure(symbol string) float64
	// Blocked - символ не торгуется (сделка в процессе или приостановка)
	Blocked(symbol string) bool
}

// DetectorConfig - конфигурация детектора
type DetectorConfig struct {
	// FreshnessWindow - снимки старше окна не участвуют в сравнении
	FreshnessWindow time.Duration
	// QtyPrecision - знаков после запятой в количестве по биржам, 0 - целые лоты
	QtyPrecision     map[string]int32
	DefaultPrecision int32
}

// Detector попарно сравнивает биржи по каждому символу.
// Detect - чистая функция снимков, бюджета, параметров и now.
type Detector struct {
	cost   *CostModel
	params ParameterSource
	config DetectorConfig
}

// NewDetector создает детектор
func NewDetector(cost *CostModel, p ParameterSource, config DetectorConfig) *Detector {
	if config.FreshnessWindow <= 0 {
		config.FreshnessWindow = 10 * time.Second
	}
	if config.DefaultPrecision <= 0 {
		config.DefaultPrecision = 6
	}
	return &Detector{cost: cost, params: p, config: config}
}

// unlimited - верхняя граница для бюджетов без ограничения
const unlimited = 1e15

type candidate struct {
	buy, sell models.MarketSnapshot
	raw       decimal.Decimal
	required  decimal.Decimal
	net       decimal.Decimal
}

func (c candidate) key() string {
	return c.buy.Venue + "|" + c.sell.Venue
}

// better: больший чистый спред, при равенстве - меньший идентификатор пары бирж
func (c candidate) better(o candidate) bool {
	if cmp := c.net.Cmp(o.net); cmp != 0 {
		return cmp > 0
	}
	return c.key() < o.key()
}

// Detect возвращает не более одной возможности на символ, отсортированные по символу
func (d *Detector) Detect(snapshots []models.MarketSnapshot, budget SizingBudget, now time.Time) []models.Opportunity {
	bySymbol := d.freshBySymbol(snapshots, now)

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	safety := d.params.MustGet(params.SafetyMarginSpread)
	floor := d.params.MustGet(params.MinSpreadPercent)

	var out []models.Opportunity
	for _, symbol := range symbols {
		if budget.Blocked(symbol) {
			continue
		}

		candidates := d.candidates(bySymbol[symbol], safety, floor)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].better(candidates[j]) })

		// лучшая пара, под которую есть объем
		for _, c := range candidates {
			size := d.size(symbol, c, budget)
			if size.Sign() <= 0 {
				continue
			}
			out = append(out, models.Opportunity{
				Symbol:            symbol,
				BuyVenue:          c.buy.Venue,
				SellVenue:         c.sell.Venue,
				BuyPrice:          c.buy.BestAsk,
				SellPrice:         c.sell.BestBid,
				RawSpreadPct:      c.raw.InexactFloat64(),
				RequiredSpreadPct: c.required.InexactFloat64(),
				NetSpreadPct:      c.net.InexactFloat64(),
				SuggestedSize:     size.InexactFloat64(),
				DetectedAt:        now,
			})
			break
		}
	}
	return out
}

// freshBySymbol группирует свежие валидные снимки по символу, по одному на биржу
func (d *Detector) freshBySymbol(snapshots []models.MarketSnapshot, now time.Time) map[string][]models.MarketSnapshot {
	latest := make(map[string]map[string]models.MarketSnapshot)
	for _, s := range snapshots {
		if !s.Valid() || s.Age(now) > d.config.FreshnessWindow {
			continue
		}
		venues, ok := latest[s.Symbol]
		if !ok {
			venues = make(map[string]models.MarketSnapshot)
			latest[s.Symbol] = venues
		}
		if prev, ok := venues[s.Venue]; !ok || s.FetchedAt.After(prev.FetchedAt) {
			venues[s.Venue] = s
		}
	}

	out := make(map[string][]models.MarketSnapshot, len(latest))
	for symbol, venues := range latest {
		list := make([]models.MarketSnapshot, 0, len(venues))
		for _, s := range venues {
			list = append(list, s)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Venue < list[j].Venue })
		out[symbol] = list
	}
	return out
}

func (d *Detector) candidates(snaps []models.MarketSnapshot, safety, floor float64) []candidate {
	var out []candidate
	for _, buy := range snaps {
		for _, sell := range snaps {
			if buy.Venue == sell.Venue {
				continue
			}
			ask := decimal.NewFromFloat(buy.BestAsk)
			raw := decimal.NewFromFloat(sell.BestBid).Sub(ask).Div(ask).Mul(hundred)
			if raw.Sign() <= 0 {
				continue
			}
			required := decimal.NewFromFloat(d.cost.RequiredSpread(buy.Venue, sell.Venue, safety, floor))
			net := raw.Sub(required)
			if net.Sign() <= 0 {
				continue
			}
			out = append(out, candidate{buy: buy, sell: sell, raw: raw, required: required, net: net})
		}
	}
	return out
}

// size: min(баланс котируемой на бирже покупки, баланс базового на бирже продажи,
// лимит на сделку, остаток экспозиции) / цена покупки, с округлением вниз до точности пары.
// Базовый актив оценивается по цене покупки, чтобы объем не превысил его остаток.
func (d *Detector) size(symbol string, c candidate, budget SizingBudget) decimal.Decimal {
	base, quote := exchange.SplitSymbol(symbol)
	price := decimal.NewFromFloat(c.buy.BestAsk)

	notional := decimal.Min(
		bounded(budget.Available(c.buy.Venue, quote)),
		bounded(budget.Available(c.sell.Venue, base)).Mul(price),
		bounded(budget.MaxNotional()),
		bounded(budget.RemainingExposure(symbol)),
	)
	if notional.Sign() <= 0 {
		return decimal.Zero
	}
	return notional.Div(price).Truncate(d.precision(c.buy.Venue, c.sell.Venue))
}

// bounded переводит float в decimal; NaN и отрицательные значения дают 0, +Inf - без ограничения
func bounded(v float64) decimal.Decimal {
	switch {
	case math.IsNaN(v) || v <= 0:
		return decimal.Zero
	case math.IsInf(v, 1) || v > unlimited:
		return decimal.NewFromFloat(unlimited)
	}
	return decimal.NewFromFloat(v)
}

func (d *Detector) precision(venues ...string) int32 {
	p := int32(-1)
	for _, v := range venues {
		vp, ok := d.config.QtyPrecision[v]
		if !ok || vp < 0 {
			vp = d.config.DefaultPrecision
		}
		if p < 0 || vp < p {
			p = vp
		}
	}
	return p
}
