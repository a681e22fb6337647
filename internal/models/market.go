package models

import "time"

// MarketSnapshot - лучшая цена bid/ask одной биржи по одному символу на момент опроса.
// Создается заново в каждом цикле и после создания не изменяется.
type MarketSnapshot struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	BestBid   float64   `json:"best_bid"`
	BestAsk   float64   `json:"best_ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Mid возвращает среднюю цену между bid и ask
func (s MarketSnapshot) Mid() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

// Age возвращает возраст снимка относительно now
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Valid проверяет что обе стороны стакана положительные и не пересечены
func (s MarketSnapshot) Valid() bool {
	return s.BestBid > 0 && s.BestAsk > 0 && s.BestBid <= s.BestAsk
}

// FeeSchedule - комиссии биржи в долях (0.001 = 0.1%)
type FeeSchedule struct {
	Venue     string  `json:"venue" db:"venue"`
	MakerRate float64 `json:"maker_rate" db:"maker_rate"`
	TakerRate float64 `json:"taker_rate" db:"taker_rate"`
}

// Opportunity - найденная пара ног buy/sell по одному символу.
// Живет не дольше одного цикла детекции.
type Opportunity struct {
	Symbol            string    `json:"symbol"`
	BuyVenue          string    `json:"buy_venue"`
	SellVenue         string    `json:"sell_venue"`
	BuyPrice          float64   `json:"buy_price"`
	SellPrice         float64   `json:"sell_price"`
	RawSpreadPct      float64   `json:"raw_spread_pct"`
	RequiredSpreadPct float64   `json:"required_spread_pct"`
	NetSpreadPct      float64   `json:"net_spread_pct"`
	SuggestedSize     float64   `json:"suggested_size"`
	DetectedAt        time.Time `json:"detected_at"`
}

// Notional возвращает стоимость покупки предложенного объема в котируемой валюте
func (o Opportunity) Notional() float64 {
	return o.SuggestedSize * o.BuyPrice
}

// CycleSummary - итог одного цикла детекции для диагностики и потока событий
type CycleSummary struct {
	StartedAt     time.Time     `json:"started_at"`
	DurationMs    int64         `json:"duration_ms"`
	Snapshots     int           `json:"snapshots"`
	FetchErrors   int           `json:"fetch_errors"`
	Opportunities int           `json:"opportunities"`
	Approved      int           `json:"approved"`
	Rejected      int           `json:"rejected"`
	Trades        int           `json:"trades"`
	ShadowTrades  int           `json:"shadow_trades"`
	Breakers      []BreakerKind `json:"breakers"`
}
