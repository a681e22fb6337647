package models

import "time"

// Исходы сделки
const (
	OutcomePending   = "pending"    // ноги еще не отправлены
	OutcomeBuyFilled = "buy_filled" // покупка исполнена, продажа в процессе
	OutcomeCompleted = "completed"  // обе ноги исполнены
	OutcomeUnhedged  = "unhedged"   // покупка исполнена, продажа не удалась после всех попыток
	OutcomeFailed    = "failed"     // покупка не исполнена, позиции нет
)

// Trade - запись о реальной, DRY_RUN или теневой сделке.
// После финализации не изменяется.
type Trade struct {
	ID           string    `json:"id" db:"id"`
	Symbol       string    `json:"symbol" db:"symbol"`
	BuyVenue     string    `json:"buy_venue" db:"buy_venue"`
	SellVenue    string    `json:"sell_venue" db:"sell_venue"`
	Amount       float64   `json:"amount" db:"amount"`
	BuyPrice     float64   `json:"buy_price" db:"buy_price"`
	SellPrice    float64   `json:"sell_price" db:"sell_price"`
	NetSpreadPct float64   `json:"net_spread_pct" db:"net_spread_pct"`
	PnlUSD       float64   `json:"pnl_usd" db:"pnl_usd"`
	FeesUSD      float64   `json:"fees_usd" db:"fees_usd"`
	DryRun       bool      `json:"dry_run" db:"dry_run"`
	Shadow       bool      `json:"shadow" db:"shadow"`
	Outcome      string    `json:"outcome" db:"outcome"`
	Attempts     int       `json:"attempts" db:"attempts"` // попытки продажи
	Error        string    `json:"error,omitempty" db:"error"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// ShadowTrade структурно совпадает с Trade, но создается только теневым движком
// и никогда не приводит к отправке ордеров.
type ShadowTrade = Trade

// IsFinal возвращает true если исход сделки окончательный
func (t *Trade) IsFinal() bool {
	switch t.Outcome {
	case OutcomeCompleted, OutcomeUnhedged, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Notional возвращает стоимость покупки
func (t *Trade) Notional() float64 {
	return t.Amount * t.BuyPrice
}
