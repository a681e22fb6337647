package models

import "time"

// BreakerKind - тип автоматического выключателя
type BreakerKind string

// Выключатели
const (
	BreakerDailyLoss    BreakerKind = "daily_loss"
	BreakerAPIErrorRate BreakerKind = "api_error_rate"
	BreakerTradeRate    BreakerKind = "trade_rate"
	BreakerNoData       BreakerKind = "no_data"
)

// AllBreakers - все выключатели в порядке проверки
var AllBreakers = []BreakerKind{
	BreakerDailyLoss,
	BreakerAPIErrorRate,
	BreakerTradeRate,
	BreakerNoData,
}

// BreakerStatus - снимок состояния выключателей для диагностики
type BreakerStatus struct {
	DailyPnlUSD       float64                   `json:"daily_pnl_usd"`
	TradesThisHour    int                       `json:"trades_this_hour"`
	APIErrorsWindow   int                       `json:"api_errors_window"`
	LastOpportunityAt time.Time                 `json:"last_opportunity_at"`
	Tripped           []BreakerKind             `json:"tripped"`
	TrippedAt         map[BreakerKind]time.Time `json:"tripped_at,omitempty"`
	Day               string                    `json:"day"` // UTC день, к которому относится DailyPnlUSD
}

// IsTripped проверяет сработал ли выключатель
func (s BreakerStatus) IsTripped(kind BreakerKind) bool {
	for _, k := range s.Tripped {
		if k == kind {
			return true
		}
	}
	return false
}
