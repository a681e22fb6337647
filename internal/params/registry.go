// Package params хранит риск-параметры, изменяемые во время работы.
//
// Набор параметров задается явным реестром: добавление параметра -
// это новая запись в Registry, отчетный API перечисляет реестр.
package params

// Имена риск-параметров
const (
	MaxCapitalPerTradeUSD      = "MAX_CAPITAL_PER_TRADE_USD"
	MaxDailyLossUSD            = "MAX_DAILY_LOSS_USD"
	MaxTradesPerHour           = "MAX_TRADES_PER_HOUR"
	MaxSymbolExposureUSD       = "MAX_SYMBOL_EXPOSURE_USD"
	MaxBalanceUsagePerExchange = "MAX_BALANCE_USAGE_PER_EXCHANGE"
	MinSpreadPercent           = "MIN_SPREAD_PERCENT"
	VolatilityThresholdPercent = "VOLATILITY_THRESHOLD_PERCENT"
	SafetyMarginSpread         = "SAFETY_MARGIN_SPREAD"
)

// Definition - запись реестра: значение по умолчанию, границы и описание
type Definition struct {
	Name        string
	Default     float64
	Min         float64
	Max         float64
	Description string
}

// Registry - все записываемые параметры в порядке отображения.
// DRY_RUN и учетные данные бирж сюда не входят и поэтому не могут быть изменены через Set.
var Registry = []Definition{
	{MaxCapitalPerTradeUSD, 500, 1, 10000, "Maximum capital allocated to a single trade (USD)"},
	{MaxDailyLossUSD, 1000, 5, 50000, "Daily realized loss that trips the daily loss breaker (USD)"},
	{MaxTradesPerHour, 50, 1, 500, "Maximum trades in a trailing 60 minute window"},
	{MaxSymbolExposureUSD, 2000, 10, 100000, "Maximum notional per symbol per UTC day (USD)"},
	{MaxBalanceUsagePerExchange, 0.5, 0.05, 0.9, "Maximum fraction of a venue balance used by one trade"},
	{MinSpreadPercent, 0.3, 0.05, 5.0, "Floor for the required spread (%)"},
	{VolatilityThresholdPercent, 2.0, 0.5, 10, "Recent price range above which a symbol is not traded (%)"},
	{SafetyMarginSpread, 0.15, 0.05, 5.0, "Extra spread added on top of fees and slippage (%)"},
}

// Lookup ищет определение по имени
func Lookup(name string) (Definition, bool) {
	for _, d := range Registry {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
