package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"spreadarb/internal/models"
)

// ============================================================
// Prometheus метрики арбитражного ядра
// ============================================================

// ============ Цикл ============

// CyclesTotal - количество завершенных циклов
var CyclesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "spreadarb",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total number of completed detection cycles",
	},
)

// CycleDuration - длительность цикла
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "spreadarb",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a detection cycle in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
	},
)

// ============ Биржи ============

// FetchLatency - время получения стакана
var FetchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spreadarb",
		Subsystem: "exchange",
		Name:      "fetch_latency_ms",
		Help:      "Order book fetch latency in milliseconds",
		Buckets:   []float64{25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"venue"},
)

// APIErrors - ошибки адаптеров бирж
var APIErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spreadarb",
		Subsystem: "exchange",
		Name:      "api_errors_total",
		Help:      "Number of exchange adapter errors",
	},
	[]string{"venue"},
)

// ============ Торговля ============

// OpportunitiesDetected - найденные возможности
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spreadarb",
		Subsystem: "trading",
		Name:      "opportunities_detected_total",
		Help:      "Number of opportunities emitted by the detector",
	},
	[]string{"symbol"},
)

// RejectionsTotal - отклонения риск-менеджером
var RejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spreadarb",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Number of opportunities rejected by the risk manager",
	},
	[]string{"reason"},
)

// TradesTotal - сделки по исходам
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spreadarb",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Number of finalized trades",
	},
	[]string{"outcome", "mode"}, // mode: live, dry_run, shadow
)

// DailyPnl - реализованный PnL текущего UTC дня
var DailyPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spreadarb",
		Subsystem: "risk",
		Name:      "daily_pnl_usd",
		Help:      "Realized PnL of the current UTC day in USD",
	},
)

// BreakerState - состояние выключателей (1 = сработал)
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "spreadarb",
		Subsystem: "risk",
		Name:      "breaker_tripped",
		Help:      "Circuit breaker state (1=tripped, 0=clear)",
	},
	[]string{"breaker"},
)

// InFlightTrades - сделки в процессе исполнения
var InFlightTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spreadarb",
		Subsystem: "trading",
		Name:      "in_flight_trades",
		Help:      "Trades currently being executed",
	},
)

// ============ Вспомогательные функции ============

// RecordCycle записывает завершенный цикл
func RecordCycle(d time.Duration) {
	CyclesTotal.Inc()
	CycleDuration.Observe(d.Seconds())
}

// RecordFetch записывает время запроса стакана
func RecordFetch(venue string, d time.Duration) {
	FetchLatency.WithLabelValues(venue).Observe(float64(d.Milliseconds()))
}

// RecordOpportunity записывает найденную возможность
func RecordOpportunity(symbol string) {
	OpportunitiesDetected.WithLabelValues(symbol).Inc()
}

// RecordRejection записывает отклонение
func RecordRejection(reason RejectReason) {
	RejectionsTotal.WithLabelValues(string(reason)).Inc()
}

// RecordTrade записывает финальную сделку
func RecordTrade(t *models.Trade) {
	mode := "live"
	switch {
	case t.Shadow:
		mode = "shadow"
	case t.DryRun:
		mode = "dry_run"
	}
	TradesTotal.WithLabelValues(t.Outcome, mode).Inc()
}

// UpdateBreakers выставляет gauge выключателей и дневной PnL
func UpdateBreakers(status models.BreakerStatus) {
	for _, kind := range models.AllBreakers {
		v := 0.0
		if status.IsTripped(kind) {
			v = 1
		}
		BreakerState.WithLabelValues(string(kind)).Set(v)
	}
	DailyPnl.Set(status.DailyPnlUSD)
}
