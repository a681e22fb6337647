package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/models"
	"spreadarb/internal/params"
)

func requireRejected(t *testing.T, d Decision, reason RejectReason) {
	t.Helper()
	require.False(t, d.Approved, "expected rejection %s", reason)
	require.NotNil(t, d.Rejection)
	assert.Equal(t, reason, d.Rejection.Reason, d.Rejection.Detail)
}

func TestRisk_ApprovesWithinLimits(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), nil)

	d := rm.Evaluate(context.Background(), testOpportunity(2))
	require.True(t, d.Approved)
	assert.Equal(t, 2.0, d.Size)
	assert.Nil(t, d.Rejection)
}

func TestRisk_Limits(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(rm *RiskManager)
		size   float64
		params map[string]float64
		reason RejectReason
	}{
		{
			name:   "capital cap",
			size:   6,
			reason: ReasonCapitalCap,
		},
		{
			name:   "capital cap follows live parameter",
			size:   2,
			params: map[string]float64{params.MaxCapitalPerTradeUSD: 100},
			reason: ReasonCapitalCap,
		},
		{
			name:   "quote balance below notional plus fee",
			setup:  func(rm *RiskManager) { rm.SetBalances("A", map[string]float64{"USDT": 200.1}) },
			size:   2,
			reason: ReasonInsufficientBalance,
		},
		{
			name:   "base balance below size",
			setup:  func(rm *RiskManager) { rm.SetBalances("B", map[string]float64{"BTC": 1}) },
			size:   2,
			reason: ReasonInsufficientBalance,
		},
		{
			name:   "balance usage",
			setup:  func(rm *RiskManager) { rm.SetBalances("A", map[string]float64{"USDT": 300}) },
			size:   2,
			reason: ReasonBalanceUsage,
		},
		{
			name:   "symbol exposure",
			setup:  func(rm *RiskManager) { rm.SeedExposure(map[string]float64{testSymbol: 1900}) },
			size:   2,
			reason: ReasonSymbolExposure,
		},
		{
			name:   "below minimum size",
			size:   0.05,
			reason: ReasonBelowMinSize,
		},
		{
			name:   "empty size",
			size:   0,
			reason: ReasonBelowMinSize,
		},
		{
			name:   "suspended symbol",
			setup:  func(rm *RiskManager) { rm.Suspend(testSymbol, nil) },
			size:   2,
			reason: ReasonSymbolSuspended,
		},
		{
			name:   "trade in flight",
			setup:  func(rm *RiskManager) { rm.inflight.TryAcquire(testSymbol) },
			size:   2,
			reason: ReasonInFlight,
		},
		{
			name: "volatility",
			setup: func(rm *RiskManager) {
				rm.ObservePrice(testSymbol, "A", 100)
				rm.ObservePrice(testSymbol, "A", 103)
			},
			size:   2,
			reason: ReasonVolatility,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm, _, _ := newTestRisk(t, newTestRiskConfig(), tt.params)
			if tt.setup != nil {
				tt.setup(rm)
			}
			requireRejected(t, rm.Evaluate(context.Background(), testOpportunity(tt.size)), tt.reason)
		})
	}
}

func TestRisk_TimedSuspensionExpires(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)

	until := clock.Now().Add(time.Hour)
	rm.Suspend(testSymbol, &until)
	assert.True(t, rm.Suspended(testSymbol))
	assert.Equal(t, []string{testSymbol}, rm.SuspendedSymbols())

	clock.Advance(61 * time.Minute)
	assert.False(t, rm.Suspended(testSymbol))
	assert.Empty(t, rm.SuspendedSymbols())
	assert.True(t, rm.Evaluate(context.Background(), testOpportunity(2)).Approved)
}

func TestRisk_SetSuspensionsReplacesSet(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	rm.Suspend("ETHUSDT", nil)

	expired := clock.Now().Add(-time.Minute)
	rm.SetSuspensions([]*models.Suspension{
		{Symbol: testSymbol},
		{Symbol: "SOLUSDT", ExpiresAt: &expired},
	})

	assert.True(t, rm.Suspended(testSymbol))
	assert.False(t, rm.Suspended("ETHUSDT"), "cleared by operator")
	assert.False(t, rm.Suspended("SOLUSDT"), "expired")
}

func TestRisk_DailyLossStickyUntilDayRollover(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)

	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Outcome: models.OutcomeUnhedged, PnlUSD: -1000})
	assert.True(t, rm.Tripped(models.BreakerDailyLoss))

	events := drainEvents(rm)
	require.Len(t, events, 1)
	assert.Equal(t, models.BreakerDailyLoss, events[0].Breaker)
	assert.True(t, events[0].Tripped)

	d := rm.Evaluate(context.Background(), testOpportunity(2))
	requireRejected(t, d, ReasonBreakerTripped)
	assert.Equal(t, models.BreakerDailyLoss, d.Rejection.Breaker)

	// PnL вернулся выше порога, выключатель остается
	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Outcome: models.OutcomeCompleted, PnlUSD: 800})
	clock.Advance(time.Hour)
	rm.Refresh(clock.Now())
	assert.True(t, rm.Tripped(models.BreakerDailyLoss))

	// 2024-03-11 00:00 UTC
	clock.Advance(11 * time.Hour)
	rm.Refresh(clock.Now())
	assert.False(t, rm.Tripped(models.BreakerDailyLoss))
	assert.Equal(t, 0.0, rm.Status().DailyPnlUSD)

	events = drainEvents(rm)
	require.Len(t, events, 1)
	assert.False(t, events[0].Tripped)
}

func TestRisk_SeededDailyPnlTripsDailyLoss(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), nil)
	rm.SeedDailyPnl(-1500)
	assert.True(t, rm.Tripped(models.BreakerDailyLoss))
}

func TestRisk_ShadowTradesIgnored(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), nil)

	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Shadow: true, Outcome: models.OutcomeCompleted, PnlUSD: -5000, Amount: 5, BuyPrice: 100})

	st := rm.Status()
	assert.Equal(t, 0.0, st.DailyPnlUSD)
	assert.Equal(t, 0, st.TradesThisHour)
	assert.Equal(t, 0.0, rm.Exposure(testSymbol))
}

func TestRisk_ExposureCountsDeployedNotional(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), nil)

	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Outcome: models.OutcomeCompleted, Amount: 2, BuyPrice: 100})
	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Outcome: models.OutcomeUnhedged, Amount: 1, BuyPrice: 100})
	rm.RecordTrade(&models.Trade{Symbol: testSymbol, Outcome: models.OutcomeFailed, Amount: 3, BuyPrice: 100})

	assert.InDelta(t, 300, rm.Exposure(testSymbol), 1e-9)
}

func TestRisk_TradeRateRejectsOverLimit(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)

	for i := 0; i < 49; i++ {
		rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeCompleted})
		clock.Advance(time.Second)
	}
	assert.True(t, rm.Evaluate(context.Background(), testOpportunity(2)).Approved, "49 trades this hour")

	rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeCompleted})

	d := rm.Evaluate(context.Background(), testOpportunity(2))
	requireRejected(t, d, ReasonBreakerTripped)
	assert.Equal(t, models.BreakerTradeRate, d.Rejection.Breaker)

	// окно скользит: через час первые сделки выпадают
	clock.Advance(time.Hour)
	rm.Refresh(clock.Now())
	assert.False(t, rm.Tripped(models.BreakerTradeRate))
}

func TestRisk_FailedBuysNotCountedAsTrades(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), map[string]float64{params.MaxTradesPerHour: 2})
	rm.config.FailureLimit = 0

	rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeFailed})
	rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeFailed})

	assert.Equal(t, 0, rm.Status().TradesThisHour)
	assert.False(t, rm.Tripped(models.BreakerTradeRate))
	assert.True(t, rm.Evaluate(context.Background(), testOpportunity(2)).Approved)

	rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeCompleted})
	rm.RecordTrade(&models.Trade{Symbol: "ETHUSDT", Outcome: models.OutcomeUnhedged})
	assert.Equal(t, 2, rm.Status().TradesThisHour)
	assert.True(t, rm.Tripped(models.BreakerTradeRate))
}

func TestRisk_APIErrorRate(t *testing.T) {
	cfg := newTestRiskConfig()
	cfg.APIErrorLimit = 3
	cfg.APIErrorWindow = time.Minute
	rm, _, clock := newTestRisk(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rm.RecordAPIError("A", errors.New("timeout"))
	}
	assert.False(t, rm.Tripped(models.BreakerAPIErrorRate))

	rm.RecordAPIError("B", errors.New("timeout"))
	assert.True(t, rm.Tripped(models.BreakerAPIErrorRate))
	assert.Equal(t, 3, rm.Status().APIErrorsWindow)

	clock.Advance(2 * time.Minute)
	rm.Refresh(clock.Now())
	assert.False(t, rm.Tripped(models.BreakerAPIErrorRate))
}

func TestRisk_NoDataClearsOnOpportunity(t *testing.T) {
	cfg := newTestRiskConfig()
	cfg.NoDataTimeout = 120 * time.Second
	rm, _, clock := newTestRisk(t, cfg, nil)

	clock.Advance(119 * time.Second)
	rm.Refresh(clock.Now())
	assert.False(t, rm.Tripped(models.BreakerNoData))

	clock.Advance(2 * time.Second)
	rm.Refresh(clock.Now())
	assert.True(t, rm.Tripped(models.BreakerNoData))

	d := rm.Evaluate(context.Background(), testOpportunity(2))
	requireRejected(t, d, ReasonBreakerTripped)
	assert.Equal(t, models.BreakerNoData, d.Rejection.Breaker)

	rm.ObserveOpportunity(clock.Now())
	assert.False(t, rm.Tripped(models.BreakerNoData))
	assert.True(t, rm.Evaluate(context.Background(), testOpportunity(2)).Approved)

	events := drainEvents(rm)
	require.Len(t, events, 2)
	assert.True(t, events[0].Tripped)
	assert.False(t, events[1].Tripped)
}

func TestRisk_RepeatedFailedBuysDisableSymbol(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	failed := &models.Trade{Symbol: testSymbol, Outcome: models.OutcomeFailed}

	assert.False(t, rm.RecordTrade(failed))
	clock.Advance(2 * time.Hour)
	assert.False(t, rm.RecordTrade(failed), "first failure fell out of the window")
	clock.Advance(time.Minute)
	assert.True(t, rm.RecordTrade(failed))

	// счетчик сброшен после срабатывания
	assert.False(t, rm.RecordTrade(failed))
}

func TestRisk_UnsavedSuspensionKeptUntilStored(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	rm.SuspendUnsaved(PendingSuspension{Symbol: testSymbol, Reason: "unhedged trade t-1", TradeID: "t-1"})

	rm.SetSuspensions(nil)
	assert.True(t, rm.Suspended(testSymbol), "reload without the stored row keeps the suspension")

	// сохраненная временная приостановка не покрывает бессрочную
	until := clock.Now().Add(time.Hour)
	rm.SetSuspensions([]*models.Suspension{{Symbol: testSymbol, Reason: "failed buys", ExpiresAt: &until}})
	require.Len(t, rm.UnsavedSuspensions(), 1)
	clock.Advance(2 * time.Hour)
	rm.SetSuspensions(nil)
	assert.True(t, rm.Suspended(testSymbol))

	rm.SetSuspensions([]*models.Suspension{{Symbol: testSymbol, Reason: "unhedged trade t-1"}})
	assert.Empty(t, rm.UnsavedSuspensions())
	rm.SetSuspensions(nil)
	assert.False(t, rm.Suspended(testSymbol), "operator cleared the stored suspension")
}

func TestRisk_ExpiredUnsavedSuspensionDropped(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	until := clock.Now().Add(time.Hour)
	rm.SuspendUnsaved(PendingSuspension{Symbol: testSymbol, Reason: "failed buys", Until: &until})

	rm.SetSuspensions(nil)
	assert.True(t, rm.Suspended(testSymbol))

	clock.Advance(time.Hour)
	rm.SetSuspensions(nil)
	assert.False(t, rm.Suspended(testSymbol))
	assert.Empty(t, rm.UnsavedSuspensions())
}

func TestRisk_SuspendNeverShortensActive(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	rm.Suspend(testSymbol, nil)

	until := clock.Now().Add(time.Hour)
	rm.SuspendUnsaved(PendingSuspension{Symbol: testSymbol, Until: &until})
	clock.Advance(2 * time.Hour)
	assert.True(t, rm.Suspended(testSymbol))

	pending := rm.UnsavedSuspensions()
	require.Len(t, pending, 1)
	assert.Equal(t, until, *pending[0].Until)
}

func TestRisk_BudgetUsesBalancesAndExposure(t *testing.T) {
	rm, _, _ := newTestRisk(t, newTestRiskConfig(), nil)
	rm.SeedExposure(map[string]float64{testSymbol: 1500})

	b := rm.Budget()
	assert.InDelta(t, 500, b.Available("A", "USDT"), 1e-9)
	assert.InDelta(t, 5, b.Available("B", "BTC"), 1e-9)
	assert.InDelta(t, 500, b.MaxNotional(), 1e-9)
	assert.InDelta(t, 500, b.RemainingExposure(testSymbol), 1e-9)
	assert.False(t, b.Blocked(testSymbol))

	rm.inflight.TryAcquire(testSymbol)
	assert.True(t, b.Blocked(testSymbol))
}

func TestRisk_ExposureResetsOnNewDay(t *testing.T) {
	rm, _, clock := newTestRisk(t, newTestRiskConfig(), nil)
	rm.SeedExposure(map[string]float64{testSymbol: 1900})

	clock.Advance(12 * time.Hour)
	rm.Refresh(clock.Now())
	assert.Equal(t, 0.0, rm.Exposure(testSymbol))
}
