package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spreadarb/internal/models"
)

type mapBalances map[string]float64

func (m mapBalances) Balance(venue, asset string) float64 {
	return m[venue+"/"+asset]
}

func newTestShadow(t *testing.T, sizing string, balances BalanceSource) (*ShadowEngine, *VolatilityTracker, *memLedger) {
	t.Helper()
	store := newTestParams(t, nil)
	cost := newTestCost()
	vol := NewVolatilityTracker(10)
	det := NewDetector(cost, store, DetectorConfig{FreshnessWindow: 5 * time.Second})
	ledger := &memLedger{}
	return NewShadowEngine(det, cost, vol, store, ledger, sizing, balances, zap.NewNop()), vol, ledger
}

func shadowSnaps() []models.MarketSnapshot {
	return []models.MarketSnapshot{
		snap("A", 99.9, 100, 0),
		snap("B", 101, 101.1, 0),
	}
}

func TestShadow_FixedSizingIgnoresBalances(t *testing.T) {
	s, _, ledger := newTestShadow(t, ShadowSizingFixed, nil)
	assert.Equal(t, ShadowSizingFixed, s.Sizing())

	trades := s.Run(context.Background(), shadowSnaps(), detectNow)
	require.Len(t, trades, 1)

	tr := trades[0]
	assert.True(t, tr.Shadow)
	assert.True(t, tr.DryRun)
	assert.Equal(t, models.OutcomeCompleted, tr.Outcome)
	assert.InDelta(t, 5, tr.Amount, 1e-9, "MAX_CAPITAL_PER_TRADE_USD / buy price")
	// 505 - 500 - 1.005 комиссии - 0.75375 проскальзывания
	assert.InDelta(t, 3.24125, tr.PnlUSD, 1e-9)
	assert.Equal(t, detectNow, tr.Timestamp)

	stored := ledger.all()
	require.Len(t, stored, 1)
	assert.Equal(t, tr.ID, stored[0].ID)
	assert.True(t, stored[0].Shadow)
}

func TestShadow_LiveSizingUsesBalances(t *testing.T) {
	s, _, _ := newTestShadow(t, ShadowSizingLive, mapBalances{"A/USDT": 200, "B/BTC": 10})
	assert.Equal(t, ShadowSizingLive, s.Sizing())

	trades := s.Run(context.Background(), shadowSnaps(), detectNow)
	require.Len(t, trades, 1)
	assert.InDelta(t, 1, trades[0].Amount, 1e-9)
}

func TestShadow_LiveSizingWithoutBalancesFallsBackToFixed(t *testing.T) {
	s, _, _ := newTestShadow(t, ShadowSizingLive, nil)
	assert.Equal(t, ShadowSizingFixed, s.Sizing())
}

func TestShadow_VolatilityFilter(t *testing.T) {
	s, vol, ledger := newTestShadow(t, ShadowSizingFixed, nil)
	vol.Observe(testSymbol, "B", 100)
	vol.Observe(testSymbol, "B", 104)

	assert.Empty(t, s.Run(context.Background(), shadowSnaps(), detectNow))
	assert.Empty(t, ledger.all())
}

func TestShadow_NoOpportunityNoTrades(t *testing.T) {
	s, _, ledger := newTestShadow(t, ShadowSizingFixed, nil)

	trades := s.Run(context.Background(), []models.MarketSnapshot{
		snap("A", 99.9, 100, 0),
		snap("B", 100.1, 100.2, 0),
	}, detectNow)
	assert.Empty(t, trades)
	assert.Empty(t, ledger.all())
}
