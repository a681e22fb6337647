package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
)

const testSymbol = "BTCUSDT"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memLedger struct {
	mu     sync.Mutex
	trades []*models.Trade
	err    error
}

func (l *memLedger) AppendTrade(ctx context.Context, t *models.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	cp := *t
	l.trades = append(l.trades, &cp)
	return nil
}

func (l *memLedger) all() []*models.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *memLedger) byShadow(shadow bool) []*models.Trade {
	var out []*models.Trade
	for _, t := range l.all() {
		if t.Shadow == shadow {
			out = append(out, t)
		}
	}
	return out
}

type suspendCall struct {
	symbol  string
	reason  string
	tradeID string
	until   *time.Time
}

type memSuspender struct {
	mu    sync.Mutex
	calls []suspendCall
	err   error
}

func (s *memSuspender) Suspend(ctx context.Context, symbol, reason, tradeID string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, suspendCall{symbol, reason, tradeID, until})
	return s.err
}

func (s *memSuspender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *memSuspender) all() []suspendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]suspendCall(nil), s.calls...)
}

type memAlerter struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (a *memAlerter) Notify(ctx context.Context, n *models.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, n)
}

func (a *memAlerter) all() []*models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.Notification(nil), a.sent...)
}

func newTestParams(t *testing.T, overrides map[string]float64) *params.Store {
	t.Helper()
	store := params.NewStore(nil, zap.NewNop())
	for name, v := range overrides {
		_, err := store.Set(context.Background(), name, v)
		require.NoError(t, err, name)
	}
	return store
}

// newTestCost: тейкер 0.1% на обеих биржах и проскальзывание 0.15%,
// вместе с SAFETY_MARGIN_SPREAD по умолчанию требуемый спред равен 0.5%
func newTestCost() *CostModel {
	return NewCostModel([]models.FeeSchedule{
		{Venue: "A", MakerRate: 0.001, TakerRate: 0.001},
		{Venue: "B", MakerRate: 0.001, TakerRate: 0.001},
	}, 0.001, 0.15)
}

func newTestRiskConfig() RiskConfig {
	cfg := DefaultRiskConfig()
	cfg.NoDataTimeout = 0
	return cfg
}

func newTestRisk(t *testing.T, cfg RiskConfig, overrides map[string]float64) (*RiskManager, *params.Store, *testClock) {
	t.Helper()
	store := newTestParams(t, overrides)
	clock := newTestClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	rm := NewRiskManager(store, newTestCost(), NewInFlight(), cfg, zap.NewNop())
	rm.SetClock(clock.Now)
	rm.SetBalances("A", map[string]float64{"USDT": 1000})
	rm.SetBalances("B", map[string]float64{"BTC": 10})
	return rm, store, clock
}

func testOpportunity(size float64) models.Opportunity {
	return models.Opportunity{
		Symbol:        testSymbol,
		BuyVenue:      "A",
		SellVenue:     "B",
		BuyPrice:      100,
		SellPrice:     101,
		RawSpreadPct:  1,
		NetSpreadPct:  0.5,
		SuggestedSize: size,
	}
}

// newTestVenues: покупка на A по 100, продажа на B по 101
func newTestVenues() (*exchange.Paper, *exchange.Paper) {
	a := exchange.NewPaper("A", 0.001, 0.001)
	a.SetQuote(testSymbol, 99.9, 100)
	a.SetBalance("USDT", 1000)

	b := exchange.NewPaper("B", 0.001, 0.001)
	b.SetQuote(testSymbol, 101, 101.1)
	b.SetBalance("BTC", 10)
	return a, b
}

func drainEvents(rm *RiskManager) []RiskEvent {
	var out []RiskEvent
	for {
		select {
		case ev := <-rm.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
