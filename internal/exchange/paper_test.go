package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spreadarb/internal/config"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol, base, quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ethusdc", "ETH", "USDC"},
		{"ETH/BTC", "ETH", "BTC"},
		{"SOL-USD", "SOL", "USD"},
		{"XYZ", "XYZ", "USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote := SplitSymbol(tt.symbol)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.quote, quote)
		})
	}
}

func TestPaperFillsAtBestPrice(t *testing.T) {
	p := NewPaper("paper", 0.001, 0.001)
	p.SetQuote("BTCUSDT", 99, 100)
	p.SetBalance("USDT", 1000)

	order, err := p.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 1, 101)
	require.NoError(t, err)
	assert.True(t, order.Filled())
	assert.Equal(t, 100.0, order.AvgFillPrice)
	assert.InDelta(t, 899.9, p.Balance("USDT"), 1e-9)
	assert.Equal(t, 1.0, p.Balance("BTC"))

	order, err = p.SubmitOrder(context.Background(), "BTCUSDT", SideSell, 1, 98)
	require.NoError(t, err)
	assert.True(t, order.Filled())
	assert.Equal(t, 99.0, order.AvgFillPrice)
	assert.InDelta(t, 899.9+99-0.099, p.Balance("USDT"), 1e-9)
	assert.Len(t, p.Orders(), 2)
}

func TestPaperIOCWithoutCross(t *testing.T) {
	p := NewPaper("paper", 0, 0.001)
	p.SetQuote("BTCUSDT", 99, 100)
	p.SetBalance("USDT", 1000)

	order, err := p.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 1, 99.5)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCancelled, order.Status)
	assert.Equal(t, 1000.0, p.Balance("USDT"))
}

func TestPaperInsufficientBalance(t *testing.T) {
	p := NewPaper("paper", 0, 0.001)
	p.SetQuote("BTCUSDT", 99, 100)

	_, err := p.SubmitOrder(context.Background(), "BTCUSDT", SideSell, 1, 99)
	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.True(t, exErr.Permanent)
}

func TestPaperInjectedFailures(t *testing.T) {
	p := NewPaper("paper", 0, 0)
	p.SetQuote("BTCUSDT", 99, 100)
	p.SetBalance("BTC", 1)

	boom := errors.New("boom")
	p.FailNext(SideSell, boom)

	_, err := p.SubmitOrder(context.Background(), "BTCUSDT", SideSell, 1, 99)
	assert.ErrorIs(t, err, boom)

	order, err := p.SubmitOrder(context.Background(), "BTCUSDT", SideSell, 1, 99)
	require.NoError(t, err)
	assert.True(t, order.Filled())
}

func TestPaperHangUntilCancel(t *testing.T) {
	p := NewPaper("paper", 0, 0)
	p.SetQuote("BTCUSDT", 99, 100)
	p.Hang("book", true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.GetOrderBook(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// остальные операции не заблокированы
	_, err = p.GetBalance(context.Background(), "USDT")
	assert.NoError(t, err)
}

func TestPaperLostConfirmation(t *testing.T) {
	p := NewPaper("paper", 0, 0.001)
	p.SetQuote("BTCUSDT", 99, 100)
	p.SetBalance("USDT", 1000)
	p.Hang("buy_confirm", true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	order, err := p.SubmitOrder(ctx, "BTCUSDT", SideBuy, 2, 101)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, order)
	assert.True(t, order.Unconfirmed())
	assert.Zero(t, order.FilledQty)

	// на бирже ордер исполнен
	assert.Equal(t, 2.0, p.Balance("BTC"))

	resolved, err := p.GetOrder(context.Background(), "BTCUSDT", order.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Filled())
	assert.Equal(t, 2.0, resolved.FilledQty)
	assert.Equal(t, 100.0, resolved.AvgFillPrice)

	_, err = p.GetOrder(context.Background(), "BTCUSDT", "missing")
	assert.Error(t, err)
}

func TestPaperUnknownSymbol(t *testing.T) {
	p := NewPaper("paper", 0, 0)
	_, err := p.GetOrderBook(context.Background(), "DOGEUSDT")
	assert.Error(t, err)
}

func TestDryRunRefusesOrders(t *testing.T) {
	inner := NewPaper("bybit", 0.001, 0.001)
	inner.SetQuote("BTCUSDT", 99, 100)

	d := NewDryRun(inner, map[string]float64{"usdt": 5000})

	balance, err := d.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, balance)

	book, err := d.GetOrderBook(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, book.Asks[0].Price)

	_, err = d.SubmitOrder(context.Background(), "BTCUSDT", SideBuy, 1, 100)
	assert.ErrorIs(t, err, ErrDryRunOrder)
	assert.Empty(t, inner.Orders())

	_, err = d.GetOrder(context.Background(), "BTCUSDT", "1")
	assert.ErrorIs(t, err, ErrDryRunOrder)
}

func TestFactory(t *testing.T) {
	cfgs := []config.VenueConfig{
		{Name: "bybit", Kind: config.VenueKindBybit, TakerFee: 0.001, PaperBalances: map[string]float64{"USDT": 100}},
		{Name: "paper", Kind: config.VenueKindPaper, TakerFee: 0.002, PaperQuotes: map[string][2]float64{"BTCUSDT": {99, 100}}},
	}

	venues, err := NewAll(cfgs, true, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, venues, 2)

	_, isDryRun := venues["bybit"].(*DryRun)
	assert.True(t, isDryRun)

	book, err := venues["paper"].GetOrderBook(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 99.0, book.Bids[0].Price)

	_, err = New(config.VenueConfig{Name: "x", Kind: "kraken"}, true, zap.NewNop())
	assert.Error(t, err)
}
