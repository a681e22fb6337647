package exchange

import (
	"context"
	"errors"
	"strings"
	"sync"

	"spreadarb/internal/models"
)

// ErrDryRunOrder - попытка разместить ордер в режиме DRY_RUN
var ErrDryRunOrder = errors.New("order submission is disabled in dry-run mode")

// DryRun оборачивает настоящую биржу: рыночные данные и комиссии идут с биржи,
// балансы берутся из файла бирж, ордера не размещаются.
type DryRun struct {
	inner Exchange

	mu       sync.RWMutex
	balances map[string]float64
}

// NewDryRun создает обертку с бумажными балансами
func NewDryRun(inner Exchange, balances map[string]float64) *DryRun {
	b := make(map[string]float64, len(balances))
	for asset, amount := range balances {
		b[strings.ToUpper(asset)] = amount
	}
	return &DryRun{inner: inner, balances: b}
}

func (d *DryRun) GetName() string {
	return d.inner.GetName()
}

func (d *DryRun) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	return d.inner.GetOrderBook(ctx, symbol)
}

func (d *DryRun) GetFees(ctx context.Context) (*models.FeeSchedule, error) {
	return d.inner.GetFees(ctx)
}

func (d *DryRun) GetBalance(ctx context.Context, asset string) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.balances[strings.ToUpper(asset)], nil
}

func (d *DryRun) SubmitOrder(ctx context.Context, symbol, side string, amount, price float64) (*Order, error) {
	return nil, &ExchangeError{Exchange: d.GetName(), Message: "dry run", Permanent: true, Original: ErrDryRunOrder}
}

func (d *DryRun) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	return nil, &ExchangeError{Exchange: d.GetName(), Message: "dry run", Permanent: true, Original: ErrDryRunOrder}
}

func (d *DryRun) Close() error {
	return d.inner.Close()
}
