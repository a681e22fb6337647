package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"spreadarb/internal/models"
)

const paperDepth = 1e6

// Paper - биржа в памяти: стакан задается извне, ордера исполняются по лучшей цене.
// Используется для бумажной торговли и в тестах. Безопасна для конкурентного использования.
type Paper struct {
	name string

	mu       sync.Mutex
	books    map[string]OrderBook
	balances map[string]float64
	fees     models.FeeSchedule
	orders   []Order
	seq      int

	// очереди ошибок по операциям: "book", "balance", "buy", "sell", "order"
	failures map[string][]error
	hang     map[string]bool

	now func() time.Time
}

// NewPaper создает paper биржу с заданными комиссиями
func NewPaper(name string, makerFee, takerFee float64) *Paper {
	return &Paper{
		name:     name,
		books:    make(map[string]OrderBook),
		balances: make(map[string]float64),
		fees:     models.FeeSchedule{Venue: name, MakerRate: makerFee, TakerRate: takerFee},
		failures: make(map[string][]error),
		hang:     make(map[string]bool),
		now:      time.Now,
	}
}

// SetQuote выставляет лучший bid/ask по символу
func (p *Paper) SetQuote(symbol string, bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	p.books[symbol] = OrderBook{
		Symbol: symbol,
		Bids:   []PriceLevel{{Price: bid, Volume: paperDepth}},
		Asks:   []PriceLevel{{Price: ask, Volume: paperDepth}},
	}
}

// RemoveQuote убирает символ из стакана: GetOrderBook вернет ошибку
func (p *Paper) RemoveQuote(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.books, strings.ToUpper(symbol))
}

// SetBalance задает остаток актива
func (p *Paper) SetBalance(asset string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[strings.ToUpper(asset)] = amount
}

// Balance возвращает остаток актива без учета ошибок
func (p *Paper) Balance(asset string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[strings.ToUpper(asset)]
}

// FailNext ставит ошибки в очередь для операции op: каждый вызов забирает одну
func (p *Paper) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], errs...)
}

// Hang заставляет операцию op ждать отмены контекста.
// "buy_confirm" и "sell_confirm" исполняют ордер, но теряют подтверждение:
// SubmitOrder ждет отмены контекста и возвращает принятый ордер без статуса.
func (p *Paper) Hang(op string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hang[op] = on
}

// Orders возвращает копию истории ордеров
func (p *Paper) Orders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// SetClock подменяет часы
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// intercept возвращает запланированную ошибку операции. Вызывается под p.mu.
func (p *Paper) intercept(ctx context.Context, op string) error {
	if queue := p.failures[op]; len(queue) > 0 {
		p.failures[op] = queue[1:]
		return queue[0]
	}
	if p.hang[op] {
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		return ctx.Err()
	}
	return nil
}

func (p *Paper) GetName() string {
	return p.name
}

func (p *Paper) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.intercept(ctx, "book"); err != nil {
		return nil, err
	}

	book, ok := p.books[strings.ToUpper(symbol)]
	if !ok {
		return nil, &ExchangeError{Exchange: p.name, Message: "no quote for " + symbol}
	}
	book.Timestamp = p.now()
	return &book, nil
}

func (p *Paper) GetFees(ctx context.Context) (*models.FeeSchedule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fees := p.fees
	return &fees, nil
}

func (p *Paper) GetBalance(ctx context.Context, asset string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.intercept(ctx, "balance"); err != nil {
		return 0, err
	}
	return p.balances[strings.ToUpper(asset)], nil
}

// SubmitOrder исполняет IOC ордер: покупка при price >= ask, продажа при price <= bid.
// Иначе ордер отменяется без исполнения. Комиссия тейкера списывается в котируемой валюте.
func (p *Paper) SubmitOrder(ctx context.Context, symbol, side string, amount, price float64) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if side != SideBuy && side != SideSell {
		return nil, &ExchangeError{Exchange: p.name, Message: "unknown side " + side, Permanent: true}
	}
	if err := p.intercept(ctx, side); err != nil {
		return nil, err
	}
	if amount <= 0 || price <= 0 {
		return nil, &ExchangeError{Exchange: p.name, Message: "amount and price must be positive", Permanent: true}
	}

	symbol = strings.ToUpper(symbol)
	book, ok := p.books[symbol]
	if !ok {
		return nil, &ExchangeError{Exchange: p.name, Message: "no quote for " + symbol, Permanent: true}
	}

	p.seq++
	now := p.now()
	order := Order{
		ID:        fmt.Sprintf("%s-%d", p.name, p.seq),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  amount,
		Status:    OrderStatusCancelled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	base, quote := SplitSymbol(symbol)

	switch side {
	case SideBuy:
		ask := book.Asks[0].Price
		if price >= ask {
			cost := amount * ask
			fee := cost * p.fees.TakerRate
			if p.balances[quote] < cost+fee {
				return nil, &ExchangeError{Exchange: p.name, Message: "insufficient " + quote + " balance", Permanent: true}
			}
			p.balances[quote] -= cost + fee
			p.balances[base] += amount
			order.Status = OrderStatusFilled
			order.FilledQty = amount
			order.AvgFillPrice = ask
		}
	case SideSell:
		bid := book.Bids[0].Price
		if price <= bid {
			if p.balances[base] < amount {
				return nil, &ExchangeError{Exchange: p.name, Message: "insufficient " + base + " balance", Permanent: true}
			}
			revenue := amount * bid
			p.balances[base] -= amount
			p.balances[quote] += revenue - revenue*p.fees.TakerRate
			order.Status = OrderStatusFilled
			order.FilledQty = amount
			order.AvgFillPrice = bid
		}
	}

	p.orders = append(p.orders, order)

	if p.hang[side+"_confirm"] {
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		accepted := Order{
			ID:        order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Price:     order.Price,
			Quantity:  order.Quantity,
			CreatedAt: order.CreatedAt,
			UpdatedAt: order.CreatedAt,
		}
		return &accepted, fmt.Errorf("order %s not confirmed: %w", order.ID, ctx.Err())
	}
	return &order, nil
}

// GetOrder возвращает ордер из истории. IOC ордер paper биржи финален сразу после размещения.
func (p *Paper) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.intercept(ctx, "order"); err != nil {
		return nil, err
	}
	for _, o := range p.orders {
		if o.ID == orderID {
			order := o
			return &order, nil
		}
	}
	return nil, &ExchangeError{Exchange: p.name, Message: "order " + orderID + " not found", Permanent: true}
}

func (p *Paper) Close() error {
	return nil
}
