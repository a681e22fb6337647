package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"spreadarb/internal/models"
)

// Exchange - минимальный набор операций биржи, нужный арбитражному ядру
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetOrderBook получает верх стакана по символу
	GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error)

	// GetFees возвращает комиссии maker/taker в долях
	GetFees(ctx context.Context) (*models.FeeSchedule, error)

	// GetBalance возвращает свободный остаток актива (USDT, BTC, ...)
	GetBalance(ctx context.Context, asset string) (float64, error)

	// SubmitOrder размещает лимитный IOC ордер и ждет подтверждения исполнения
	SubmitOrder(ctx context.Context, symbol, side string, amount, price float64) (*Order, error)

	// GetOrder возвращает состояние принятого ордера. Ордер, который еще не финален,
	// снимается с биржи. Пустой Status - состояние пока неизвестно.
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)

	// Close закрывает соединения с биржей
	Close() error
}

// OrderBook представляет стакан ордеров
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // по убыванию цены
	Asks      []PriceLevel `json:"asks"` // по возрастанию цены
	Timestamp time.Time    `json:"timestamp"`
}

// PriceLevel представляет уровень цены в стакане
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// ErrEmptyBook - у стакана нет одной из сторон
var ErrEmptyBook = errors.New("order book has an empty side")

// Snapshot превращает стакан в снимок лучших цен биржи venue
func (ob *OrderBook) Snapshot(venue string, fetchedAt time.Time) (models.MarketSnapshot, error) {
	if ob == nil || len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return models.MarketSnapshot{}, ErrEmptyBook
	}
	return models.MarketSnapshot{
		Venue:     venue,
		Symbol:    ob.Symbol,
		BestBid:   ob.Bids[0].Price,
		BestAsk:   ob.Asks[0].Price,
		BidSize:   ob.Bids[0].Volume,
		AskSize:   ob.Asks[0].Volume,
		FetchedAt: fetchedAt,
	}, nil
}

// Order - результат размещения ордера
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Filled - ордер исполнен полностью
func (o *Order) Filled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// Unconfirmed - биржа приняла ордер, но его финальное состояние не получено
func (o *Order) Unconfirmed() bool {
	return o != nil && o.ID != "" && o.Status == ""
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	// Permanent - повтор запроса не поможет (нет средств, неверный символ, отказ в доступе)
	Permanent bool
	Original  error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": " + e.Message + " (code " + e.Code + ")"
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable используется пакетом retry
func (e *ExchangeError) Retryable() bool {
	return !e.Permanent
}

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Статусы ордера
const (
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "USD", "EUR", "BTC", "ETH"}

// SplitSymbol делит символ на базовый и котируемый актив: BTCUSDT -> BTC, USDT.
// Для неизвестной котируемой валюты считается USDT.
func SplitSymbol(symbol string) (base, quote string) {
	symbol = strings.ToUpper(symbol)
	if i := strings.IndexAny(symbol, "/-_"); i > 0 {
		return symbol[:i], symbol[i+1:]
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q
		}
	}
	return symbol, "USDT"
}
