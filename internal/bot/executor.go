package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/pkg/retry"
)

var (
	// ErrUnknownVenue - возможность ссылается на биржу без адаптера
	ErrUnknownVenue = errors.New("unknown venue")
	// ErrInvalidSize - нулевой или отрицательный объем
	ErrInvalidSize = errors.New("trade size must be positive")

	errSellNotFilled = errors.New("sell leg not fully filled")
	errOrderPending  = errors.New("order state is not final")
)

// TradeLedger - журнал сделок
type TradeLedger interface {
	AppendTrade(ctx context.Context, t *models.Trade) error
}

// Suspender сохраняет приостановку символа
type Suspender interface {
	Suspend(ctx context.Context, symbol, reason, tradeID string, until *time.Time) error
}

// Alerter доставляет уведомления оператору
type Alerter interface {
	Notify(ctx context.Context, n *models.Notification)
}

// ExecutorConfig - конфигурация исполнения
type ExecutorConfig struct {
	DryRun bool
	// SellLegMaxAttempts - попыток продажи до фиксации unhedged
	SellLegMaxAttempts int
	SellLegBackoff     time.Duration
	// LegTimeout - таймаут одной попытки ноги
	LegTimeout time.Duration
	// ResolveTimeout - сколько выяснять итог ордера, принятого без подтверждения
	ResolveTimeout time.Duration
	// DisableFor - приостановка символа после повторных неудачных покупок
	DisableFor time.Duration
	// Знаков после запятой в количестве и цене ордеров по биржам.
	// Биржа без записи получает значения без округления.
	QtyPrecision   map[string]int32
	PricePrecision map[string]int32
}

// ExecutorDeps - зависимости исполнителя
type ExecutorDeps struct {
	Venues    map[string]exchange.Exchange
	Cost      *CostModel
	Risk      *RiskManager
	InFlight  *InFlight
	Ledger    TradeLedger
	Suspender Suspender
	Alerter   Alerter
	Logger    *zap.Logger
}

// Executor исполняет одобренные возможности: ноги строго последовательно,
// продажа только после подтвержденной покупки.
type Executor struct {
	config ExecutorConfig
	deps   ExecutorDeps

	// commitMu делает запись в журнал и обновление счетчиков риска атомарными
	commitMu sync.Mutex

	now    func() time.Time
	logger *zap.Logger
}

// NewExecutor создает исполнителя
func NewExecutor(config ExecutorConfig, deps ExecutorDeps) *Executor {
	if config.SellLegMaxAttempts <= 0 {
		config.SellLegMaxAttempts = 4
	}
	if config.SellLegBackoff <= 0 {
		config.SellLegBackoff = 500 * time.Millisecond
	}
	if config.LegTimeout <= 0 {
		config.LegTimeout = 10 * time.Second
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 3 * config.LegTimeout
	}
	if config.DisableFor <= 0 {
		config.DisableFor = 6 * time.Hour
	}
	if deps.InFlight == nil {
		deps.InFlight = NewInFlight()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		config: config,
		deps:   deps,
		now:    time.Now,
		logger: logger.With(zap.String("component", "executor")),
	}
}

// Execute исполняет возможность объемом size и возвращает финальную сделку.
// Ошибка возвращается только если сделка не создавалась (символ занят, неизвестная биржа).
func (e *Executor) Execute(ctx context.Context, opp models.Opportunity, size float64) (*models.Trade, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	var buyVenue, sellVenue exchange.Exchange
	if !e.config.DryRun {
		var ok bool
		if buyVenue, ok = e.deps.Venues[opp.BuyVenue]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, opp.BuyVenue)
		}
		if sellVenue, ok = e.deps.Venues[opp.SellVenue]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, opp.SellVenue)
		}
	}

	if !e.deps.InFlight.TryAcquire(opp.Symbol) {
		return nil, ErrSymbolInFlight
	}
	defer e.deps.InFlight.Release(opp.Symbol)

	// ноги доводятся до конца даже если бюджет цикла истек
	ctx = context.WithoutCancel(ctx)

	trade := &models.Trade{
		ID:           uuid.NewString(),
		Symbol:       opp.Symbol,
		BuyVenue:     opp.BuyVenue,
		SellVenue:    opp.SellVenue,
		Amount:       size,
		BuyPrice:     opp.BuyPrice,
		SellPrice:    opp.SellPrice,
		NetSpreadPct: opp.NetSpreadPct,
		DryRun:       e.config.DryRun,
		Outcome:      models.OutcomePending,
		Timestamp:    e.now().UTC(),
	}

	log := e.logger.With(
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("buy", trade.BuyVenue),
		zap.String("sell", trade.SellVenue))

	var err error
	if e.config.DryRun {
		err = e.simulate(trade)
	} else {
		err = e.executeLegs(ctx, trade, opp, buyVenue, sellVenue, log)
	}
	if err != nil {
		// нарушение переходов исхода - ошибка программы, сделку все равно фиксируем
		log.Error("trade state error", zap.Error(err))
	}

	e.commit(ctx, trade, log)

	if trade.Outcome == models.OutcomeUnhedged {
		e.escalate(ctx, trade, log)
	}

	log.Info("trade finalized",
		zap.String("outcome", trade.Outcome),
		zap.Float64("amount", trade.Amount),
		zap.Float64("pnl", trade.PnlUSD),
		zap.Int("attempts", trade.Attempts),
		zap.Bool("dry_run", trade.DryRun))

	return trade, nil
}

// simulate строит сделку DRY_RUN по одобренным ценам без обращения к биржам
func (e *Executor) simulate(trade *models.Trade) error {
	if err := advance(trade, models.OutcomeBuyFilled); err != nil {
		return err
	}
	trade.PnlUSD, trade.FeesUSD = e.deps.Cost.ModeledPnl(
		trade.BuyPrice, trade.SellPrice, trade.Amount,
		trade.BuyVenue, trade.SellVenue, e.deps.Cost.SlippagePct())
	trade.Attempts = 1
	return advance(trade, models.OutcomeCompleted)
}

// limitPrices - лимитные цены ног с допуском на проскальзывание, поровну на ногу.
// Цена покупки округляется вверх до шага цены биржи, цена продажи вниз.
func (e *Executor) limitPrices(opp models.Opportunity) (buy, sell float64) {
	half := e.deps.Cost.SlippagePct() / 200
	buy = e.orderPrice(opp.BuyVenue, opp.BuyPrice*(1+half), true)
	sell = e.orderPrice(opp.SellVenue, opp.SellPrice*(1-half), false)
	return buy, sell
}

func (e *Executor) orderPrice(venue string, price float64, up bool) float64 {
	places, ok := e.config.PricePrecision[venue]
	if !ok || places < 0 {
		return price
	}
	d := decimal.NewFromFloat(price)
	if up {
		d = d.RoundCeil(places)
	} else {
		d = d.RoundFloor(places)
	}
	f, _ := d.Float64()
	return f
}

// orderQty обрезает количество до шага лота биржи.
// Шум float на 8 знаков глубже шага отбрасывается до обрезки: 1.2999999999999998 -> 1.3.
func (e *Executor) orderQty(venue string, qty float64) float64 {
	places, ok := e.config.QtyPrecision[venue]
	if !ok || places < 0 {
		return qty
	}
	f, _ := decimal.NewFromFloat(qty).Round(places + 8).Truncate(places).Float64()
	return f
}

// resolveOrder выясняет итог ордера, который биржа приняла, но не подтвердила.
// nil - итог узнать не удалось.
func (e *Executor) resolveOrder(ctx context.Context, venue exchange.Exchange, symbol string, order *exchange.Order, log *zap.Logger) *exchange.Order {
	resolveCtx, cancel := context.WithTimeout(ctx, e.config.ResolveTimeout)
	defer cancel()

	cfg := retry.DefaultConfig()
	cfg.RetryIf = retry.RetryIfNotContext
	resolved, err := retry.DoWithResult(resolveCtx, cfg, func(ctx context.Context) (*exchange.Order, error) {
		o, err := venue.GetOrder(ctx, symbol, order.ID)
		if err != nil {
			return nil, err
		}
		if o == nil || o.Status == "" {
			return nil, errOrderPending
		}
		return o, nil
	})
	if err != nil {
		log.Error("order state unknown",
			zap.String("venue", venue.GetName()),
			zap.String("order_id", order.ID),
			zap.Error(err))
		return nil
	}

	log.Info("order state resolved",
		zap.String("venue", venue.GetName()),
		zap.String("order_id", order.ID),
		zap.String("status", resolved.Status),
		zap.Float64("filled", resolved.FilledQty))
	return resolved
}

func (e *Executor) executeLegs(ctx context.Context, trade *models.Trade, opp models.Opportunity, buyVenue, sellVenue exchange.Exchange, log *zap.Logger) error {
	buyLimit, sellLimit := e.limitPrices(opp)

	trade.Amount = e.orderQty(trade.BuyVenue, trade.Amount)
	if trade.Amount <= 0 {
		trade.Attempts = 0
		trade.Error = "buy leg: size below venue lot precision"
		return advance(trade, models.OutcomeFailed)
	}

	// покупка
	buyCtx, cancel := context.WithTimeout(ctx, e.config.LegTimeout)
	buyOrder, err := buyVenue.SubmitOrder(buyCtx, trade.Symbol, exchange.SideBuy, trade.Amount, buyLimit)
	cancel()

	if err != nil {
		e.deps.Risk.RecordAPIError(trade.BuyVenue, err)
	}
	if err != nil && buyOrder.Unconfirmed() {
		resolved := e.resolveOrder(ctx, buyVenue, trade.Symbol, buyOrder, log)
		if resolved == nil {
			// биржа могла исполнить ордер: позиция считается открытой и не хеджируется вслепую
			trade.Attempts = 1
			trade.SellPrice = 0
			trade.Error = fmt.Sprintf("buy leg: order %s state unknown: %v", buyOrder.ID, err)
			if err := advance(trade, models.OutcomeBuyFilled); err != nil {
				return err
			}
			return advance(trade, models.OutcomeUnhedged)
		}
		buyOrder, err = resolved, nil
	}

	// исполненная часть хеджируется даже если биржа вернула ошибку
	if buyOrder == nil || buyOrder.FilledQty <= 0 {
		trade.Attempts = 1
		switch {
		case err != nil:
			trade.Error = "buy leg: " + err.Error()
		case buyOrder == nil:
			trade.Error = "buy leg: no order returned"
		default:
			trade.Error = "buy leg not filled: " + buyOrder.Status
		}
		return advance(trade, models.OutcomeFailed)
	}
	if err != nil {
		log.Warn("buy leg returned error after partial fill", zap.Error(err))
	}

	trade.Amount = buyOrder.FilledQty
	if buyOrder.AvgFillPrice > 0 {
		trade.BuyPrice = buyOrder.AvgFillPrice
	}
	if err := advance(trade, models.OutcomeBuyFilled); err != nil {
		return err
	}
	log.Info("buy leg filled", zap.Float64("qty", trade.Amount), zap.Float64("price", trade.BuyPrice))

	// продажа с ограниченным числом повторов
	remaining := e.orderQty(trade.SellVenue, trade.Amount)
	dust := trade.Amount * 1e-9
	var soldQty, soldValue float64
	attempts := 0

	cfg := retry.HedgeConfig(e.config.SellLegMaxAttempts, e.config.SellLegBackoff)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("sell leg retry",
			zap.Int("attempt", attempt),
			zap.Float64("remaining", remaining),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		if remaining <= dust {
			return nil
		}
		attempts++
		legCtx, cancel := context.WithTimeout(ctx, e.config.LegTimeout)
		defer cancel()

		order, err := sellVenue.SubmitOrder(legCtx, trade.Symbol, exchange.SideSell, remaining, sellLimit)
		if err != nil {
			e.deps.Risk.RecordAPIError(trade.SellVenue, err)
			if order.Unconfirmed() {
				resolved := e.resolveOrder(ctx, sellVenue, trade.Symbol, order, log)
				if resolved == nil {
					// повтор мог бы продать больше купленного
					return retry.Permanent(fmt.Errorf("order %s state unknown: %w", order.ID, err))
				}
				order, err = resolved, nil
			}
		}
		if order != nil && order.FilledQty > 0 {
			price := order.AvgFillPrice
			if price <= 0 {
				price = sellLimit
			}
			soldQty += order.FilledQty
			soldValue += order.FilledQty * price
			remaining = e.orderQty(trade.SellVenue, remaining-order.FilledQty)
		}
		if err != nil {
			return err
		}
		if remaining > dust {
			return errSellNotFilled
		}
		return nil
	})

	trade.Attempts = attempts
	if soldQty > 0 {
		trade.SellPrice = soldValue / soldQty
	} else {
		trade.SellPrice = 0
	}
	trade.PnlUSD, trade.FeesUSD = e.deps.Cost.LegPnl(
		trade.BuyPrice, trade.Amount, trade.SellPrice, soldQty,
		trade.BuyVenue, trade.SellVenue)

	if err != nil {
		trade.Error = fmt.Sprintf("sell leg: %v (sold %.8f of %.8f)", err, soldQty, trade.Amount)
		return advance(trade, models.OutcomeUnhedged)
	}
	return advance(trade, models.OutcomeCompleted)
}

// commit записывает сделку в журнал и обновляет счетчики риска под одним замком
func (e *Executor) commit(ctx context.Context, trade *models.Trade, log *zap.Logger) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.deps.Ledger != nil {
		appendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := e.deps.Ledger.AppendTrade(appendCtx, trade)
		cancel()
		if err != nil {
			log.Error("failed to append trade to ledger", zap.Error(err))
			e.alertLedgerGap(ctx, trade, err)
		}
	}

	RecordTrade(trade)
	if !e.deps.Risk.RecordTrade(trade) {
		return
	}

	until := e.now().Add(e.config.DisableFor).UTC()
	reason := fmt.Sprintf("repeated failed buy legs, disabled for %s", e.config.DisableFor)
	log.Warn("symbol disabled", zap.Time("until", until))
	e.suspend(ctx, PendingSuspension{Symbol: trade.Symbol, Reason: reason, TradeID: trade.ID, Until: &until}, log)
}

// alertLedgerGap сообщает оператору о сделке, которой нет в журнале
func (e *Executor) alertLedgerGap(ctx context.Context, trade *models.Trade, err error) {
	if e.deps.Alerter == nil {
		return
	}
	e.deps.Alerter.Notify(ctx, &models.Notification{
		Timestamp: e.now().UTC(),
		Type:      models.NotificationTypeLedger,
		Severity:  models.SeverityError,
		Symbol:    trade.Symbol,
		Message:   fmt.Sprintf("trade %s (%s) is missing from the ledger: %v", trade.ID, trade.Outcome, err),
		Meta: map[string]interface{}{
			"trade_id":   trade.ID,
			"outcome":    trade.Outcome,
			"buy_venue":  trade.BuyVenue,
			"sell_venue": trade.SellVenue,
			"amount":     trade.Amount,
			"buy_price":  trade.BuyPrice,
			"sell_price": trade.SellPrice,
			"pnl_usd":    trade.PnlUSD,
			"dry_run":    trade.DryRun,
		},
	})
}

// suspend приостанавливает символ и записывает приостановку в хранилище.
// Пока запись не удалась, приостановка живет в памяти риск-менеджера.
func (e *Executor) suspend(ctx context.Context, p PendingSuspension, log *zap.Logger) {
	e.deps.Risk.SuspendUnsaved(p)
	if e.deps.Suspender == nil {
		return
	}
	if err := e.deps.Suspender.Suspend(ctx, p.Symbol, p.Reason, p.TradeID, p.Until); err != nil {
		log.Error("failed to persist suspension, keeping it in memory", zap.Error(err))
		return
	}
	e.deps.Risk.MarkSaved(p.Symbol)
}

// PersistUnsaved повторяет запись приостановок, которые не удалось сохранить
func (e *Executor) PersistUnsaved(ctx context.Context) {
	if e.deps.Suspender == nil {
		return
	}
	for _, p := range e.deps.Risk.UnsavedSuspensions() {
		if err := e.deps.Suspender.Suspend(ctx, p.Symbol, p.Reason, p.TradeID, p.Until); err != nil {
			e.logger.Warn("suspension still not persisted", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		e.deps.Risk.MarkSaved(p.Symbol)
		e.logger.Info("suspension persisted", zap.String("symbol", p.Symbol))
	}
}

// escalate приостанавливает символ до снятия оператором и отправляет уведомление
func (e *Executor) escalate(ctx context.Context, trade *models.Trade, log *zap.Logger) {
	log.Error("trade unhedged, symbol suspended", zap.String("error", trade.Error))
	e.suspend(ctx, PendingSuspension{Symbol: trade.Symbol, Reason: "unhedged trade " + trade.ID, TradeID: trade.ID}, log)

	if e.deps.Alerter != nil {
		e.deps.Alerter.Notify(ctx, &models.Notification{
			Timestamp: e.now().UTC(),
			Type:      models.NotificationTypeUnhedged,
			Severity:  models.SeverityError,
			Symbol:    trade.Symbol,
			Message: fmt.Sprintf("%s: %.8f bought on %s is not hedged on %s after %d attempts (%s); symbol suspended until cleared",
				trade.Symbol, trade.Amount, trade.BuyVenue, trade.SellVenue, trade.Attempts, trade.Error),
			Meta: map[string]interface{}{
				"trade_id":   trade.ID,
				"buy_venue":  trade.BuyVenue,
				"sell_venue": trade.SellVenue,
				"amount":     trade.Amount,
				"buy_price":  trade.BuyPrice,
				"attempts":   trade.Attempts,
				"error":      trade.Error,
			},
		})
	}
}
