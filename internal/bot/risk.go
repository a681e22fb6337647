package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
	"spreadarb/pkg/utils"
)

// RejectReason - причина отклонения возможности
type RejectReason string

// Причины отклонения в порядке проверки
const (
	ReasonBreakerTripped      RejectReason = "breaker_tripped"
	ReasonSymbolSuspended     RejectReason = "symbol_suspended"
	ReasonInFlight            RejectReason = "in_flight"
	ReasonVolatility          RejectReason = "volatility"
	ReasonCapitalCap          RejectReason = "capital_cap"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonBalanceUsage        RejectReason = "balance_usage"
	ReasonSymbolExposure      RejectReason = "symbol_exposure"
	ReasonBelowMinSize        RejectReason = "below_min_size"
)

// Rejection - отказ риск-менеджера
type Rejection struct {
	Reason  RejectReason       `json:"reason"`
	Breaker models.BreakerKind `json:"breaker,omitempty"` // только для breaker_tripped
	Detail  string             `json:"detail"`
}

func (r *Rejection) Error() string {
	if r.Breaker != "" {
		return fmt.Sprintf("rejected: %s (%s): %s", r.Reason, r.Breaker, r.Detail)
	}
	return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
}

// Decision - результат Evaluate: либо Approved с объемом, либо Rejection
type Decision struct {
	Approved  bool
	Size      float64
	Rejection *Rejection
}

func approve(size float64) Decision {
	return Decision{Approved: true, Size: size}
}

func reject(reason RejectReason, format string, args ...interface{}) Decision {
	return Decision{Rejection: &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}}
}

// ParameterSource - живые значения риск-параметров
type ParameterSource interface {
	MustGet(name string) float64
}

// RiskConfig - конфигурация риск-менеджера
type RiskConfig struct {
	APIErrorLimit    int
	APIErrorWindow   time.Duration
	NoDataTimeout    time.Duration
	VolatilityWindow int
	MinPositionUSD   float64

	// FailureLimit неудачных покупок по символу за FailureWindow приостанавливают символ на DisableFor
	FailureLimit  int
	FailureWindow time.Duration
	DisableFor    time.Duration
}

// DefaultRiskConfig возвращает конфигурацию по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		APIErrorLimit:    20,
		APIErrorWindow:   5 * time.Minute,
		NoDataTimeout:    120 * time.Second,
		VolatilityWindow: 10,
		MinPositionUSD:   10,
		FailureLimit:     2,
		FailureWindow:    time.Hour,
		DisableFor:       6 * time.Hour,
	}
}

// RiskManager - единственный владелец состояния выключателей.
// Все изменения состояния идут через его методы под одним мьютексом.
type RiskManager struct {
	mu    sync.Mutex
	state *CircuitBreakerState

	balances    map[string]map[string]float64 // биржа -> актив -> остаток
	exposure    map[string]float64            // символ -> нотионал за UTC день
	exposureDay string
	suspended   map[string]*time.Time
	unsaved     map[string]PendingSuspension
	failures    map[string][]time.Time

	params   ParameterSource
	cost     *CostModel
	vol      *VolatilityTracker
	inflight *InFlight

	events chan RiskEvent
	config RiskConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewRiskManager создает риск-менеджер
func NewRiskManager(p ParameterSource, cost *CostModel, inflight *InFlight, config RiskConfig, logger *zap.Logger) *RiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	return &RiskManager{
		state:       newCircuitBreakerState(now),
		balances:    make(map[string]map[string]float64),
		exposure:    make(map[string]float64),
		exposureDay: utils.DayKey(now),
		suspended:   make(map[string]*time.Time),
		unsaved:     make(map[string]PendingSuspension),
		failures:    make(map[string][]time.Time),
		params:      p,
		cost:        cost,
		vol:         NewVolatilityTracker(config.VolatilityWindow),
		inflight:    inflight,
		events:      make(chan RiskEvent, 64),
		config:      config,
		now:         time.Now,
		logger:      logger.With(zap.String("component", "risk")),
	}
}

// SetClock подменяет часы и перезапускает окна от нового времени
func (rm *RiskManager) SetClock(now func() time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.now = now
	rm.state = newCircuitBreakerState(now())
	rm.exposureDay = utils.DayKey(now())
}

// Events - канал переходов выключателей
func (rm *RiskManager) Events() <-chan RiskEvent {
	return rm.events
}

// Volatility возвращает общий трекер волатильности
func (rm *RiskManager) Volatility() *VolatilityTracker {
	return rm.vol
}

func (rm *RiskManager) limits() breakerLimits {
	return breakerLimits{
		maxDailyLoss:   rm.params.MustGet(params.MaxDailyLossUSD),
		maxTradesHour:  int(rm.params.MustGet(params.MaxTradesPerHour)),
		apiErrorLimit:  rm.config.APIErrorLimit,
		apiErrorWindow: rm.config.APIErrorWindow,
		noDataTimeout:  rm.config.NoDataTimeout,
	}
}

// refreshLocked пересчитывает выключатели. Вызывается под rm.mu.
func (rm *RiskManager) refreshLocked(now time.Time) []RiskEvent {
	if day := utils.DayKey(now); day != rm.exposureDay {
		rm.exposureDay = day
		rm.exposure = make(map[string]float64)
	}
	return rm.state.evaluate(now, rm.limits())
}

// emit отправляет события без блокировки: при переполнении событие теряется, но пишется в лог
func (rm *RiskManager) emit(events []RiskEvent) {
	for _, ev := range events {
		if ev.Tripped {
			rm.logger.Warn("breaker tripped", zap.String("breaker", string(ev.Breaker)), zap.String("detail", ev.Detail))
		} else {
			rm.logger.Info("breaker cleared", zap.String("breaker", string(ev.Breaker)), zap.String("detail", ev.Detail))
		}
		select {
		case rm.events <- ev:
		default:
			rm.logger.Error("risk event dropped: channel full", zap.String("breaker", string(ev.Breaker)))
		}
	}
}

// Refresh проверяет условия срабатывания и снятия выключателей
func (rm *RiskManager) Refresh(now time.Time) {
	rm.mu.Lock()
	events := rm.refreshLocked(now)
	status := rm.state.status()
	rm.mu.Unlock()

	UpdateBreakers(status)
	rm.emit(events)
}

// ObservePrice добавляет mid цену в окно волатильности
func (rm *RiskManager) ObservePrice(symbol, venue string, mid float64) {
	rm.vol.Observe(symbol, venue, mid)
}

// ObserveOpportunity отмечает появление возможности (снимает NoData)
func (rm *RiskManager) ObserveOpportunity(t time.Time) {
	rm.mu.Lock()
	ev := rm.state.observeOpportunity(t)
	rm.mu.Unlock()

	if ev != nil {
		rm.emit([]RiskEvent{*ev})
	}
}

// RecordAPIError учитывает ошибку адаптера в окне ApiErrorRate
func (rm *RiskManager) RecordAPIError(venue string, err error) {
	APIErrors.WithLabelValues(venue).Inc()
	rm.logger.Debug("adapter error", zap.String("venue", venue), zap.Error(err))

	rm.mu.Lock()
	now := rm.now()
	rm.state.apiErrors = append(rm.state.apiErrors, now)
	events := rm.refreshLocked(now)
	rm.mu.Unlock()

	rm.emit(events)
}

// RecordTrade обновляет дневной PnL, часовой счетчик и дневную экспозицию.
// Теневые сделки не учитываются, покупки без исполнения не входят в часовой счетчик.
// Возвращает true, если символ набрал FailureLimit неудачных покупок за FailureWindow
// и должен быть приостановлен.
func (rm *RiskManager) RecordTrade(t *models.Trade) bool {
	if t == nil || t.Shadow {
		return false
	}

	rm.mu.Lock()
	now := rm.now()
	events := rm.refreshLocked(now)

	rm.state.dailyPnl += t.PnlUSD

	if t.Outcome == models.OutcomeCompleted || t.Outcome == models.OutcomeUnhedged {
		rm.state.tradeTimes = append(rm.state.tradeTimes, now)
		rm.exposure[t.Symbol] += t.Notional()
	}

	disable := false
	if t.Outcome == models.OutcomeFailed && rm.config.FailureLimit > 0 {
		recent := append(pruneBefore(rm.failures[t.Symbol], now.Add(-rm.config.FailureWindow)), now)
		if len(recent) >= rm.config.FailureLimit {
			disable = true
			recent = nil
		}
		rm.failures[t.Symbol] = recent
	}

	events = append(events, rm.refreshLocked(now)...)
	status := rm.state.status()
	rm.mu.Unlock()

	UpdateBreakers(status)
	rm.emit(events)
	return disable
}

// Status возвращает снимок состояния выключателей
func (rm *RiskManager) Status() models.BreakerStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.state.status()
}

// Tripped проверяет выключатель
func (rm *RiskManager) Tripped(kind models.BreakerKind) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, on := rm.state.tripped[kind]
	return on
}

// ============================================================
// Балансы, экспозиция, приостановки
// ============================================================

// SetBalances заменяет остатки биржи
func (rm *RiskManager) SetBalances(venue string, balances map[string]float64) {
	b := make(map[string]float64, len(balances))
	for asset, amount := range balances {
		b[asset] = amount
	}
	rm.mu.Lock()
	rm.balances[venue] = b
	rm.mu.Unlock()
}

// Balance возвращает известный остаток актива на бирже
func (rm *RiskManager) Balance(venue, asset string) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.balances[venue][asset]
}

// SeedExposure задает дневную экспозицию при старте (из журнала сделок)
func (rm *RiskManager) SeedExposure(exposure map[string]float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for symbol, notional := range exposure {
		rm.exposure[symbol] = notional
	}
}

// SeedDailyPnl задает дневной PnL при старте, чтобы перезапуск не сбрасывал DailyLoss
func (rm *RiskManager) SeedDailyPnl(pnl float64) {
	rm.mu.Lock()
	rm.state.dailyPnl = pnl
	events := rm.refreshLocked(rm.now())
	rm.mu.Unlock()
	rm.emit(events)
}

// Exposure возвращает нотионал символа за текущий UTC день
func (rm *RiskManager) Exposure(symbol string) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.exposure[symbol]
}

// PendingSuspension - приостановка, которую не удалось записать в хранилище
type PendingSuspension struct {
	Symbol  string
	Reason  string
	TradeID string
	Until   *time.Time // nil - до снятия оператором
}

// SetSuspensions заменяет набор приостановок актуальным списком из хранилища.
// Несохраненные приостановки остаются, пока хранилище их не покрывает.
func (rm *RiskManager) SetSuspensions(list []*models.Suspension) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := rm.now()
	rm.suspended = make(map[string]*time.Time, len(list)+len(rm.unsaved))
	for _, s := range list {
		if !s.Active(now) {
			continue
		}
		rm.suspended[s.Symbol] = s.ExpiresAt
		if p, ok := rm.unsaved[s.Symbol]; ok && covers(s.ExpiresAt, p.Until) {
			delete(rm.unsaved, s.Symbol)
		}
	}

	for symbol, p := range rm.unsaved {
		if p.Until != nil && !now.Before(*p.Until) {
			delete(rm.unsaved, symbol)
			continue
		}
		if until, ok := rm.suspended[symbol]; ok {
			rm.suspended[symbol] = laterUntil(until, p.Until)
		} else {
			rm.suspended[symbol] = p.Until
		}
	}
}

// Suspend приостанавливает символ в памяти до until (nil - до снятия оператором).
// Действующая приостановка не сокращается.
func (rm *RiskManager) Suspend(symbol string, until *time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.suspendLocked(symbol, until)
}

func (rm *RiskManager) suspendLocked(symbol string, until *time.Time) {
	if current, ok := rm.suspended[symbol]; ok && rm.suspendedLocked(symbol, rm.now()) {
		until = laterUntil(current, until)
	}
	rm.suspended[symbol] = until
}

// SuspendUnsaved приостанавливает символ и хранит приостановку до MarkSaved:
// перезагрузка списка из хранилища ее не снимает
func (rm *RiskManager) SuspendUnsaved(p PendingSuspension) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.suspendLocked(p.Symbol, p.Until)
	if prev, ok := rm.unsaved[p.Symbol]; ok {
		p.Until = laterUntil(prev.Until, p.Until)
	}
	rm.unsaved[p.Symbol] = p
}

// MarkSaved отмечает приостановку символа как записанную в хранилище
func (rm *RiskManager) MarkSaved(symbol string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.unsaved, symbol)
}

// UnsavedSuspensions возвращает несохраненные приостановки по алфавиту
func (rm *RiskManager) UnsavedSuspensions() []PendingSuspension {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make([]PendingSuspension, 0, len(rm.unsaved))
	for _, p := range rm.unsaved {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// laterUntil выбирает более позднее окончание; nil - бессрочно
func laterUntil(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if a.After(*b) {
		return a
	}
	return b
}

// covers - сохраненная приостановка stored не короче pending
func covers(stored, pending *time.Time) bool {
	if stored == nil {
		return true
	}
	return pending != nil && !stored.Before(*pending)
}

func (rm *RiskManager) suspendedLocked(symbol string, now time.Time) bool {
	until, ok := rm.suspended[symbol]
	return ok && (until == nil || now.Before(*until))
}

// Suspended проверяет приостановлен ли символ
func (rm *RiskManager) Suspended(symbol string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.suspendedLocked(symbol, rm.now())
}

// SuspendedSymbols возвращает действующие приостановки по алфавиту
func (rm *RiskManager) SuspendedSymbols() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := rm.now()
	out := make([]string, 0, len(rm.suspended))
	for symbol := range rm.suspended {
		if rm.suspendedLocked(symbol, now) {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// ============================================================
// Бюджет для детектора
// ============================================================

// liveBudget - бюджет реальной торговли: доля баланса, дневная экспозиция, блокировки
type liveBudget struct {
	rm *RiskManager
}

// Budget возвращает бюджет для Detector на основе текущих балансов и параметров
func (rm *RiskManager) Budget() SizingBudget {
	return liveBudget{rm: rm}
}

func (b liveBudget) Available(venue, asset string) float64 {
	return b.rm.Balance(venue, asset) * b.rm.params.MustGet(params.MaxBalanceUsagePerExchange)
}

func (b liveBudget) MaxNotional() float64 {
	return b.rm.params.MustGet(params.MaxCapitalPerTradeUSD)
}

func (b liveBudget) RemainingExposure(symbol string) float64 {
	return math.Max(0, b.rm.params.MustGet(params.MaxSymbolExposureUSD)-b.rm.Exposure(symbol))
}

func (b liveBudget) Blocked(symbol string) bool {
	return b.rm.Suspended(symbol) || (b.rm.inflight != nil && b.rm.inflight.Held(symbol))
}

// ============================================================
// Оценка возможности
// ============================================================

const capEpsilon = 1e-9

// Evaluate решает, можно ли исполнять возможность.
// Лимиты читаются из хранилища параметров при каждом вызове.
func (rm *RiskManager) Evaluate(ctx context.Context, opp models.Opportunity) Decision {
	d := rm.evaluate(opp)
	if !d.Approved {
		RecordRejection(d.Rejection.Reason)
		rm.logger.Info("opportunity rejected",
			zap.String("symbol", opp.Symbol),
			zap.String("buy", opp.BuyVenue),
			zap.String("sell", opp.SellVenue),
			zap.String("reason", string(d.Rejection.Reason)),
			zap.String("detail", d.Rejection.Detail))
	}
	return d
}

func (rm *RiskManager) evaluate(opp models.Opportunity) Decision {
	rm.mu.Lock()
	now := rm.now()
	events := rm.refreshLocked(now)
	kind, tripped := rm.state.firstTripped()
	suspended := rm.suspendedLocked(opp.Symbol, now)
	exposure := rm.exposure[opp.Symbol]
	base, quote := exchange.SplitSymbol(opp.Symbol)
	quoteBalance := rm.balances[opp.BuyVenue][quote]
	baseBalance := rm.balances[opp.SellVenue][base]
	rm.mu.Unlock()

	rm.emit(events)

	if tripped {
		d := reject(ReasonBreakerTripped, "breaker %s is tripped", kind)
		d.Rejection.Breaker = kind
		return d
	}
	if suspended {
		return reject(ReasonSymbolSuspended, "symbol %s is suspended", opp.Symbol)
	}
	if rm.inflight != nil && rm.inflight.Held(opp.Symbol) {
		return reject(ReasonInFlight, "symbol %s has a trade in flight", opp.Symbol)
	}

	threshold := rm.params.MustGet(params.VolatilityThresholdPercent)
	if over, vol := rm.vol.Exceeds(opp.Symbol, threshold, opp.BuyVenue, opp.SellVenue); over {
		return reject(ReasonVolatility, "volatility %.3f%% above %.3f%%", vol, threshold)
	}

	size := opp.SuggestedSize
	if size <= 0 || opp.BuyPrice <= 0 {
		return reject(ReasonBelowMinSize, "empty size")
	}
	notional := size * opp.BuyPrice

	maxCapital := rm.params.MustGet(params.MaxCapitalPerTradeUSD)
	if notional > maxCapital+capEpsilon {
		return reject(ReasonCapitalCap, "notional %.2f above %.2f", notional, maxCapital)
	}

	required := notional * (1 + rm.cost.TakerRate(opp.BuyVenue))
	if quoteBalance < required {
		return reject(ReasonInsufficientBalance, "%s %s balance %.4f below %.4f", opp.BuyVenue, quote, quoteBalance, required)
	}
	if baseBalance < size {
		return reject(ReasonInsufficientBalance, "%s %s balance %.8f below %.8f", opp.SellVenue, base, baseBalance, size)
	}

	usage := rm.params.MustGet(params.MaxBalanceUsagePerExchange)
	if notional > quoteBalance*usage+capEpsilon || size > baseBalance*usage+capEpsilon {
		return reject(ReasonBalanceUsage, "trade uses more than %.0f%% of a venue balance", usage*100)
	}

	maxExposure := rm.params.MustGet(params.MaxSymbolExposureUSD)
	if exposure+notional > maxExposure+capEpsilon {
		return reject(ReasonSymbolExposure, "exposure %.2f + %.2f above %.2f", exposure, notional, maxExposure)
	}

	if notional < rm.config.MinPositionUSD {
		return reject(ReasonBelowMinSize, "notional %.2f below %.2f", notional, rm.config.MinPositionUSD)
	}

	return approve(size)
}
