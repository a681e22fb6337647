package bot

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/pkg/utils"
)

// WebSocketHub - поток событий для клиентов.
// Реализуется пакетом internal/websocket.
type WebSocketHub interface {
	BroadcastTrade(t *models.Trade)
	BroadcastBreaker(kind models.BreakerKind, tripped bool, detail string)
	BroadcastCycle(s *models.CycleSummary)
}

// SnapshotCache публикует последние снимки и heartbeat во внешний кэш
type SnapshotCache interface {
	PublishSnapshots(ctx context.Context, snaps []models.MarketSnapshot) error
	Heartbeat(ctx context.Context, at time.Time) error
}

// HeartbeatStore сохраняет время последнего цикла
type HeartbeatStore interface {
	Beat(ctx context.Context, at time.Time) error
}

// SuspensionSource - действующие приостановки символов
type SuspensionSource interface {
	GetActive(ctx context.Context) ([]*models.Suspension, error)
}

// LedgerReader восстанавливает дневные счетчики риска при старте
type LedgerReader interface {
	SymbolExposure(ctx context.Context, symbol string, since time.Time) (float64, error)
	RealizedPnl(ctx context.Context, since time.Time) (float64, error)
}

// EngineConfig - конфигурация цикла
type EngineConfig struct {
	DryRun        bool
	Symbols       []string
	CycleInterval time.Duration
	CycleBudget   time.Duration
	FetchTimeout  time.Duration
	// MaxConcurrentFetches ограничивает одновременные запросы к биржам
	MaxConcurrentFetches int
}

// EngineDeps - зависимости движка. Необязательные: Suspensions, Ledger, Heartbeat, Cache, Hub, Alerter.
type EngineDeps struct {
	Venues      map[string]exchange.Exchange
	Cost        *CostModel
	Detector    *Detector
	Risk        *RiskManager
	Executor    *Executor
	Shadow      *ShadowEngine
	InFlight    *InFlight
	Suspensions SuspensionSource
	Ledger      LedgerReader
	Heartbeat   HeartbeatStore
	Cache       SnapshotCache
	Hub         WebSocketHub
	Alerter     Alerter
	Logger      *zap.Logger
}

// State - состояние движка для диагностики
type State struct {
	DryRun      bool                 `json:"dry_run"`
	Venues      []string             `json:"venues"`
	Symbols     []string             `json:"symbols"`
	InFlight    []string             `json:"in_flight"`
	Suspended   []string             `json:"suspended"`
	ShadowSize  string               `json:"shadow_sizing"`
	StartedAt   time.Time            `json:"started_at"`
	LastCycleAt time.Time            `json:"last_cycle_at"`
	LastCycle   *models.CycleSummary `json:"last_cycle,omitempty"`
}

// Engine - периодический цикл: снимки → детекция → риск → исполнение → тень → журнал
type Engine struct {
	config EngineConfig
	deps   EngineDeps

	venueNames []string

	mu        sync.RWMutex
	lastCycle *models.CycleSummary
	startedAt time.Time

	now    func() time.Time
	logger *zap.Logger
}

// NewEngine создает движок
func NewEngine(config EngineConfig, deps EngineDeps) *Engine {
	if config.CycleInterval <= 0 {
		config.CycleInterval = 20 * time.Second
	}
	if config.CycleBudget <= 0 || config.CycleBudget > config.CycleInterval {
		config.CycleBudget = config.CycleInterval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 5 * time.Second
	}
	if config.MaxConcurrentFetches <= 0 {
		config.MaxConcurrentFetches = 16
	}
	if deps.InFlight == nil {
		deps.InFlight = NewInFlight()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(deps.Venues))
	for name := range deps.Venues {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Engine{
		config:     config,
		deps:       deps,
		venueNames: names,
		startedAt:  time.Now().UTC(),
		now:        time.Now,
		logger:     logger.With(zap.String("component", "engine")),
	}
}

// Init подтягивает комиссии с бирж, приостановки и дневные счетчики из журнала.
// Ошибки не фатальны: остаются значения из конфигурации.
func (e *Engine) Init(ctx context.Context) {
	for _, name := range e.venueNames {
		fctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
		fees, err := e.deps.Venues[name].GetFees(fctx)
		cancel()
		if err != nil {
			e.logger.Warn("failed to refresh fees, using configured", zap.String("venue", name), zap.Error(err))
			continue
		}
		fees.Venue = name
		if err := e.deps.Cost.SetFees(*fees); err != nil {
			e.logger.Warn("venue returned invalid fees", zap.String("venue", name), zap.Error(err))
		}
	}

	if e.deps.Ledger != nil {
		dayStart := utils.DayStartUTC(e.now())
		if pnl, err := e.deps.Ledger.RealizedPnl(ctx, dayStart); err != nil {
			e.logger.Warn("failed to load daily pnl", zap.Error(err))
		} else {
			e.deps.Risk.SeedDailyPnl(pnl)
		}

		exposure := make(map[string]float64, len(e.config.Symbols))
		for _, symbol := range e.config.Symbols {
			v, err := e.deps.Ledger.SymbolExposure(ctx, symbol, dayStart)
			if err != nil {
				e.logger.Warn("failed to load symbol exposure", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			exposure[symbol] = v
		}
		e.deps.Risk.SeedExposure(exposure)
	}

	e.reloadSuspensions(ctx)
}

// Run выполняет циклы до отмены ctx. Цикл, не уложившийся в интервал,
// сдвигает следующий: пропущенные тики не накапливаются.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		zap.Bool("dry_run", e.config.DryRun),
		zap.Strings("venues", e.venueNames),
		zap.Strings("symbols", e.config.Symbols),
		zap.Duration("interval", e.config.CycleInterval))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.consumeRiskEvents(ctx)
	}()

	ticker := time.NewTicker(e.config.CycleInterval)
	defer ticker.Stop()

	e.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// Cycle выполняет один цикл в пределах CycleBudget
func (e *Engine) Cycle(parent context.Context) *models.CycleSummary {
	start := e.now()
	ctx, cancel := context.WithTimeout(parent, e.config.CycleBudget)
	defer cancel()

	summary := &models.CycleSummary{StartedAt: start.UTC()}

	e.reloadSuspensions(ctx)

	snaps, failed := e.fetchSnapshots(ctx)
	summary.Snapshots = len(snaps)
	summary.FetchErrors = failed

	e.fetchBalances(ctx)

	for _, s := range snaps {
		e.deps.Risk.ObservePrice(s.Symbol, s.Venue, s.Mid())
	}

	now := e.now()
	opps := e.deps.Detector.Detect(snaps, e.deps.Risk.Budget(), now)
	summary.Opportunities = len(opps)
	if len(opps) > 0 {
		e.deps.Risk.ObserveOpportunity(now)
	}
	e.deps.Risk.Refresh(now)

	for _, opp := range opps {
		RecordOpportunity(opp.Symbol)

		// исполнение уже начатых сделок доводится до конца, новые откладываются
		if ctx.Err() != nil {
			e.logger.Warn("cycle budget exhausted, deferring remaining opportunities",
				zap.Int("deferred", len(opps)-summary.Approved-summary.Rejected))
			break
		}

		decision := e.deps.Risk.Evaluate(ctx, opp)
		if !decision.Approved {
			summary.Rejected++
			continue
		}
		summary.Approved++

		trade, err := e.deps.Executor.Execute(ctx, opp, decision.Size)
		if err != nil {
			e.logger.Warn("execution skipped", zap.String("symbol", opp.Symbol), zap.Error(err))
			continue
		}
		summary.Trades++
		if e.deps.Hub != nil {
			e.deps.Hub.BroadcastTrade(trade)
		}
	}

	// тень работает по тем же снимкам независимо от решений риска
	if e.deps.Shadow != nil {
		summary.ShadowTrades = len(e.deps.Shadow.Run(parent, snaps, now))
	}

	e.publish(parent, snaps, now)

	summary.Breakers = e.deps.Risk.Status().Tripped
	summary.DurationMs = e.now().Sub(start).Milliseconds()

	e.mu.Lock()
	e.lastCycle = summary
	e.mu.Unlock()

	if e.deps.Hub != nil {
		e.deps.Hub.BroadcastCycle(summary)
	}
	RecordCycle(e.now().Sub(start))

	e.logger.Debug("cycle finished",
		zap.Int("snapshots", summary.Snapshots),
		zap.Int("fetch_errors", summary.FetchErrors),
		zap.Int("opportunities", summary.Opportunities),
		zap.Int("trades", summary.Trades),
		zap.Int("shadow_trades", summary.ShadowTrades),
		zap.Int64("duration_ms", summary.DurationMs))

	return summary
}

// fetchSnapshots параллельно получает стаканы по всем (биржа, символ).
// Неудачный запрос не дает снимка и учитывается в ApiErrorRate.
func (e *Engine) fetchSnapshots(ctx context.Context) ([]models.MarketSnapshot, int) {
	var (
		mu     sync.Mutex
		snaps  []models.MarketSnapshot
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrentFetches)

	for _, name := range e.venueNames {
		venue := e.deps.Venues[name]
		for _, symbol := range e.config.Symbols {
			name, symbol := name, symbol
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(gctx, e.config.FetchTimeout)
				defer cancel()

				start := time.Now()
				book, err := venue.GetOrderBook(fctx, symbol)
				RecordFetch(name, time.Since(start))

				var snap models.MarketSnapshot
				if err == nil {
					snap, err = book.Snapshot(name, e.now())
				}
				if err != nil {
					e.deps.Risk.RecordAPIError(name, err)
					e.logger.Debug("snapshot fetch failed",
						zap.String("venue", name), zap.String("symbol", symbol), zap.Error(err))
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				}

				mu.Lock()
				snaps = append(snaps, snap)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Symbol != snaps[j].Symbol {
			return snaps[i].Symbol < snaps[j].Symbol
		}
		return snaps[i].Venue < snaps[j].Venue
	})
	return snaps, failed
}

// assets - базовые и котируемые активы всех символов
func (e *Engine) assets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, symbol := range e.config.Symbols {
		base, quote := exchange.SplitSymbol(symbol)
		for _, a := range []string{base, quote} {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				out = append(out, a)
			}
		}
	}
	sort.Strings(out)
	return out
}

// fetchBalances обновляет остатки. При ошибке сохраняется предыдущее значение актива.
func (e *Engine) fetchBalances(ctx context.Context) {
	assets := e.assets()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrentFetches)

	for _, name := range e.venueNames {
		name := name
		venue := e.deps.Venues[name]
		g.Go(func() error {
			balances := make(map[string]float64, len(assets))
			for _, asset := range assets {
				fctx, cancel := context.WithTimeout(gctx, e.config.FetchTimeout)
				amount, err := venue.GetBalance(fctx, asset)
				cancel()
				if err != nil {
					e.deps.Risk.RecordAPIError(name, err)
					amount = e.deps.Risk.Balance(name, asset)
				}
				balances[asset] = amount
			}
			e.deps.Risk.SetBalances(name, balances)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) reloadSuspensions(ctx context.Context) {
	if e.deps.Executor != nil {
		e.deps.Executor.PersistUnsaved(ctx)
	}
	if e.deps.Suspensions == nil {
		return
	}
	list, err := e.deps.Suspensions.GetActive(ctx)
	if err != nil {
		// набор в памяти остается прежним
		e.logger.Warn("failed to reload suspensions", zap.Error(err))
		return
	}
	e.deps.Risk.SetSuspensions(list)
}

// publish пишет heartbeat в БД и кэш и публикует снимки
func (e *Engine) publish(ctx context.Context, snaps []models.MarketSnapshot, now time.Time) {
	if e.deps.Heartbeat != nil {
		if err := e.deps.Heartbeat.Beat(ctx, now); err != nil {
			e.logger.Warn("failed to write heartbeat", zap.Error(err))
		}
	}
	if e.deps.Cache != nil {
		if err := e.deps.Cache.Heartbeat(ctx, now); err != nil {
			e.logger.Warn("failed to write cache heartbeat", zap.Error(err))
		}
		if err := e.deps.Cache.PublishSnapshots(ctx, snaps); err != nil {
			e.logger.Warn("failed to publish snapshots", zap.Error(err))
		}
	}
}

// consumeRiskEvents пересылает переходы выключателей в поток событий и оповещения
func (e *Engine) consumeRiskEvents(ctx context.Context) {
	events := e.deps.Risk.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			e.handleRiskEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleRiskEvent(ctx context.Context, ev RiskEvent) {
	if e.deps.Hub != nil {
		e.deps.Hub.BroadcastBreaker(ev.Breaker, ev.Tripped, ev.Detail)
	}
	if e.deps.Alerter == nil {
		return
	}

	n := &models.Notification{
		Timestamp: ev.At.UTC(),
		Type:      models.NotificationTypeBreaker,
		Severity:  models.SeverityWarn,
		Message:   "breaker " + string(ev.Breaker) + " tripped: " + ev.Detail,
		Meta:      map[string]interface{}{"breaker": string(ev.Breaker), "tripped": ev.Tripped},
	}
	switch ev.Breaker {
	case models.BreakerNoData:
		n.Type = models.NotificationTypeNoData
	case models.BreakerAPIErrorRate:
		n.Type = models.NotificationTypeAPIError
	}
	if !ev.Tripped {
		n.Severity = models.SeverityInfo
		n.Message = "breaker " + string(ev.Breaker) + " cleared: " + ev.Detail
	}
	e.deps.Alerter.Notify(ctx, n)
}

// State возвращает состояние движка
func (e *Engine) State() State {
	e.mu.RLock()
	last := e.lastCycle
	e.mu.RUnlock()

	st := State{
		DryRun:    e.config.DryRun,
		Venues:    e.venueNames,
		Symbols:   e.config.Symbols,
		InFlight:  e.deps.InFlight.Symbols(),
		Suspended: e.deps.Risk.SuspendedSymbols(),
		StartedAt: e.startedAt,
		LastCycle: last,
	}
	if e.deps.Shadow != nil {
		st.ShadowSize = e.deps.Shadow.Sizing()
	}
	if last != nil {
		st.LastCycleAt = last.StartedAt
	}
	return st
}
