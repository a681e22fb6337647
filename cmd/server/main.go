package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"spreadarb/internal/api"
	"spreadarb/internal/bot"
	"spreadarb/internal/cache"
	"spreadarb/internal/config"
	"spreadarb/internal/exchange"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
	"spreadarb/internal/repository"
	"spreadarb/internal/service"
	"spreadarb/internal/websocket"
	"spreadarb/pkg/utils"
)

// defaultTakerRate - комиссия тейкера для бирж без расписания в файле бирж
const defaultTakerRate = 0.001

// notificationRetention - сколько хранятся уведомления
const notificationRetention = 30 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spreadarb: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := utils.InitLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	utils.SetGlobalLogger(log)
	defer log.Sync()
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База данных журнала
	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	if err := repository.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Репозитории
	tradeRepo := repository.NewTradeRepository(db)
	paramRepo := repository.NewParameterRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	suspensionRepo := repository.NewSuspensionRepository(db)
	heartbeatRepo := repository.NewHeartbeatRepository(db)

	// Риск-параметры: реестр в БД, затем сохраненные значения в память
	store, err := initParameters(ctx, paramRepo, log.WithComponent("params").Logger)
	if err != nil {
		return err
	}

	// Кеш снимков и блокировка единственного движка
	var snapCache *cache.Cache
	if cfg.Redis.Addr != "" {
		snapCache, err = cache.New(ctx, cfg.Redis, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer snapCache.Close()

		lock, err := snapCache.AcquireEngineLock(ctx, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire engine lock: %w", err)
		}
		defer lock.Release()

		go lock.KeepAlive(ctx, func(err error) {
			logger.Error("engine lock lost, shutting down", zap.Error(err))
			stop()
		})
	}

	// Биржи
	venues, err := exchange.NewAll(cfg.Venues, cfg.Engine.DryRun, logger)
	if err != nil {
		return fmt.Errorf("failed to create venues: %w", err)
	}
	defer func() {
		for name, v := range venues {
			if err := v.Close(); err != nil {
				logger.Warn("error closing venue", zap.String("venue", name), zap.Error(err))
			}
		}
	}()

	// WebSocket hub
	hub := websocket.NewHub(cfg.Security.AllowedOrigins, logger)
	go hub.Run()
	defer hub.Stop()

	// Сервисы
	notificationService := service.NewNotificationService(notificationRepo, logger)
	notificationService.SetWebSocketHub(hub)
	suspensionService := service.NewSuspensionService(suspensionRepo, notificationService, logger)
	parameterService := service.NewParameterService(store, notificationService, logger)
	statsService := service.NewStatsService(tradeRepo)

	// Движок
	engine, risk, cost := buildEngine(cfg, venues, store, engineDeps{
		ledger:      tradeRepo,
		suspender:   suspensionService,
		suspensions: suspensionRepo,
		heartbeat:   heartbeatRepo,
		cache:       snapCache,
		hub:         hub,
		alerter:     notificationService,
	}, logger)

	diagnosticsService := service.NewDiagnosticsService(service.DiagnosticsDeps{
		Engine:      engine,
		Breakers:    risk,
		Fees:        cost,
		Parameters:  store,
		Suspensions: suspensionRepo,
		Heartbeat:   heartbeatRepo,
	})

	// HTTP
	router := api.SetupRoutes(&api.Dependencies{
		StatsService:        statsService,
		ParameterService:    parameterService,
		NotificationService: notificationService,
		DiagnosticsService:  diagnosticsService,
		Stream:              hub.ServeWS,
		DB:                  db,
		AdminTokenHash:      cfg.Security.AdminTokenHash,
		AllowedOrigins:      cfg.Security.AllowedOrigins,
		Logger:              logger,
	})
	if cfg.Security.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH is empty, parameter writes are disabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go housekeeping(ctx, notificationRepo, suspensionRepo, logger)

	engine.Init(ctx)
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	// Движок завершает текущий цикл: начатая сделка доходит до финального исхода
	if err := <-engineDone; err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// initParameters заводит строки реестра в БД и загружает сохраненные значения
func initParameters(ctx context.Context, repo *repository.ParameterRepository, logger *zap.Logger) (*params.Store, error) {
	store := params.NewStore(repo, logger)

	for _, p := range store.List() {
		p := p
		if err := repo.Upsert(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to seed parameter %s: %w", p.Name, err)
		}
	}
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

type engineDeps struct {
	ledger      *repository.TradeRepository
	suspender   bot.Suspender
	suspensions bot.SuspensionSource
	heartbeat   bot.HeartbeatStore
	cache       *cache.Cache
	hub         bot.WebSocketHub
	alerter     bot.Alerter
}

// buildEngine собирает модель издержек, детектор, риск, исполнителя и теневой движок
func buildEngine(cfg *config.Config, venues map[string]exchange.Exchange, store *params.Store,
	deps engineDeps, logger *zap.Logger) (*bot.Engine, *bot.RiskManager, *bot.CostModel) {
	fees := make([]models.FeeSchedule, 0, len(cfg.Venues))
	qtyPrecision := make(map[string]int32, len(cfg.Venues))
	pricePrecision := make(map[string]int32, len(cfg.Venues))
	for _, v := range cfg.Venues {
		fees = append(fees, models.FeeSchedule{Venue: v.Name, MakerRate: v.MakerFee, TakerRate: v.TakerFee})
		qtyPrecision[v.Name] = v.QtyDecimals()
		pricePrecision[v.Name] = v.PriceDecimals()
	}

	cost := bot.NewCostModel(fees, defaultTakerRate, cfg.Engine.SlippagePercent)
	inflight := bot.NewInFlight()

	riskCfg := bot.DefaultRiskConfig()
	riskCfg.APIErrorLimit = cfg.Engine.APIErrorLimit
	riskCfg.APIErrorWindow = cfg.Engine.APIErrorWindow
	riskCfg.NoDataTimeout = cfg.Engine.NoDataTimeout
	riskCfg.VolatilityWindow = cfg.Engine.VolatilityWindow
	riskCfg.MinPositionUSD = cfg.Engine.MinPositionUSD
	riskCfg.DisableFor = time.Duration(cfg.Engine.SymbolDisableHours) * time.Hour
	risk := bot.NewRiskManager(store, cost, inflight, riskCfg, logger)

	detector := bot.NewDetector(cost, store, bot.DetectorConfig{
		FreshnessWindow: cfg.Engine.FreshnessWindow,
		QtyPrecision:    qtyPrecision,
	})

	executor := bot.NewExecutor(bot.ExecutorConfig{
		DryRun:             cfg.Engine.DryRun,
		SellLegMaxAttempts: cfg.Engine.SellLegMaxAttempts,
		SellLegBackoff:     cfg.Engine.SellLegBackoff,
		LegTimeout:         cfg.Engine.LegTimeout,
		DisableFor:         riskCfg.DisableFor,
		QtyPrecision:       qtyPrecision,
		PricePrecision:     pricePrecision,
	}, bot.ExecutorDeps{
		Venues:    venues,
		Cost:      cost,
		Risk:      risk,
		InFlight:  inflight,
		Ledger:    deps.ledger,
		Suspender: deps.suspender,
		Alerter:   deps.alerter,
		Logger:    logger,
	})

	shadow := bot.NewShadowEngine(detector, cost, risk.Volatility(), store, deps.ledger,
		cfg.Engine.ShadowSizing, risk, logger)

	botDeps := bot.EngineDeps{
		Venues:      venues,
		Cost:        cost,
		Detector:    detector,
		Risk:        risk,
		Executor:    executor,
		Shadow:      shadow,
		InFlight:    inflight,
		Suspensions: deps.suspensions,
		Ledger:      deps.ledger,
		Heartbeat:   deps.heartbeat,
		Hub:         deps.hub,
		Alerter:     deps.alerter,
		Logger:      logger,
	}
	// nil *cache.Cache в интерфейсе не равен nil
	if deps.cache != nil {
		botDeps.Cache = deps.cache
	}

	engine := bot.NewEngine(bot.EngineConfig{
		DryRun:        cfg.Engine.DryRun,
		Symbols:       cfg.Engine.Symbols,
		CycleInterval: cfg.Engine.CycleInterval,
		CycleBudget:   cfg.Engine.CycleBudget,
		FetchTimeout:  cfg.Engine.FetchTimeout,
	}, botDeps)

	return engine, risk, cost
}

// housekeeping раз в час удаляет истекшие приостановки и старые уведомления
func housekeeping(ctx context.Context, notifications *repository.NotificationRepository,
	suspensions *repository.SuspensionRepository, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := suspensions.DeleteExpired(ctx); err != nil {
				logger.Warn("failed to delete expired suspensions", zap.Error(err))
			} else if n > 0 {
				logger.Info("expired suspensions removed", zap.Int64("count", n))
			}

			before := time.Now().Add(-notificationRetention)
			if n, err := notifications.DeleteOlderThan(ctx, before); err != nil {
				logger.Warn("failed to delete old notifications", zap.Error(err))
			} else if n > 0 {
				logger.Info("old notifications removed", zap.Int64("count", n))
			}
		}
	}
}
