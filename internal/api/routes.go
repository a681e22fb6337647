package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spreadarb/internal/api/handlers"
	"spreadarb/internal/api/middleware"
	"spreadarb/internal/service"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	StatsService        service.StatsServiceInterface
	ParameterService    service.ParameterServiceInterface
	NotificationService service.NotificationServiceInterface
	DiagnosticsService  service.DiagnosticsServiceInterface

	// Stream - обработчик /ws/stream (websocket.Hub.ServeWS)
	Stream http.HandlerFunc
	// DB - проверка БД для /health, может быть nil
	DB handlers.Pinger

	AdminTokenHash string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET /trades?limit= - последние реальные сделки
//	├── GET /stats - статистика реальных сделок
//	├── GET /pnl/daily?days= - PnL по дням
//	├── GET /fees - комиссии бирж
//	├── GET /shadow/trades?limit= - теневые сделки
//	├── GET /shadow/stats - статистика теневых сделок
//	├── GET /compare - реальные против теневых
//	├── GET /diagnostics - состояние движка
//	├── GET /parameters - риск-параметры
//	├── PATCH /parameters/{name} - изменить параметр (Bearer токен)
//	└── GET /notifications - журнал уведомлений
//
// /health, /metrics, /ws/stream
//
// Middleware: Recovery, Logging, CORS для всех маршрутов; AdminToken для записи.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.StatsService != nil {
		h := handlers.NewTradeHandler(deps.StatsService)
		api.HandleFunc("/trades", h.GetTrades).Methods(http.MethodGet)
		api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
		api.HandleFunc("/pnl/daily", h.GetDailyPnl).Methods(http.MethodGet)
		api.HandleFunc("/shadow/trades", h.GetShadowTrades).Methods(http.MethodGet)
		api.HandleFunc("/shadow/stats", h.GetShadowStats).Methods(http.MethodGet)
		api.HandleFunc("/compare", h.Compare).Methods(http.MethodGet)
	}

	if deps.ParameterService != nil {
		h := handlers.NewParameterHandler(deps.ParameterService)
		api.HandleFunc("/parameters", h.GetParameters).Methods(http.MethodGet)
		api.Handle("/parameters/{name}",
			middleware.AdminToken(deps.AdminTokenHash, deps.Logger)(http.HandlerFunc(h.UpdateParameter)),
		).Methods(http.MethodPatch, http.MethodOptions)
	}

	if deps.NotificationService != nil {
		h := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
	}

	if deps.DiagnosticsService != nil {
		h := handlers.NewDiagnosticsHandler(deps.DiagnosticsService, deps.DB)
		api.HandleFunc("/diagnostics", h.GetDiagnostics).Methods(http.MethodGet)
		api.HandleFunc("/fees", h.GetFees).Methods(http.MethodGet)
		router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	} else {
		router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}).Methods(http.MethodGet)
	}

	if deps.Stream != nil {
		router.HandleFunc("/ws/stream", deps.Stream).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
