package service

import (
	"context"
	"time"

	"spreadarb/internal/bot"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
	"spreadarb/internal/repository"
)

// TradeRepositoryInterface определяет интерфейс журнала сделок
type TradeRepositoryInterface interface {
	QueryRecent(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error)
	QueryDailyAggregates(ctx context.Context, days int, shadow bool) ([]models.DailyPnl, error)
	Stats(ctx context.Context, shadow bool) (*models.TradeStats, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
}

// SuspensionRepositoryInterface определяет интерфейс репозитория приостановок
type SuspensionRepositoryInterface interface {
	Create(ctx context.Context, s *models.Suspension) error
	GetActive(ctx context.Context) ([]*models.Suspension, error)
	Delete(ctx context.Context, symbol string) error
	Exists(ctx context.Context, symbol string) (bool, error)
}

// HeartbeatReader - время последнего цикла движка
type HeartbeatReader interface {
	Last(ctx context.Context) (*time.Time, error)
}

// ParameterStore - хранилище риск-параметров
type ParameterStore interface {
	List() []models.RiskParameter
	Set(ctx context.Context, name string, value float64) (models.RiskParameter, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ SuspensionRepositoryInterface = (*repository.SuspensionRepository)(nil)
var _ HeartbeatReader = (*repository.HeartbeatRepository)(nil)
var _ ParameterStore = (*params.Store)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// StatsServiceInterface определяет интерфейс сервиса отчетов
type StatsServiceInterface interface {
	GetTrades(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error)
	GetStats(ctx context.Context, shadow bool) (*models.TradeStats, error)
	GetDailyPnl(ctx context.Context, days int) ([]models.DailyPnl, error)
	Compare(ctx context.Context) (*models.Comparison, error)
}

// ParameterServiceInterface определяет интерфейс сервиса параметров
type ParameterServiceInterface interface {
	GetParameters() []models.RiskParameter
	UpdateParameter(ctx context.Context, name string, value float64) (models.RiskParameter, error)
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// SuspensionServiceInterface определяет интерфейс сервиса приостановок
type SuspensionServiceInterface interface {
	GetActive(ctx context.Context) ([]*models.Suspension, error)
	Clear(ctx context.Context, symbol string) error
}

// DiagnosticsServiceInterface определяет интерфейс сервиса диагностики
type DiagnosticsServiceInterface interface {
	GetDiagnostics(ctx context.Context) (*models.Diagnostics, error)
	GetFees() []models.FeeSchedule
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ StatsServiceInterface = (*StatsService)(nil)
var _ ParameterServiceInterface = (*ParameterService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ SuspensionServiceInterface = (*SuspensionService)(nil)
var _ DiagnosticsServiceInterface = (*DiagnosticsService)(nil)

// Сервисы подключаются к движку как его зависимости
var _ bot.Alerter = (*NotificationService)(nil)
var _ bot.Suspender = (*SuspensionService)(nil)
var _ bot.SuspensionSource = (*SuspensionService)(nil)
