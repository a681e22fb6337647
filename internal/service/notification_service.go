package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"spreadarb/internal/models"
	"spreadarb/internal/repository"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

var validNotificationTypes = map[string]bool{
	models.NotificationTypeUnhedged:    true,
	models.NotificationTypeBreaker:     true,
	models.NotificationTypeNoData:      true,
	models.NotificationTypeAPIError:    true,
	models.NotificationTypeParamUpdate: true,
	models.NotificationTypeSuspend:     true,
	models.NotificationTypeLedger:      true,
}

// NotificationService доставляет уведомления оператору:
// журнал в БД, broadcast через WebSocket и запись в лог.
//
// Реализует bot.Alerter. Ошибка сохранения не теряет уведомление:
// оно все равно уходит в лог и WebSocket.
type NotificationService struct {
	repo   NotificationRepositoryInterface
	wsHub  WebSocketBroadcaster
	logger *zap.Logger
	now    func() time.Time
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(repo NotificationRepositoryInterface, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:   repo,
		logger: logger.With(zap.String("component", "notifications")),
		now:    time.Now,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Notify реализует bot.Alerter
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) {
	if err := s.CreateNotification(ctx, n); err != nil {
		s.logger.Error("failed to persist notification",
			zap.String("type", n.Type),
			zap.String("symbol", n.Symbol),
			zap.Error(err),
		)
	}
}

// CreateNotification сохраняет уведомление и рассылает его подписчикам
func (s *NotificationService) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	if n.Severity == "" {
		n.Severity = models.SeverityInfo
	}

	s.log(n)

	var err error
	if s.repo != nil {
		err = s.repo.Create(ctx, n)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	return err
}

func (s *NotificationService) log(n *models.Notification) {
	fields := []zap.Field{
		zap.String("type", n.Type),
		zap.String("message", n.Message),
	}
	if n.Symbol != "" {
		fields = append(fields, zap.String("symbol", n.Symbol))
	}
	if len(n.Meta) > 0 {
		fields = append(fields, zap.Any("meta", n.Meta))
	}

	switch n.Severity {
	case models.SeverityError:
		s.logger.Error("operator alert", fields...)
	case models.SeverityWarn:
		s.logger.Warn("operator alert", fields...)
	default:
		s.logger.Info("operator alert", fields...)
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Неизвестные типы отбрасываются; если не осталось ни одного, возвращаются все типы.
func (s *NotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = repository.DefaultNotificationLimit
	}
	if limit > repository.MaxNotificationLimit {
		limit = repository.MaxNotificationLimit
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if validNotificationTypes[t] {
			normalized = append(normalized, t)
		}
	}

	if len(normalized) > 0 {
		return s.repo.GetByTypes(ctx, normalized, limit)
	}
	return s.repo.GetRecent(ctx, limit)
}
