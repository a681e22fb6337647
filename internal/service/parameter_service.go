package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spreadarb/internal/models"
)

// NotificationCreator - создание уведомлений
type NotificationCreator interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// ParameterService - чтение и изменение риск-параметров через API.
// Проверка границ выполняется хранилищем, сервис добавляет журнал изменений.
type ParameterService struct {
	store    ParameterStore
	notifier NotificationCreator
	logger   *zap.Logger
}

// NewParameterService создает новый экземпляр ParameterService
func NewParameterService(store ParameterStore, notifier NotificationCreator, logger *zap.Logger) *ParameterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParameterService{
		store:    store,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "parameters")),
	}
}

// GetParameters возвращает параметры в порядке реестра
func (s *ParameterService) GetParameters() []models.RiskParameter {
	return s.store.List()
}

// UpdateParameter меняет значение параметра.
//
// Ошибки хранилища (*params.OutOfRangeError, params.ErrUnknownParameter)
// возвращаются как есть, чтобы обработчик мог выбрать код ответа.
func (s *ParameterService) UpdateParameter(ctx context.Context, name string, value float64) (models.RiskParameter, error) {
	var old float64
	for _, p := range s.store.List() {
		if p.Name == name {
			old = p.Value
			break
		}
	}

	updated, err := s.store.Set(ctx, name, value)
	if err != nil {
		return updated, err
	}

	s.logger.Info("risk parameter updated",
		zap.String("name", name),
		zap.Float64("old", old),
		zap.Float64("new", updated.Value),
	)

	if s.notifier != nil {
		n := &models.Notification{
			Type:     models.NotificationTypeParamUpdate,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("%s changed from %g to %g", name, old, updated.Value),
			Meta: map[string]interface{}{
				"name": name,
				"old":  old,
				"new":  updated.Value,
			},
		}
		if err := s.notifier.CreateNotification(ctx, n); err != nil {
			s.logger.Warn("failed to record parameter change", zap.String("name", name), zap.Error(err))
		}
	}

	return updated, nil
}
