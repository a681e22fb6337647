package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"spreadarb/internal/models"
)

// SuspensionService - приостановка реальной торговли по символу.
//
// Движок вызывает Suspend после незахеджированной сделки (бессрочно) или
// после повторных неудач покупки (на SYMBOL_DISABLE_HOURS) и перечитывает
// действующие приостановки каждый цикл. Снимает приостановку оператор.
type SuspensionService struct {
	repo     SuspensionRepositoryInterface
	notifier NotificationCreator
	logger   *zap.Logger
}

// NewSuspensionService создает новый экземпляр SuspensionService
func NewSuspensionService(repo SuspensionRepositoryInterface, notifier NotificationCreator, logger *zap.Logger) *SuspensionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SuspensionService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "suspensions")),
	}
}

// Suspend реализует bot.Suspender. until == nil - до ручного снятия.
func (s *SuspensionService) Suspend(ctx context.Context, symbol, reason, tradeID string, until *time.Time) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	susp := &models.Suspension{
		Symbol:    symbol,
		Reason:    reason,
		TradeID:   tradeID,
		ExpiresAt: until,
	}
	if err := s.repo.Create(ctx, susp); err != nil {
		return fmt.Errorf("failed to suspend %s: %w", symbol, err)
	}

	fields := []zap.Field{zap.String("symbol", symbol), zap.String("reason", reason)}
	if until != nil {
		fields = append(fields, zap.Time("until", *until))
	}
	s.logger.Warn("symbol suspended", fields...)

	if s.notifier != nil {
		meta := map[string]interface{}{"reason": reason}
		if tradeID != "" {
			meta["trade_id"] = tradeID
		}
		msg := fmt.Sprintf("%s suspended until cleared by operator: %s", symbol, reason)
		if until != nil {
			meta["until"] = until.UTC().Format(time.RFC3339)
			msg = fmt.Sprintf("%s suspended until %s: %s", symbol, until.UTC().Format(time.RFC3339), reason)
		}
		n := &models.Notification{
			Type:     models.NotificationTypeSuspend,
			Severity: models.SeverityWarn,
			Symbol:   symbol,
			Message:  msg,
			Meta:     meta,
		}
		if err := s.notifier.CreateNotification(ctx, n); err != nil {
			s.logger.Warn("failed to record suspension", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return nil
}

// GetActive реализует bot.SuspensionSource
func (s *SuspensionService) GetActive(ctx context.Context) ([]*models.Suspension, error) {
	return s.repo.GetActive(ctx)
}

// IsSuspended проверяет действует ли приостановка символа
func (s *SuspensionService) IsSuspended(ctx context.Context, symbol string) (bool, error) {
	return s.repo.Exists(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}

// Clear снимает приостановку. Движок увидит изменение на следующем цикле.
func (s *SuspensionService) Clear(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := s.repo.Delete(ctx, symbol); err != nil {
		return err
	}
	s.logger.Info("suspension cleared", zap.String("symbol", symbol))
	return nil
}
