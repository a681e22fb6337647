package service

import (
	"context"
	"fmt"

	"spreadarb/internal/models"
	"spreadarb/internal/repository"
)

// StatsService - отчеты по журналу сделок: реальные, теневые и их сравнение.
// Только чтение, торговый цикл не затрагивается.
type StatsService struct {
	trades TradeRepositoryInterface
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(trades TradeRepositoryInterface) *StatsService {
	return &StatsService{trades: trades}
}

// GetTrades возвращает последние сделки, новые первыми
func (s *StatsService) GetTrades(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error) {
	trades, err := s.trades.QueryRecent(ctx, limit, shadow)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return trades, nil
}

// GetStats возвращает сводную статистику реальных или теневых сделок
func (s *StatsService) GetStats(ctx context.Context, shadow bool) (*models.TradeStats, error) {
	stats, err := s.trades.Stats(ctx, shadow)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// GetDailyPnl возвращает PnL реальных сделок по UTC дням.
// days <= 0 означает значение по умолчанию.
func (s *StatsService) GetDailyPnl(ctx context.Context, days int) ([]models.DailyPnl, error) {
	if days <= 0 {
		days = repository.DefaultPnlDays
	}
	if days > repository.MaxPnlDays {
		days = repository.MaxPnlDays
	}
	daily, err := s.trades.QueryDailyAggregates(ctx, days, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily pnl: %w", err)
	}
	return daily, nil
}

// Compare сопоставляет реальные результаты с теневыми.
// CaptureRatio = реальный PnL / теневой PnL, 0 если теневой PnL не положительный.
func (s *StatsService) Compare(ctx context.Context) (*models.Comparison, error) {
	live, err := s.GetStats(ctx, false)
	if err != nil {
		return nil, err
	}
	shadow, err := s.GetStats(ctx, true)
	if err != nil {
		return nil, err
	}

	cmp := &models.Comparison{
		Real:   *live,
		Shadow: *shadow,
		PnlGap: shadow.TotalPnl - live.TotalPnl,
	}
	if shadow.TotalPnl > 0 {
		cmp.CaptureRatio = live.TotalPnl / shadow.TotalPnl
	}
	return cmp, nil
}
