package handlers

import (
	"context"
	"errors"

	"spreadarb/internal/models"
	"spreadarb/internal/params"
	"spreadarb/internal/service"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock StatsService ============

type MockStatsService struct {
	trades     map[bool][]*models.Trade
	stats      map[bool]*models.TradeStats
	daily      []models.DailyPnl
	err        error
	lastLimit  int
	lastShadow bool
	lastDays   int
}

func NewMockStatsService() *MockStatsService {
	return &MockStatsService{
		trades: map[bool][]*models.Trade{},
		stats:  map[bool]*models.TradeStats{false: {}, true: {}},
	}
}

func (m *MockStatsService) GetTrades(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error) {
	m.lastLimit, m.lastShadow = limit, shadow
	if m.err != nil {
		return nil, m.err
	}
	return m.trades[shadow], nil
}

func (m *MockStatsService) GetStats(ctx context.Context, shadow bool) (*models.TradeStats, error) {
	m.lastShadow = shadow
	if m.err != nil {
		return nil, m.err
	}
	return m.stats[shadow], nil
}

func (m *MockStatsService) GetDailyPnl(ctx context.Context, days int) ([]models.DailyPnl, error) {
	m.lastDays = days
	if m.err != nil {
		return nil, m.err
	}
	return m.daily, nil
}

func (m *MockStatsService) Compare(ctx context.Context) (*models.Comparison, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Comparison{Real: *m.stats[false], Shadow: *m.stats[true]}, nil
}

var _ service.StatsServiceInterface = (*MockStatsService)(nil)

// ============ Mock ParameterService ============

type MockParameterService struct {
	store *params.Store
	err   error
}

func NewMockParameterService() *MockParameterService {
	return &MockParameterService{store: params.NewStore(nil, nil)}
}

func (m *MockParameterService) GetParameters() []models.RiskParameter {
	return m.store.List()
}

func (m *MockParameterService) UpdateParameter(ctx context.Context, name string, value float64) (models.RiskParameter, error) {
	if m.err != nil {
		return models.RiskParameter{}, m.err
	}
	return m.store.Set(ctx, name, value)
}

var _ service.ParameterServiceInterface = (*MockParameterService)(nil)

// ============ Mock NotificationService ============

type MockNotificationService struct {
	items     []*models.Notification
	err       error
	lastTypes []string
	lastLimit int
}

func (m *MockNotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.lastTypes, m.lastLimit = types, limit
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

func (m *MockNotificationService) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.items = append(m.items, n)
	return nil
}

var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)

// ============ Mock DiagnosticsService ============

type MockDiagnosticsService struct {
	diag *models.Diagnostics
	fees []models.FeeSchedule
	err  error
}

func (m *MockDiagnosticsService) GetDiagnostics(ctx context.Context) (*models.Diagnostics, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.diag, nil
}

func (m *MockDiagnosticsService) GetFees() []models.FeeSchedule {
	return m.fees
}

var _ service.DiagnosticsServiceInterface = (*MockDiagnosticsService)(nil)

type mockPinger struct {
	err error
}

func (m mockPinger) PingContext(ctx context.Context) error { return m.err }
