package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"spreadarb/internal/bot"
	"spreadarb/internal/models"
	"spreadarb/internal/params"
	"spreadarb/internal/repository"
)

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	recent    map[bool][]*models.Trade
	stats     map[bool]*models.TradeStats
	daily     []models.DailyPnl
	err       error
	lastLimit int
	lastDays  int
	lastShade bool
}

func NewMockTradeRepository() *MockTradeRepository {
	return &MockTradeRepository{
		recent: map[bool][]*models.Trade{},
		stats:  map[bool]*models.TradeStats{false: {}, true: {}},
	}
}

func (m *MockTradeRepository) QueryRecent(ctx context.Context, limit int, shadow bool) ([]*models.Trade, error) {
	m.lastLimit, m.lastShade = limit, shadow
	if m.err != nil {
		return nil, m.err
	}
	return m.recent[shadow], nil
}

func (m *MockTradeRepository) QueryDailyAggregates(ctx context.Context, days int, shadow bool) ([]models.DailyPnl, error) {
	m.lastDays, m.lastShade = days, shadow
	if m.err != nil {
		return nil, m.err
	}
	return m.daily, nil
}

func (m *MockTradeRepository) Stats(ctx context.Context, shadow bool) (*models.TradeStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := *m.stats[shadow]
	return &s, nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu        sync.Mutex
	items     []*models.Notification
	createErr error
	lastTypes []string
	lastLimit int
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = len(m.items) + 1
	m.items = append(m.items, n)
	return nil
}

func (m *MockNotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = nil, limit
	return m.items, nil
}

func (m *MockNotificationRepository) GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTypes, m.lastLimit = types, limit
	var out []*models.Notification
	for _, n := range m.items {
		for _, t := range types {
			if n.Type == t {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ============ Mock SuspensionRepository ============

type MockSuspensionRepository struct {
	items     map[string]*models.Suspension
	createErr error
	getErr    error
}

func NewMockSuspensionRepository() *MockSuspensionRepository {
	return &MockSuspensionRepository{items: map[string]*models.Suspension{}}
}

func (m *MockSuspensionRepository) Create(ctx context.Context, s *models.Suspension) error {
	if m.createErr != nil {
		return m.createErr
	}
	s.ID = len(m.items) + 1
	m.items[s.Symbol] = s
	return nil
}

func (m *MockSuspensionRepository) GetActive(ctx context.Context) ([]*models.Suspension, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]*models.Suspension, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MockSuspensionRepository) Delete(ctx context.Context, symbol string) error {
	if _, ok := m.items[symbol]; !ok {
		return repository.ErrSuspensionNotFound
	}
	delete(m.items, symbol)
	return nil
}

func (m *MockSuspensionRepository) Exists(ctx context.Context, symbol string) (bool, error) {
	_, ok := m.items[symbol]
	return ok, nil
}

// ============ Mock WebSocket hub ============

type MockBroadcaster struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
}

// ============ Mock engine sources ============

type MockEngineState struct {
	state bot.State
}

func (m *MockEngineState) State() bot.State { return m.state }

type MockBreakers struct {
	status models.BreakerStatus
}

func (m *MockBreakers) Status() models.BreakerStatus { return m.status }

type MockFees struct {
	fees []models.FeeSchedule
}

func (m *MockFees) Fees() []models.FeeSchedule { return m.fees }

type MockHeartbeat struct {
	last *time.Time
	err  error
}

func (m *MockHeartbeat) Last(ctx context.Context) (*time.Time, error) { return m.last, m.err }

func newTestStore() *params.Store {
	return params.NewStore(nil, nil)
}
