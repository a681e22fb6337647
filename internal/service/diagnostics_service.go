package service

import (
	"context"
	"fmt"
	"time"

	"spreadarb/internal/bot"
	"spreadarb/internal/models"
	"spreadarb/pkg/utils"
)

// EngineStateProvider - состояние торгового цикла
type EngineStateProvider interface {
	State() bot.State
}

// BreakerStatusProvider - состояние выключателей
type BreakerStatusProvider interface {
	Status() models.BreakerStatus
}

// FeeProvider - действующие комиссии бирж
type FeeProvider interface {
	Fees() []models.FeeSchedule
}

// DiagnosticsDeps - источники данных диагностики
type DiagnosticsDeps struct {
	Engine      EngineStateProvider
	Breakers    BreakerStatusProvider
	Fees        FeeProvider
	Parameters  ParameterStore
	Suspensions SuspensionRepositoryInterface
	Heartbeat   HeartbeatReader
}

// DiagnosticsService собирает снимок здоровья движка
type DiagnosticsService struct {
	deps DiagnosticsDeps
	now  func() time.Time
}

// NewDiagnosticsService создает новый экземпляр DiagnosticsService
func NewDiagnosticsService(deps DiagnosticsDeps) *DiagnosticsService {
	return &DiagnosticsService{deps: deps, now: time.Now}
}

// GetDiagnostics возвращает режим, выключатели, параметры, приостановки и heartbeat
func (s *DiagnosticsService) GetDiagnostics(ctx context.Context) (*models.Diagnostics, error) {
	state := s.deps.Engine.State()

	d := &models.Diagnostics{
		Mode:        "live",
		Breakers:    s.deps.Breakers.Status(),
		Parameters:  s.deps.Parameters.List(),
		InFlight:    state.InFlight,
		Suspended:   []models.Suspension{},
		Venues:      state.Venues,
		Symbols:     state.Symbols,
		LastCycleAt: state.LastCycleAt,
		Uptime:      utils.FormatUptime(s.now().Sub(state.StartedAt)),
	}
	if state.DryRun {
		d.Mode = "dry_run"
	}
	if d.InFlight == nil {
		d.InFlight = []string{}
	}
	if d.Breakers.Tripped == nil {
		d.Breakers.Tripped = []models.BreakerKind{}
	}

	if s.deps.Suspensions != nil {
		list, err := s.deps.Suspensions.GetActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load suspensions: %w", err)
		}
		for _, susp := range list {
			d.Suspended = append(d.Suspended, *susp)
		}
	}

	if s.deps.Heartbeat != nil {
		last, err := s.deps.Heartbeat.Last(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load heartbeat: %w", err)
		}
		d.LastHeartbeat = last
	}

	return d, nil
}

// GetFees возвращает комиссии по биржам
func (s *DiagnosticsService) GetFees() []models.FeeSchedule {
	if s.deps.Fees == nil {
		return []models.FeeSchedule{}
	}
	return s.deps.Fees.Fees()
}
