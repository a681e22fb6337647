package params

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"spreadarb/internal/models"
)

// Ошибки хранилища параметров
var (
	ErrUnknownParameter = errors.New("unknown parameter")
)

// OutOfRangeError - значение вне границ параметра.
// Bound равен "min" или "max", Limit - нарушенная граница.
type OutOfRangeError struct {
	Name  string
	Value float64
	Bound string
	Limit float64
}

func (e *OutOfRangeError) Error() string {
	if e.Bound == "min" {
		return fmt.Sprintf("%s: value %v is below min_value %v", e.Name, e.Value, e.Limit)
	}
	return fmt.Sprintf("%s: value %v is above max_value %v", e.Name, e.Value, e.Limit)
}

// Persister сохраняет параметры между перезапусками
type Persister interface {
	GetParameters(ctx context.Context) ([]*models.RiskParameter, error)
	UpdateParameter(ctx context.Context, name string, value float64, updatedAt time.Time) error
}

// Store - потокобезопасное хранилище риск-параметров.
// Любое записанное значение лежит в границах параметра; читатель никогда не видит
// значение вне границ или частично записанную запись.
type Store struct {
	mu        sync.RWMutex
	writeMu   sync.Mutex // сериализует Set, чтобы сохранение в БД не держало mu
	values    map[string]*models.RiskParameter
	persister Persister
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore создает хранилище со значениями по умолчанию из Registry.
// persister может быть nil - тогда значения живут только в памяти.
func NewStore(persister Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		values:    make(map[string]*models.RiskParameter, len(Registry)),
		persister: persister,
		logger:    logger,
		now:       time.Now,
	}

	now := s.now()
	for _, d := range Registry {
		s.values[d.Name] = &models.RiskParameter{
			Name:        d.Name,
			Value:       d.Default,
			MinValue:    d.Min,
			MaxValue:    d.Max,
			Description: d.Description,
			UpdatedAt:   now,
		}
	}

	return s
}

// Load подтягивает сохраненные значения.
// Неизвестные имена и значения вне границ пропускаются с предупреждением.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	stored, err := s.persister.GetParameters(ctx)
	if err != nil {
		return fmt.Errorf("failed to load parameters: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range stored {
		current, ok := s.values[p.Name]
		if !ok {
			s.logger.Warn("ignoring stored parameter not in registry", zap.String("name", p.Name))
			continue
		}
		if !current.InBounds(p.Value) {
			s.logger.Warn("ignoring stored parameter outside bounds",
				zap.String("name", p.Name),
				zap.Float64("value", p.Value),
				zap.Float64("min", current.MinValue),
				zap.Float64("max", current.MaxValue),
			)
			continue
		}

		next := *current
		next.Value = p.Value
		if !p.UpdatedAt.IsZero() {
			next.UpdatedAt = p.UpdatedAt
		}
		s.values[p.Name] = &next
	}

	return nil
}

// Get возвращает последнее записанное значение
func (s *Store) Get(name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return p.Value, nil
}

// MustGet - Get для имен из Registry; для неизвестного имени паникует
func (s *Store) MustGet(name string) float64 {
	v, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Parameter возвращает копию записи параметра
func (s *Store) Parameter(name string) (models.RiskParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.values[name]
	if !ok {
		return models.RiskParameter{}, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return *p, nil
}

// Set проверяет границы и записывает значение.
// При ошибке (неизвестное имя, выход за границы, сбой сохранения) значение не меняется.
func (s *Store) Set(ctx context.Context, name string, value float64) (models.RiskParameter, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.Parameter(name)
	if err != nil {
		return models.RiskParameter{}, err
	}

	// NaN не меньше и не больше ни одной границы
	if math.IsNaN(value) || value < current.MinValue {
		return current, &OutOfRangeError{Name: name, Value: value, Bound: "min", Limit: current.MinValue}
	}
	if value > current.MaxValue {
		return current, &OutOfRangeError{Name: name, Value: value, Bound: "max", Limit: current.MaxValue}
	}

	updatedAt := s.now()
	if s.persister != nil {
		if err := s.persister.UpdateParameter(ctx, name, value, updatedAt); err != nil {
			return current, fmt.Errorf("failed to persist parameter %s: %w", name, err)
		}
	}

	next := current
	next.Value = value
	next.UpdatedAt = updatedAt

	s.mu.Lock()
	s.values[name] = &next
	s.mu.Unlock()

	s.logger.Info("risk parameter updated",
		zap.String("name", name),
		zap.Float64("old", current.Value),
		zap.Float64("new", value),
	)

	return next, nil
}

// List возвращает копии всех параметров в порядке Registry
func (s *Store) List() []models.RiskParameter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.RiskParameter, 0, len(Registry))
	for _, d := range Registry {
		result = append(result, *s.values[d.Name])
	}
	return result
}

// Snapshot возвращает значения всех параметров, прочитанные под одной блокировкой
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]float64, len(s.values))
	for name, p := range s.values {
		result[name] = p.Value
	}
	return result
}
