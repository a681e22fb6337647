package bot

import (
	"errors"
	"sort"
	"sync"
)

// ErrSymbolInFlight - по символу уже исполняется сделка
var ErrSymbolInFlight = errors.New("symbol already has a trade in flight")

// InFlight - не более одной исполняемой сделки на символ
type InFlight struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInFlight создает пустой реестр
func NewInFlight() *InFlight {
	return &InFlight{held: make(map[string]struct{})}
}

// TryAcquire занимает слот символа. false - слот уже занят.
func (f *InFlight) TryAcquire(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.held[symbol]; ok {
		return false
	}
	f.held[symbol] = struct{}{}
	InFlightTrades.Set(float64(len(f.held)))
	return true
}

// Release освобождает слот
func (f *InFlight) Release(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.held, symbol)
	InFlightTrades.Set(float64(len(f.held)))
}

// Held проверяет занят ли слот
func (f *InFlight) Held(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.held[symbol]
	return ok
}

// Symbols возвращает занятые символы по алфавиту
func (f *InFlight) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.held))
	for s := range f.held {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
