package bot

import "sync"

type seriesKey struct {
	symbol string
	venue  string
}

// VolatilityTracker хранит последние mid цены по (символ, биржа) в кольце фиксированной длины
type VolatilityTracker struct {
	mu     sync.RWMutex
	window int
	series map[seriesKey][]float64
}

// NewVolatilityTracker создает трекер с окном window цен
func NewVolatilityTracker(window int) *VolatilityTracker {
	if window < 2 {
		window = 2
	}
	return &VolatilityTracker{
		window: window,
		series: make(map[seriesKey][]float64),
	}
}

// Observe добавляет mid цену. Неположительные цены игнорируются.
func (v *VolatilityTracker) Observe(symbol, venue string, mid float64) {
	if mid <= 0 {
		return
	}
	key := seriesKey{symbol, venue}

	v.mu.Lock()
	defer v.mu.Unlock()

	s := append(v.series[key], mid)
	if len(s) > v.window {
		s = s[len(s)-v.window:]
	}
	v.series[key] = s
}

// Volatility возвращает (max-min)/min*100 по окну. Меньше двух цен - 0.
func (v *VolatilityTracker) Volatility(symbol, venue string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := v.series[seriesKey{symbol, venue}]
	if len(s) < 2 {
		return 0
	}
	lo, hi := s[0], s[0]
	for _, p := range s[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return (hi - lo) / lo * 100
}

// Exceeds проверяет превышение порога хотя бы на одной из бирж.
// Возвращает худшее значение волатильности.
func (v *VolatilityTracker) Exceeds(symbol string, thresholdPct float64, venues ...string) (bool, float64) {
	worst := 0.0
	for _, venue := range venues {
		if vol := v.Volatility(symbol, venue); vol > worst {
			worst = vol
		}
	}
	return worst > thresholdPct, worst
}
