package bot

import (
	"time"

	"spreadarb/internal/models"
	"spreadarb/pkg/utils"
)

// RiskEvent - срабатывание или снятие выключателя
type RiskEvent struct {
	Breaker models.BreakerKind `json:"breaker"`
	Tripped bool               `json:"tripped"` // false - снят
	At      time.Time          `json:"at"`
	Detail  string             `json:"detail"`
}

// breakerLimits - пороги выключателей на момент проверки
type breakerLimits struct {
	maxDailyLoss   float64
	maxTradesHour  int
	apiErrorLimit  int
	apiErrorWindow time.Duration
	noDataTimeout  time.Duration
}

// CircuitBreakerState - счетчики и флаги выключателей.
// Принадлежит RiskManager и изменяется только под его мьютексом.
type CircuitBreakerState struct {
	day             string
	dailyPnl        float64
	tradeTimes      []time.Time
	apiErrors       []time.Time
	lastOpportunity time.Time
	tripped         map[models.BreakerKind]time.Time
}

func newCircuitBreakerState(now time.Time) *CircuitBreakerState {
	return &CircuitBreakerState{
		day:             utils.DayKey(now),
		lastOpportunity: now,
		tripped:         make(map[models.BreakerKind]time.Time),
	}
}

// pruneBefore отбрасывает отметки раньше cutoff. Отметки идут по возрастанию.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// rollover сбрасывает дневной PnL при смене UTC дня. true - день сменился.
func (s *CircuitBreakerState) rollover(now time.Time) bool {
	day := utils.DayKey(now)
	if day == s.day {
		return false
	}
	s.day = day
	s.dailyPnl = 0
	return true
}

// evaluate пересчитывает флаги и возвращает переходы.
// Каждый флаг снимается только своим условием.
func (s *CircuitBreakerState) evaluate(now time.Time, lim breakerLimits) []RiskEvent {
	dayChanged := s.rollover(now)
	s.tradeTimes = pruneBefore(s.tradeTimes, now.Add(-time.Hour))
	s.apiErrors = pruneBefore(s.apiErrors, now.Add(-lim.apiErrorWindow))

	var events []RiskEvent
	set := func(kind models.BreakerKind, trip, clear bool, detail string) {
		_, on := s.tripped[kind]
		switch {
		case !on && trip:
			s.tripped[kind] = now
			events = append(events, RiskEvent{Breaker: kind, Tripped: true, At: now, Detail: detail})
		case on && clear:
			delete(s.tripped, kind)
			events = append(events, RiskEvent{Breaker: kind, Tripped: false, At: now, Detail: detail})
		}
	}

	// DailyLoss снимается только сменой дня, даже если PnL вернулся выше порога
	set(models.BreakerDailyLoss,
		lim.maxDailyLoss > 0 && s.dailyPnl <= -lim.maxDailyLoss,
		dayChanged,
		"daily realized pnl limit")

	errCount := len(s.apiErrors)
	set(models.BreakerAPIErrorRate,
		lim.apiErrorLimit > 0 && errCount >= lim.apiErrorLimit,
		errCount < lim.apiErrorLimit,
		"adapter errors in trailing window")

	tradeCount := len(s.tradeTimes)
	set(models.BreakerTradeRate,
		lim.maxTradesHour > 0 && tradeCount >= lim.maxTradesHour,
		tradeCount < lim.maxTradesHour,
		"trades in trailing hour")

	// NoData снимается в observeOpportunity
	set(models.BreakerNoData,
		lim.noDataTimeout > 0 && now.Sub(s.lastOpportunity) >= lim.noDataTimeout,
		false,
		"no qualifying opportunity")

	return events
}

// observeOpportunity отмечает новую возможность и снимает NoData
func (s *CircuitBreakerState) observeOpportunity(now time.Time) *RiskEvent {
	if now.After(s.lastOpportunity) {
		s.lastOpportunity = now
	}
	if _, on := s.tripped[models.BreakerNoData]; !on {
		return nil
	}
	delete(s.tripped, models.BreakerNoData)
	return &RiskEvent{Breaker: models.BreakerNoData, Tripped: false, At: now, Detail: "opportunity arrived"}
}

// firstTripped возвращает первый сработавший выключатель в порядке AllBreakers
func (s *CircuitBreakerState) firstTripped() (models.BreakerKind, bool) {
	for _, kind := range models.AllBreakers {
		if _, on := s.tripped[kind]; on {
			return kind, true
		}
	}
	return "", false
}

func (s *CircuitBreakerState) status() models.BreakerStatus {
	st := models.BreakerStatus{
		DailyPnlUSD:       s.dailyPnl,
		TradesThisHour:    len(s.tradeTimes),
		APIErrorsWindow:   len(s.apiErrors),
		LastOpportunityAt: s.lastOpportunity,
		Tripped:           []models.BreakerKind{},
		TrippedAt:         make(map[models.BreakerKind]time.Time, len(s.tripped)),
		Day:               s.day,
	}
	for _, kind := range models.AllBreakers {
		if at, on := s.tripped[kind]; on {
			st.Tripped = append(st.Tripped, kind)
			st.TrippedAt[kind] = at
		}
	}
	return st
}
