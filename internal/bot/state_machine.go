package bot

import (
	"errors"
	"fmt"

	"spreadarb/internal/models"
)

// ErrInvalidTransition - недопустимый переход исхода сделки
var ErrInvalidTransition = errors.New("invalid trade outcome transition")

// ValidTransitions определяет допустимые переходы исхода сделки.
// Финальные исходы (completed, unhedged, failed) переходов не имеют.
var ValidTransitions = map[string][]string{
	models.OutcomePending:   {models.OutcomeBuyFilled, models.OutcomeFailed},
	models.OutcomeBuyFilled: {models.OutcomeCompleted, models.OutcomeUnhedged},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// advance переводит сделку в новый исход
func advance(t *models.Trade, to string) error {
	if !CanTransition(t.Outcome, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Outcome, to)
	}
	t.Outcome = to
	return nil
}

// OutcomeInfo возвращает описание исхода для уведомлений
func OutcomeInfo(outcome string) string {
	switch outcome {
	case models.OutcomePending:
		return "Legs not submitted yet"
	case models.OutcomeBuyFilled:
		return "Buy leg filled, selling"
	case models.OutcomeCompleted:
		return "Both legs filled"
	case models.OutcomeUnhedged:
		return "Buy leg filled, sell leg failed: manual action required"
	case models.OutcomeFailed:
		return "Buy leg not filled, no position"
	default:
		return "Unknown outcome"
	}
}
