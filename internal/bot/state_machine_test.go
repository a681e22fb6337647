package bot

import (
	"errors"
	"testing"

	"spreadarb/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending → buy_filled", models.OutcomePending, models.OutcomeBuyFilled, true},
		{"pending → failed", models.OutcomePending, models.OutcomeFailed, true},
		{"buy_filled → completed", models.OutcomeBuyFilled, models.OutcomeCompleted, true},
		{"buy_filled → unhedged", models.OutcomeBuyFilled, models.OutcomeUnhedged, true},

		{"pending → completed skips buy", models.OutcomePending, models.OutcomeCompleted, false},
		{"pending → unhedged skips buy", models.OutcomePending, models.OutcomeUnhedged, false},
		{"buy_filled → failed", models.OutcomeBuyFilled, models.OutcomeFailed, false},
		{"completed is final", models.OutcomeCompleted, models.OutcomeUnhedged, false},
		{"unhedged is final", models.OutcomeUnhedged, models.OutcomeCompleted, false},
		{"failed is final", models.OutcomeFailed, models.OutcomeBuyFilled, false},
		{"unknown source", "bogus", models.OutcomeCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	trade := &models.Trade{Outcome: models.OutcomePending}

	if err := advance(trade, models.OutcomeBuyFilled); err != nil {
		t.Fatalf("advance to buy_filled: %v", err)
	}
	if err := advance(trade, models.OutcomeCompleted); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	if !trade.IsFinal() {
		t.Error("completed trade should be final")
	}

	err := advance(trade, models.OutcomeUnhedged)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if trade.Outcome != models.OutcomeCompleted {
		t.Errorf("outcome changed after rejected transition: %s", trade.Outcome)
	}
}

func TestFinalOutcomesHaveNoTransitions(t *testing.T) {
	for _, outcome := range []string{models.OutcomeCompleted, models.OutcomeUnhedged, models.OutcomeFailed} {
		if next := ValidTransitions[outcome]; len(next) != 0 {
			t.Errorf("final outcome %s has transitions %v", outcome, next)
		}
	}
}

func TestOutcomeInfo(t *testing.T) {
	for _, outcome := range []string{
		models.OutcomePending, models.OutcomeBuyFilled, models.OutcomeCompleted,
		models.OutcomeUnhedged, models.OutcomeFailed,
	} {
		if OutcomeInfo(outcome) == "Unknown outcome" {
			t.Errorf("missing description for %s", outcome)
		}
	}
	if OutcomeInfo("bogus") != "Unknown outcome" {
		t.Error("expected fallback description")
	}
}
