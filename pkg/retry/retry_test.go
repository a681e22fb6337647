package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("venue down")

	err := Do(context.Background(), fastConfig(4), func(ctx context.Context) error {
		calls++
		return sentinel
	})

	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if got := Attempts(err); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("insufficient balance"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if Attempts(err) != 1 {
		t.Errorf("expected 1 attempt, got %d", Attempts(err))
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(ctx context.Context) error {
			calls++
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func(ctx context.Context) (float64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("rate limit")
		}
		return 101.5, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 101.5 {
		t.Errorf("expected 101.5, got %v", got)
	}
}

func TestRetryIfNotContext(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", errors.New("boom"), true},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"wrapped deadline", errors.Join(errors.New("leg"), context.DeadlineExceeded), false},
		{"permanent", Permanent(errors.New("bad symbol")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryIfNotContext(tt.err); got != tt.want {
				t.Errorf("RetryIfNotContext(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigDelay_Capped(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	if d := cfg.Delay(0); d != 100*time.Millisecond {
		t.Errorf("attempt 0: expected 100ms, got %v", d)
	}
	if d := cfg.Delay(1); d != 200*time.Millisecond {
		t.Errorf("attempt 1: expected 200ms, got %v", d)
	}
	if d := cfg.Delay(5); d != 300*time.Millisecond {
		t.Errorf("attempt 5: expected cap 300ms, got %v", d)
	}
}
