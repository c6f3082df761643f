package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/Sohayok/common/retry"
)

func fastConfig(attempts int) retry.Config {
	return retry.Config{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0
	busy := errors.New("database is locked")
	err := retry.Do(context.Background(), fastConfig(4), func() error {
		calls++
		if calls < 3 {
			return busy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	busy := errors.New("busy")
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return busy
	})
	if !errors.Is(err, busy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonRetryable(t *testing.T) {
	constraint := errors.New("constraint failed")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, constraint) }

	calls := 0
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return constraint
	})
	if !errors.Is(err, constraint) {
		t.Fatalf("expected constraint error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

func TestValue_ReturnsResult(t *testing.T) {
	calls := 0
	got, err := retry.Value(context.Background(), fastConfig(2), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("busy")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}
