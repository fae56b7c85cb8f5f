package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	var seen []int
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if fmt.Sprint(seen) != "[1 2 3]" {
		t.Errorf("attempt numbers = %v", seen)
	}
}

func TestDo_AttemptsExhausted(t *testing.T) {
	cause := errors.New("always fails")
	var retries int
	config := fastConfig(3)
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries++
	}

	result := Do(context.Background(), config, func(ctx context.Context, attempt int) error {
		return cause
	})

	if !errors.Is(result.Err, ErrAttemptsExhausted) {
		t.Errorf("expected ErrAttemptsExhausted, got %v", result.Err)
	}
	if !errors.Is(result.Err, cause) {
		t.Errorf("expected wrapped cause, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if retries != 2 {
		t.Errorf("expected 2 OnRetry calls, got %d", retries)
	}
}

func TestDo_PermanentErrorStops(t *testing.T) {
	cause := errors.New("unauthorized")
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(fmt.Errorf("upload: %w", cause))
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(result.Err, cause) {
		t.Errorf("expected cause, got %v", result.Err)
	}
	if IsPermanent(result.Err) {
		t.Error("result error should be unwrapped from PermanentError")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second}

	calls := 0
	result := Do(ctx, config, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Errorf("expected 0 calls, got %d", calls)
	}
	if result.Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", result.Attempts)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Do(context.Background(), Config{}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithValue(t *testing.T) {
	value, result := DoWithValue(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) (string, error) {
		if attempt < 2 {
			return "partial", errors.New("retry")
		}
		return "done", nil
	})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if value != "done" {
		t.Errorf("expected done, got %q", value)
	}
}

func TestDelay(t *testing.T) {
	config := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := Delay(config, tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_Jitter(t *testing.T) {
	config := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		d := Delay(config, 1)
		if d < 50*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("Delay with jitter = %v, want within [50ms, 150ms)", d)
		}
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", Permanent(cause))
	if !IsPermanent(err) {
		t.Error("IsPermanent should see through wrapping")
	}
	if !errors.Is(err, cause) {
		t.Error("Permanent should unwrap to its cause")
	}
	if IsPermanent(cause) {
		t.Error("plain error reported as permanent")
	}
}
