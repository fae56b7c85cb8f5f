// Package retry runs operations with bounded attempts and exponential backoff.
// Errors wrapped with Permanent stop the loop immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted wraps the last error once every attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier applied after each failure.
	Factor float64
	// Jitter randomizes each delay within [0.5, 1.5) of its base value.
	Jitter bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the configuration used for event uploads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Result describes the outcome of Do.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is nil on success. After exhaustion it wraps ErrAttemptsExhausted and
	// the last error; a permanent failure is returned unwrapped from Permanent.
	Err error
	// Duration is the total time spent.
	Duration time.Duration
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Do executes op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done.
func Do(ctx context.Context, config Config, op func(ctx context.Context, attempt int) error) Result {
	config = config.normalized()
	start := time.Now()
	result := Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}
		result.Attempts = attempt

		err := op(ctx, attempt)
		if err == nil {
			result.Err = nil
			break
		}
		var permanent *PermanentError
		if errors.As(err, &permanent) {
			result.Err = permanent.Err
			break
		}
		if attempt == config.MaxAttempts {
			result.Err = errors.Join(ErrAttemptsExhausted, err)
			break
		}

		delay := Delay(config, attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue is Do for operations producing a value.
func DoWithValue[T any](ctx context.Context, config Config, op func(ctx context.Context, attempt int) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func(ctx context.Context, attempt int) error {
		v, err := op(ctx, attempt)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, result
}

// Delay returns the wait before the attempt following the given one.
func Delay(config Config, attempt int) time.Duration {
	config = config.normalized()
	if attempt <= 0 {
		attempt = 1
	}
	base := float64(config.InitialDelay) * math.Pow(config.Factor, float64(attempt-1))
	if base > float64(config.MaxDelay) {
		base = float64(config.MaxDelay)
	}
	if config.Jitter {
		base *= 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	}
	return time.Duration(base)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that Do stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
