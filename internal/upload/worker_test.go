package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/retry"
	"github.com/haasonsaas/connect/pkg/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func filledQueue(t *testing.T, records ...string) *queue.Queue {
	t.Helper()
	q := queue.Open(context.Background(), queue.Options{Name: "analytics", Logger: quietLogger()})
	for _, r := range records {
		q.Add(context.Background(), []byte(r))
	}
	return q
}

var (
	errServer       = &models.ErrorResponse{Code: "bad_gateway", Status: http.StatusBadGateway}
	errUnauthorized = &models.ErrorResponse{Code: models.ErrorCodeUnauthorized, Status: http.StatusUnauthorized}
	errInvalid      = &models.ErrorResponse{Code: "invalid_event", Status: http.StatusUnprocessableEntity}
)

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	called := false
	w := NewWorker(WorkerConfig{
		Queue:  filledQueue(t),
		Upload: func(ctx context.Context, records [][]byte) error { called = true; return nil },
		Logger: quietLogger(),
	})
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if called {
		t.Fatal("upload called for empty queue")
	}
}

func TestFlushUploadsAndRemoves(t *testing.T) {
	q := filledQueue(t, "a", "b", "c")
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var uploaded []string
	w := NewWorker(WorkerConfig{
		Queue: q,
		Upload: func(ctx context.Context, records [][]byte) error {
			for _, r := range records {
				uploaded = append(uploaded, string(r))
			}
			return nil
		},
		Retry:   fastRetry(),
		Logger:  quietLogger(),
		Metrics: metrics,
	})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if fmt.Sprint(uploaded) != "[a b c]" {
		t.Fatalf("uploaded = %v", uploaded)
	}
	if q.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", q.Size())
	}
	if got := testutil.ToFloat64(metrics.UploadCounter.WithLabelValues("analytics", "success")); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
}

func TestFlushRetriesTransientFailures(t *testing.T) {
	q := filledQueue(t, "a")
	calls := 0
	w := NewWorker(WorkerConfig{
		Queue: q,
		Upload: func(ctx context.Context, records [][]byte) error {
			calls++
			if calls < 3 {
				return errServer
			}
			return nil
		},
		Retry:  fastRetry(),
		Logger: quietLogger(),
	})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if calls != 3 || q.Size() != 0 {
		t.Fatalf("calls = %d, size = %d", calls, q.Size())
	}
}

func TestFlushKeepsRecordsAfterExhaustion(t *testing.T) {
	q := filledQueue(t, "a", "b")
	calls := 0
	w := NewWorker(WorkerConfig{
		Queue:  q,
		Upload: func(ctx context.Context, records [][]byte) error { calls++; return errors.New("connection reset") },
		Retry:  fastRetry(),
		Logger: quietLogger(),
	})

	err := w.Flush(context.Background())
	if !errors.Is(err, retry.ErrAttemptsExhausted) {
		t.Fatalf("Flush() error = %v, want ErrAttemptsExhausted", err)
	}
	if calls != DefaultMaxRetryCount {
		t.Fatalf("calls = %d, want %d", calls, DefaultMaxRetryCount)
	}
	if q.Size() != 2 {
		t.Fatalf("Size() = %d, records must stay queued", q.Size())
	}
}

func TestFlushUnauthorizedClearsAuthWithoutRetry(t *testing.T) {
	q := filledQueue(t, "a")
	calls := 0
	cleared := 0
	w := NewWorker(WorkerConfig{
		Queue:          q,
		Upload:         func(ctx context.Context, records [][]byte) error { calls++; return errUnauthorized },
		OnUnauthorized: func(ctx context.Context) { cleared++ },
		Retry:          fastRetry(),
		Logger:         quietLogger(),
	})

	err := w.Flush(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Flush() error = %v, want ErrUnauthorized", err)
	}
	if calls != 1 {
		t.Fatalf("upload calls = %d, want 1", calls)
	}
	if cleared != 1 {
		t.Fatalf("OnUnauthorized calls = %d, want 1", cleared)
	}
	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", q.Size())
	}
}

func TestFlushDoesNotRetryLogicalErrors(t *testing.T) {
	calls := 0
	w := NewWorker(WorkerConfig{
		Queue:  filledQueue(t, "a"),
		Upload: func(ctx context.Context, records [][]byte) error { calls++; return errInvalid },
		Retry:  fastRetry(),
		Logger: quietLogger(),
	})
	if err := w.Flush(context.Background()); !errors.Is(err, errInvalid) {
		t.Fatalf("Flush() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFlushRemovesOnlyUploadedRecords(t *testing.T) {
	q := filledQueue(t, "a", "b")
	w := NewWorker(WorkerConfig{
		Queue: q,
		Upload: func(ctx context.Context, records [][]byte) error {
			q.Add(ctx, []byte("late"))
			return nil
		},
		Retry:  fastRetry(),
		Logger: quietLogger(),
	})

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	rest := q.Peek(context.Background(), 10)
	if len(rest) != 1 || string(rest[0]) != "late" {
		t.Fatalf("remaining = %q, want [late]", rest)
	}
}

func TestConcurrentFlushesShareOneUpload(t *testing.T) {
	q := filledQueue(t, "a", "b")
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	w := NewWorker(WorkerConfig{
		Queue: q,
		Upload: func(ctx context.Context, records [][]byte) error {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-release
			return nil
		},
		Retry:  fastRetry(),
		Logger: quietLogger(),
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- w.Flush(context.Background())
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- w.Flush(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("upload calls = %d, want 1", calls.Load())
	}
	if q.Size() != 0 {
		t.Fatalf("Size() = %d", q.Size())
	}
}

func TestNewWorkerRequiresDependencies(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewWorker(WorkerConfig{})
}
