// Package upload drains event queues to the remote API.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haasonsaas/connect/internal/api"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/retry"
)

// DefaultMaxRetryCount bounds upload attempts per flush.
const DefaultMaxRetryCount = 3

// ErrUnauthorized is returned when the server rejects the user token. The
// worker has already invoked OnUnauthorized and will not retry.
var ErrUnauthorized = errors.New("upload rejected: unauthorized")

// Uploader submits one batch of raw queue records.
type Uploader func(ctx context.Context, records [][]byte) error

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Queue is drained by the worker.
	Queue *queue.Queue

	// Upload submits a batch. Required.
	Upload Uploader

	// Retry controls attempts for transient failures. MaxAttempts defaults
	// to DefaultMaxRetryCount.
	Retry retry.Config

	// OnUnauthorized clears local auth state after a 401.
	OnUnauthorized func(ctx context.Context)

	// Logger for worker events.
	Logger *slog.Logger

	// Metrics records flush outcomes. Optional.
	Metrics *observability.Metrics
}

// Worker uploads a queue's contents in one batch per flush.
type Worker struct {
	queue          *queue.Queue
	upload         Uploader
	retry          retry.Config
	onUnauthorized func(ctx context.Context)
	logger         *slog.Logger
	metrics        *observability.Metrics

	flights singleflight.Group
}

// NewWorker creates a Worker.
func NewWorker(config WorkerConfig) *Worker {
	if config.Queue == nil || config.Upload == nil {
		panic("upload: worker requires a queue and an uploader")
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = DefaultMaxRetryCount
	}
	if config.Retry.InitialDelay == 0 {
		config.Retry.InitialDelay = retry.DefaultConfig().InitialDelay
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:          config.Queue,
		upload:         config.Upload,
		retry:          config.Retry,
		onUnauthorized: config.OnUnauthorized,
		logger:         logger.With("component", "upload-worker", "queue", config.Queue.Name()),
		metrics:        config.Metrics,
	}
}

// Name returns the name of the drained queue.
func (w *Worker) Name() string {
	return w.queue.Name()
}

// Flush uploads everything currently queued. Concurrent calls join the flush
// already in flight instead of submitting the same records twice; joined
// callers observe the first caller's result.
func (w *Worker) Flush(ctx context.Context) error {
	_, err, shared := w.flights.Do(w.queue.Name(), func() (any, error) {
		return nil, w.flush(ctx)
	})
	if shared {
		w.logger.Debug("joined in-flight flush")
	}
	return err
}

func (w *Worker) flush(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "upload.flush", "queue", w.queue.Name())
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()

	size := w.queue.Size()
	if size == 0 {
		w.metrics.RecordUpload(w.queue.Name(), "empty", time.Since(start))
		return nil
	}
	records := w.queue.Peek(ctx, size)
	if len(records) == 0 {
		w.metrics.RecordUpload(w.queue.Name(), "empty", time.Since(start))
		return nil
	}

	config := w.retry
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		w.logger.Warn("upload failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	result := retry.Do(ctx, config, func(ctx context.Context, attempt int) error {
		err := w.upload(ctx, records)
		if err != nil && !api.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})

	if result.Err != nil {
		if api.IsUnauthorized(result.Err) {
			w.logger.Warn("upload unauthorized, clearing user token", "records", len(records))
			if w.onUnauthorized != nil {
				w.onUnauthorized(ctx)
			}
			w.metrics.RecordUpload(w.queue.Name(), "unauthorized", time.Since(start))
			return fmt.Errorf("%w: %w", ErrUnauthorized, result.Err)
		}
		w.logger.Error("upload failed, records stay queued",
			"records", len(records),
			"attempts", result.Attempts,
			"error", result.Err,
		)
		w.metrics.RecordUpload(w.queue.Name(), "error", time.Since(start))
		return result.Err
	}

	if err := w.queue.Remove(ctx, len(records)); err != nil {
		w.metrics.RecordUpload(w.queue.Name(), "error", time.Since(start))
		return err
	}
	w.logger.Debug("flushed queue", "records", len(records), "attempts", result.Attempts)
	w.metrics.RecordUpload(w.queue.Name(), "success", time.Since(start))
	return nil
}
