// Package queue implements the bounded, ordered event queue that buffers
// analytics and location records until they are uploaded.
//
// Add, Peek and Remove run under one mutex, so a Peek followed by Remove(n)
// with the peeked count removes exactly the peeked records even while other
// goroutines keep adding. When the bound is reached, Add evicts the oldest
// record before appending. Persistence is best effort: I/O failures are logged
// and never returned to the producer.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/connect/internal/observability"
)

// DefaultMaxSize bounds a queue when Options.MaxSize is unset.
const DefaultMaxSize = 1000

// backend is the storage a Queue serializes access to. Implementations need
// not be safe for concurrent use.
type backend interface {
	count(ctx context.Context) (int, error)
	push(ctx context.Context, record []byte) error
	head(ctx context.Context, n int) ([][]byte, error)
	drop(ctx context.Context, n int) error
	close() error
}

// Options configures a Queue.
type Options struct {
	// Name labels the queue in logs and metrics, e.g. "analytics".
	Name string
	// DB is the sqlite database holding the queue table. Nil selects memory.
	DB *sql.DB
	// Table is the sqlite table name. Defaults to "<name>_queue".
	Table string
	// MaxSize bounds the number of stored records.
	MaxSize int
	// OnAdd is called after every successful Add with the new size.
	OnAdd func(size int)
	// Logger for queue events.
	Logger *slog.Logger
	// Metrics records queue size and drops. Optional.
	Metrics *observability.Metrics
}

// Queue is a bounded FIFO of opaque records.
type Queue struct {
	name    string
	max     int
	onAdd   func(int)
	logger  *slog.Logger
	metrics *observability.Metrics
	durable bool

	mu    sync.Mutex
	store backend
	size  int
}

// Open returns a queue backed by Options.DB. Any failure to prepare the
// durable store yields a memory queue with the same semantics instead.
func Open(ctx context.Context, opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = "events"
	}
	if opts.Table == "" {
		opts.Table = opts.Name + "_queue"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue", "queue", opts.Name)

	q := &Queue{
		name:    opts.Name,
		max:     opts.MaxSize,
		onAdd:   opts.OnAdd,
		logger:  logger,
		metrics: opts.Metrics,
	}

	if opts.DB != nil {
		store, size, err := openSQLite(ctx, opts.DB, opts.Table)
		if err == nil {
			q.store = store
			q.size = size
			q.durable = true
			q.trimLocked(ctx)
			q.metrics.SetQueueSize(q.name, q.size)
			return q
		}
		logger.Warn("durable queue unavailable, falling back to memory", "error", err)
	}

	q.store = newMemoryBackend(opts.MaxSize)
	q.metrics.SetQueueSize(q.name, 0)
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Durable reports whether records survive a process restart.
func (q *Queue) Durable() bool { return q.durable }

// Add appends record, evicting the oldest record first when the queue is full.
func (q *Queue) Add(ctx context.Context, record []byte) {
	q.mu.Lock()
	if q.size >= q.max {
		if err := q.store.drop(ctx, 1); err != nil {
			q.mu.Unlock()
			q.logger.Error("evict oldest record", "error", err)
			q.metrics.RecordDrop(q.name, "write_error")
			return
		}
		q.size--
		q.metrics.RecordDrop(q.name, "evicted")
	}
	if err := q.store.push(ctx, record); err != nil {
		q.mu.Unlock()
		q.logger.Error("append record", "error", err)
		q.metrics.RecordDrop(q.name, "write_error")
		return
	}
	q.size++
	size := q.size
	onAdd := q.onAdd
	q.mu.Unlock()

	q.metrics.SetQueueSize(q.name, size)
	if onAdd != nil {
		onAdd(size)
	}
}

// SetOnAdd replaces the hook called after each successful Add.
func (q *Queue) SetOnAdd(fn func(size int)) {
	q.mu.Lock()
	q.onAdd = fn
	q.mu.Unlock()
}

// Peek returns up to n records from the head in insertion order without
// removing them. Read failures yield an empty result.
func (q *Queue) Peek(ctx context.Context, n int) [][]byte {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	records, err := q.store.head(ctx, n)
	if err != nil {
		q.logger.Error("peek records", "error", err, "count", n)
		return nil
	}
	return records
}

// Remove deletes the first n records. Callers pass the length of the slice a
// preceding Peek returned, once those records are safely uploaded.
func (q *Queue) Remove(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	if n > q.size {
		n = q.size
	}
	err := q.store.drop(ctx, n)
	if err != nil {
		q.resyncLocked(ctx)
	} else {
		q.size -= n
	}
	size := q.size
	q.mu.Unlock()

	q.metrics.SetQueueSize(q.name, size)
	if err != nil {
		return fmt.Errorf("remove %d records from %s: %w", n, q.name, err)
	}
	return nil
}

// Size returns the number of stored records.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close releases the backend. The shared database is not closed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.close()
}

// trimLocked enforces the bound on a store persisted with a larger limit.
func (q *Queue) trimLocked(ctx context.Context) {
	if q.size <= q.max {
		return
	}
	excess := q.size - q.max
	if err := q.store.drop(ctx, excess); err != nil {
		q.logger.Warn("trim oversized queue", "error", err, "excess", excess)
		return
	}
	q.size = q.max
}

func (q *Queue) resyncLocked(ctx context.Context) {
	size, err := q.store.count(ctx)
	if err != nil {
		q.logger.Warn("recount queue", "error", err)
		return
	}
	q.size = size
}
