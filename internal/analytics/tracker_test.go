package analytics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/storage"
)

func newTracker(t *testing.T) (*Tracker, *queue.Queue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.Open(context.Background(), queue.Options{Name: "analytics", MaxSize: 10, Logger: logger})
	tracker := NewTracker(q, storage.NewPreferences(storage.NewMemoryKV(), logger), logger)
	tracker.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(tracker.Close)
	return tracker, q
}

func syncTracker(t *testing.T, tracker *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracker.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestTrackEnqueuesEvent(t *testing.T) {
	tracker, q := newTracker(t)
	ctx := context.Background()

	tracker.Click(ctx, "conn-1", "button")
	tracker.StateChange(ctx, "conn-1", "initial", "login")
	syncTracker(t, tracker)

	events, skipped := Decode(q.Peek(ctx, 10))
	if skipped != 0 || len(events) != 2 {
		t.Fatalf("Decode() = %d events, %d skipped", len(events), skipped)
	}
	click := events[0]
	if click.Name != EventClick || click.Properties[PropTarget] != "button" || click.Properties[PropObjectID] != "conn-1" {
		t.Fatalf("click = %+v", click)
	}
	if click.Properties[PropAnonymousID] == "" {
		t.Error("anonymous id missing")
	}
	if events[1].Properties[PropAnonymousID] != click.Properties[PropAnonymousID] {
		t.Error("anonymous id must be stable")
	}
	if !click.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", click.Timestamp)
	}
	if events[1].Properties[PropFrom] != "initial" || events[1].Properties[PropTo] != "login" {
		t.Errorf("state change = %+v", events[1])
	}
}

func TestTrackDoesNotAliasProperties(t *testing.T) {
	tracker, q := newTracker(t)
	ctx := context.Background()
	props := map[string]string{"k": "v"}
	tracker.Track(ctx, "custom", props)
	syncTracker(t, tracker)
	if _, ok := props[PropAnonymousID]; ok {
		t.Fatal("Track mutated the caller's map")
	}
	if q.Size() != 1 {
		t.Fatalf("Size() = %d", q.Size())
	}
}

func TestOptOutStopsTracking(t *testing.T) {
	tracker, q := newTracker(t)
	ctx := context.Background()

	if err := tracker.SetOptOut(ctx, true); err != nil {
		t.Fatalf("SetOptOut() error = %v", err)
	}
	tracker.Impression(ctx, "conn-1")
	syncTracker(t, tracker)
	if q.Size() != 0 {
		t.Fatalf("Size() after opt-out = %d", q.Size())
	}

	tracker.SetOptOut(ctx, false)
	tracker.Impression(ctx, "conn-1")
	syncTracker(t, tracker)
	if q.Size() != 1 {
		t.Fatalf("Size() after opt-in = %d", q.Size())
	}
}

func TestNilTrackerIsNoop(t *testing.T) {
	var tracker *Tracker
	tracker.Click(context.Background(), "conn-1", "button")
	if err := tracker.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() on nil tracker = %v", err)
	}
	tracker.Close()
}

func TestDecodeSkipsCorruptRecords(t *testing.T) {
	events, skipped := Decode([][]byte{
		[]byte(`{"name":"sdk.click","timestamp":"2026-03-01T12:00:00Z"}`),
		[]byte(`not json`),
		[]byte(`{"timestamp":"2026-03-01T12:00:00Z"}`),
	})
	if len(events) != 1 || skipped != 2 {
		t.Fatalf("Decode() = %d events, %d skipped", len(events), skipped)
	}
}

func TestOptOutAppliesInTrackingOrder(t *testing.T) {
	tracker, q := newTracker(t)
	ctx := context.Background()

	tracker.Impression(ctx, "conn-1")
	if err := tracker.SetOptOut(ctx, true); err != nil {
		t.Fatalf("SetOptOut() error = %v", err)
	}
	tracker.Impression(ctx, "conn-1")
	syncTracker(t, tracker)

	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want the event tracked before opt-out only", q.Size())
	}
}

// gatedQueue returns a queue whose first Add stalls the writer until release
// is closed. entered is closed once the writer is stalled.
func gatedQueue(maxSize int) (q *queue.Queue, entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	q = queue.Open(context.Background(), queue.Options{
		Name:    "analytics",
		MaxSize: maxSize,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnAdd: func(int) {
			once.Do(func() {
				close(entered)
				<-release
			})
		},
	})
	return q, entered, release
}

func TestTrackDoesNotWaitForQueueWrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, entered, release := gatedQueue(1000)
	tracker := NewTracker(q, storage.NewPreferences(storage.NewMemoryKV(), logger), logger)
	defer tracker.Close()
	ctx := context.Background()

	tracker.Click(ctx, "conn-1", "button")
	<-entered

	returned := make(chan struct{})
	go func() {
		for i := 0; i < BufferSize+1; i++ {
			tracker.Click(ctx, "conn-1", "button")
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Track blocked on a stalled queue write")
	}

	close(release)
	syncTracker(t, tracker)
	if got, want := q.Size(), 1+BufferSize; got != want {
		t.Fatalf("Size() = %d, want %d with the overflow dropped", got, want)
	}
}

func TestTrackWithSlowDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS analytics_queue").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM analytics_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO analytics_queue").
		WillDelayFor(300 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(1, 1))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.Open(context.Background(), queue.Options{Name: "analytics", DB: db, Logger: logger})
	tracker := NewTracker(q, storage.NewPreferences(storage.NewMemoryKV(), logger), logger)
	defer tracker.Close()

	start := time.Now()
	tracker.Impression(context.Background(), "conn-1")
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Fatalf("Impression() took %v, waiting on the insert", elapsed)
	}

	syncTracker(t, tracker)
	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", q.Size())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCloseWritesBufferedEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.Open(context.Background(), queue.Options{Name: "analytics", MaxSize: 10, Logger: logger})
	tracker := NewTracker(q, storage.NewPreferences(storage.NewMemoryKV(), logger), logger)
	ctx := context.Background()

	tracker.Click(ctx, "conn-1", "a")
	tracker.Click(ctx, "conn-1", "b")
	tracker.Close()
	if q.Size() != 2 {
		t.Fatalf("Size() after Close = %d, want 2", q.Size())
	}

	tracker.Click(ctx, "conn-1", "c")
	tracker.Close()
	if q.Size() != 2 {
		t.Fatalf("event tracked after Close was written: Size() = %d", q.Size())
	}
}
