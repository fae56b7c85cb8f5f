// Package analytics records SDK usage events into the analytics queue.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/storage"
	"github.com/haasonsaas/connect/pkg/models"
)

// Event names.
const (
	EventImpression  = "sdk.impression"
	EventClick       = "sdk.click"
	EventStateChange = "sdk.state_change"
	EventError       = "sdk.error"
)

// Property keys.
const (
	PropAnonymousID = "anonymous_id"
	PropObjectID    = "object_id"
	PropTarget      = "target"
	PropFrom        = "from"
	PropTo          = "to"
	PropErrorCode   = "error_code"
)

// BufferSize bounds the events waiting for the background writer. Events
// tracked while the buffer is full are dropped.
const BufferSize = 256

// Tracker turns SDK actions into AnalyticsEvents and enqueues them. Tracking
// never fails or blocks from the caller's point of view: events are handed to
// a single background writer that applies the opt-out flag, stamps the
// anonymous ID and appends to the queue in tracking order.
type Tracker struct {
	queue  *queue.Queue
	prefs  *storage.Preferences
	logger *slog.Logger
	now    func() time.Time

	buffer chan pending
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// pending is a tracked event, or a sync marker when synced is set.
type pending struct {
	event  models.AnalyticsEvent
	synced chan struct{}
}

// NewTracker builds a Tracker writing to q and starts its writer. Close stops
// it.
func NewTracker(q *queue.Queue, prefs *storage.Preferences, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		queue:  q,
		prefs:  prefs,
		logger: logger.With("component", "analytics"),
		now:    time.Now,
		buffer: make(chan pending, BufferSize),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writeLoop()
	return t
}

// Enabled reports whether events are being recorded.
func (t *Tracker) Enabled(ctx context.Context) bool {
	return t != nil && !t.prefs.OptedOut(ctx)
}

// SetOptOut persists the user's analytics choice. Events tracked before the
// call are written under the previous choice.
func (t *Tracker) SetOptOut(ctx context.Context, optOut bool) error {
	if err := t.Sync(ctx); err != nil {
		return err
	}
	return t.prefs.SetOptOut(ctx, optOut)
}

// Track hands an event named name to the writer. The installation's anonymous
// ID is added to props when the event is written. Nothing is recorded after
// opt-out.
func (t *Tracker) Track(ctx context.Context, name string, props map[string]string) {
	if t == nil {
		return
	}
	event := models.AnalyticsEvent{
		Name:       name,
		Timestamp:  t.now().UTC(),
		Properties: make(map[string]string, len(props)+1),
	}
	for k, v := range props {
		event.Properties[k] = v
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Debug("tracker closed, dropping event", "event", name)
		return
	}
	select {
	case t.buffer <- pending{event: event}:
	default:
		t.logger.Warn("analytics backlog full, dropping event", "event", name)
	}
}

// Sync waits until every event tracked before the call has been written.
func (t *Tracker) Sync(ctx context.Context) error {
	if t == nil {
		return nil
	}
	synced := make(chan struct{})

	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil
	}
	select {
	case t.buffer <- pending{synced: synced}:
		t.mu.RUnlock()
	case <-ctx.Done():
		t.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes the remaining events and stops the writer. Later events are
// dropped.
func (t *Tracker) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
}

func (t *Tracker) writeLoop() {
	defer t.wg.Done()
	ctx := context.Background()
	for {
		select {
		case p := <-t.buffer:
			t.write(ctx, p)
		case <-t.done:
			for {
				select {
				case p := <-t.buffer:
					t.write(ctx, p)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) write(ctx context.Context, p pending) {
	if p.synced != nil {
		close(p.synced)
		return
	}
	if t.prefs.OptedOut(ctx) {
		return
	}
	p.event.Properties[PropAnonymousID] = t.prefs.AnonymousID(ctx)

	record, err := json.Marshal(p.event)
	if err != nil {
		t.logger.Error("encode analytics event", "event", p.event.Name, "error", err)
		return
	}
	t.queue.Add(ctx, record)
}

// Impression records that the button for connectionID became visible.
func (t *Tracker) Impression(ctx context.Context, connectionID string) {
	t.Track(ctx, EventImpression, map[string]string{PropObjectID: connectionID})
}

// Click records a user interaction with target on the button.
func (t *Tracker) Click(ctx context.Context, connectionID, target string) {
	t.Track(ctx, EventClick, map[string]string{PropObjectID: connectionID, PropTarget: target})
}

// StateChange records a button state transition.
func (t *Tracker) StateChange(ctx context.Context, connectionID, from, to string) {
	t.Track(ctx, EventStateChange, map[string]string{PropObjectID: connectionID, PropFrom: from, PropTo: to})
}

// Error records an error surfaced to the host app.
func (t *Tracker) Error(ctx context.Context, connectionID, code string) {
	t.Track(ctx, EventError, map[string]string{PropObjectID: connectionID, PropErrorCode: code})
}

// Decode parses queued records. Records that fail to parse are skipped and
// counted so one corrupt record cannot block the queue.
func Decode(records [][]byte) ([]models.AnalyticsEvent, int) {
	events := make([]models.AnalyticsEvent, 0, len(records))
	skipped := 0
	for _, record := range records {
		var event models.AnalyticsEvent
		if err := json.Unmarshal(record, &event); err != nil || event.Name == "" {
			skipped++
			continue
		}
		events = append(events, event)
	}
	return events, skipped
}
