package connect

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/connect/internal/analytics"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/pkg/models"
)

// StateListener observes state changes. conn is the connection the new state
// was derived from.
type StateListener func(current, previous ButtonState, conn *models.Connection)

// ErrorListener observes errors surfaced to the host app.
type ErrorListener func(err *models.ErrorResponse)

// MachineConfig configures a Machine.
type MachineConfig struct {
	Tracker *analytics.Tracker
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Machine holds the current connection and button state and notifies
// listeners of changes.
//
// The connection and state are replaced together. Listeners run outside the
// state lock, one at a time and in transition order; a listener may call back
// into the Machine.
type Machine struct {
	tracker *analytics.Tracker
	metrics *observability.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	conn  *models.Connection
	state ButtonState

	listenersMu    sync.RWMutex
	stateListeners []StateListener
	errorListeners []ErrorListener

	outMu    sync.Mutex
	outbox   []notification
	draining bool

	destroyed atomic.Bool
}

type notification struct {
	current  ButtonState
	previous ButtonState
	conn     *models.Connection
	err      *models.ErrorResponse
}

// NewMachine creates a Machine in StateUnknown with no connection.
func NewMachine(config MachineConfig) *Machine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		tracker: config.Tracker,
		metrics: config.Metrics,
		logger:  logger.With("component", "button-state"),
	}
}

// OnStateChanged registers fn for state changes.
func (m *Machine) OnStateChanged(fn StateListener) {
	m.listenersMu.Lock()
	m.stateListeners = append(m.stateListeners, fn)
	m.listenersMu.Unlock()
}

// OnError registers fn for surfaced errors.
func (m *Machine) OnError(fn ErrorListener) {
	m.listenersMu.Lock()
	m.errorListeners = append(m.errorListeners, fn)
	m.listenersMu.Unlock()
}

// Snapshot returns the current connection and state.
func (m *Machine) Snapshot() (*models.Connection, ButtonState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.state
}

// State returns the current state.
func (m *Machine) State() ButtonState {
	_, state := m.Snapshot()
	return state
}

// Connection returns the current connection, or nil before the first
// SetConnection.
func (m *Machine) Connection() *models.Connection {
	conn, _ := m.Snapshot()
	return conn
}

// SetConnection replaces the connection and re-derives the state from its
// status alone, discarding any pending flow step.
func (m *Machine) SetConnection(ctx context.Context, conn *models.Connection) {
	if conn == nil {
		return
	}
	m.transition(ctx, conn, DeriveState(conn.Status, FlowNone))
}

// EnterFlow shows the state of flow step for the current connection.
func (m *Machine) EnterFlow(ctx context.Context, flow FlowStep) {
	conn := m.Connection()
	if conn == nil {
		return
	}
	m.transition(ctx, conn, DeriveState(conn.Status, flow))
}

// Dispatch moves to state, keeping the current connection. Listeners are only
// notified when state differs from the current one.
func (m *Machine) Dispatch(ctx context.Context, state ButtonState) {
	m.transition(ctx, m.Connection(), state)
}

// Error notifies error listeners. The state is unchanged.
func (m *Machine) Error(ctx context.Context, err *models.ErrorResponse) {
	if err == nil {
		return
	}
	conn := m.Connection()
	if conn != nil {
		m.tracker.Error(ctx, conn.ID, err.Code)
	}
	m.post(notification{err: err})
	m.drain()
}

// Destroy silences all listeners permanently.
func (m *Machine) Destroy() {
	m.destroyed.Store(true)
}

func (m *Machine) transition(ctx context.Context, conn *models.Connection, state ButtonState) {
	m.mu.Lock()
	previous := m.state
	m.conn = conn
	m.state = state
	if previous != state {
		m.post(notification{current: state, previous: previous, conn: conn})
	}
	m.mu.Unlock()

	if previous == state {
		return
	}
	m.logger.Debug("button state changed", "from", previous, "to", state)
	m.metrics.RecordTransition(previous.String(), state.String())
	if conn != nil {
		m.tracker.StateChange(ctx, conn.ID, previous.String(), state.String())
	}
	m.drain()
}

// post appends n to the outbox. Transitions post while holding mu so
// notifications keep transition order.
func (m *Machine) post(n notification) {
	m.outMu.Lock()
	m.outbox = append(m.outbox, n)
	m.outMu.Unlock()
}

// drain delivers queued notifications. The goroutine that finds the outbox
// idle delivers everything; concurrent and reentrant callers return at once.
func (m *Machine) drain() {
	m.outMu.Lock()
	if m.draining {
		m.outMu.Unlock()
		return
	}
	m.draining = true
	m.outMu.Unlock()

	for {
		m.outMu.Lock()
		if len(m.outbox) == 0 {
			m.draining = false
			m.outMu.Unlock()
			return
		}
		next := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.outMu.Unlock()

		m.deliver(next)
	}
}

func (m *Machine) deliver(n notification) {
	m.listenersMu.RLock()
	stateListeners := append([]StateListener(nil), m.stateListeners...)
	errorListeners := append([]ErrorListener(nil), m.errorListeners...)
	m.listenersMu.RUnlock()

	if n.err != nil {
		for _, fn := range errorListeners {
			if m.destroyed.Load() {
				return
			}
			fn(n.err)
		}
		return
	}
	for _, fn := range stateListeners {
		if m.destroyed.Load() {
			return
		}
		fn(n.current, n.previous, n.conn)
	}
}
