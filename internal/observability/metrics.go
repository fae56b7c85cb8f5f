package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects SDK metrics on a caller-supplied registry.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
type Metrics struct {
	// QueueSize is the current record count per event queue.
	// Labels: queue (analytics|location)
	QueueSize *prometheus.GaugeVec

	// QueueDropped counts records lost before upload.
	// Labels: queue, reason (evicted|write_error)
	QueueDropped *prometheus.CounterVec

	// UploadCounter counts flush attempts.
	// Labels: queue, result (success|empty|unauthorized|error)
	UploadCounter *prometheus.CounterVec

	// UploadDuration measures flush latency in seconds.
	// Labels: queue
	UploadDuration *prometheus.HistogramVec

	// StateTransitions counts button state changes.
	// Labels: from, to
	StateTransitions *prometheus.CounterVec

	// APIRequestDuration measures remote API latency in seconds.
	// Labels: operation, status (success|error)
	APIRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses a
// fresh private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connect_queue_size",
				Help: "Number of records waiting in each event queue",
			},
			[]string{"queue"},
		),

		QueueDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_queue_dropped_total",
				Help: "Total number of queued records dropped before upload",
			},
			[]string{"queue", "reason"},
		),

		UploadCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_upload_total",
				Help: "Total number of event queue flushes by result",
			},
			[]string{"queue", "result"},
		),

		UploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connect_upload_duration_seconds",
				Help:    "Duration of event queue flushes in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"queue"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connect_button_state_transitions_total",
				Help: "Total number of connect button state transitions",
			},
			[]string{"from", "to"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connect_api_request_duration_seconds",
				Help:    "Duration of remote API requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation", "status"},
		),
	}
}

// SetQueueSize records the current size of a queue.
func (m *Metrics) SetQueueSize(queue string, size int) {
	if m == nil {
		return
	}
	m.QueueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordDrop counts a record lost from a queue.
func (m *Metrics) RecordDrop(queue, reason string) {
	if m == nil {
		return
	}
	m.QueueDropped.WithLabelValues(queue, reason).Inc()
}

// RecordUpload records the outcome of a flush.
func (m *Metrics) RecordUpload(queue, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UploadCounter.WithLabelValues(queue, result).Inc()
	m.UploadDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordTransition counts a button state change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordAPIRequest observes a remote API call.
func (m *Metrics) RecordAPIRequest(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.APIRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}
