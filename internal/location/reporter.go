package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/storage"
	"github.com/haasonsaas/connect/pkg/models"
)

const (
	// DefaultChannelID identifies the location service in uploaded events.
	DefaultChannelID = "941"
	// RegionTypeGeo is the only region kind reported.
	RegionTypeGeo = "geo"
)

var (
	// ErrUnknownRegion means the crossing belongs to no monitored region.
	ErrUnknownRegion = errors.New("unknown geofence region")
	// ErrIgnoredTransition means the region does not watch that direction.
	ErrIgnoredTransition = errors.New("transition not watched by region")
)

// GeofenceEvent is a crossing reported by the GeofenceProvider.
type GeofenceEvent struct {
	RegionID   string
	Transition models.GeofenceTransition
	OccurredAt time.Time
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Queue       *queue.Queue
	Preferences *storage.Preferences
	// Monitor filters crossings against the active regions. Optional.
	Monitor   *Monitor
	ChannelID string
	Logger    *slog.Logger
}

// Reporter converts geofence crossings into queued LocationEvents.
type Reporter struct {
	queue     *queue.Queue
	prefs     *storage.Preferences
	monitor   *Monitor
	channelID string
	logger    *slog.Logger
	newID     func() string
}

// NewReporter creates a Reporter.
func NewReporter(config ReporterConfig) *Reporter {
	if config.ChannelID == "" {
		config.ChannelID = DefaultChannelID
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		queue:     config.Queue,
		prefs:     config.Preferences,
		monitor:   config.Monitor,
		channelID: config.ChannelID,
		logger:    logger.With("component", "location-reporter"),
		newID:     uuid.NewString,
	}
}

// Report queues ev for upload. Crossings of unmonitored regions, or in a
// direction the region does not watch, are rejected.
func (r *Reporter) Report(ctx context.Context, ev GeofenceEvent) (models.LocationEvent, error) {
	if ev.Transition != models.GeofenceEntry && ev.Transition != models.GeofenceExit {
		return models.LocationEvent{}, fmt.Errorf("invalid transition %q", ev.Transition)
	}
	if r.monitor != nil {
		region, ok := r.monitor.Region(ev.RegionID)
		if !ok {
			return models.LocationEvent{}, fmt.Errorf("%w: %s", ErrUnknownRegion, ev.RegionID)
		}
		if !region.Watches(ev.Transition) {
			return models.LocationEvent{}, fmt.Errorf("%w: %s %s", ErrIgnoredTransition, ev.RegionID, ev.Transition)
		}
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	event := models.LocationEvent{
		ChannelID:             r.channelID,
		TriggerSubscriptionID: ev.RegionID,
		RecordID:              r.newID(),
		OccurredAt:            ev.OccurredAt.UTC(),
		EventType:             ev.Transition,
		RegionType:            RegionTypeGeo,
		InstallationID:        r.prefs.AnonymousID(ctx),
	}
	record, err := json.Marshal(event)
	if err != nil {
		return models.LocationEvent{}, fmt.Errorf("encode location event: %w", err)
	}
	r.queue.Add(ctx, record)
	r.logger.Debug("geofence crossing queued", "region", ev.RegionID, "transition", ev.Transition)
	return event, nil
}

// Decode parses queued location records, skipping unreadable ones.
func Decode(records [][]byte) ([]models.LocationEvent, int) {
	events := make([]models.LocationEvent, 0, len(records))
	skipped := 0
	for _, record := range records {
		var event models.LocationEvent
		if err := json.Unmarshal(record, &event); err != nil || event.TriggerSubscriptionID == "" {
			skipped++
			continue
		}
		events = append(events, event)
	}
	return events, skipped
}
