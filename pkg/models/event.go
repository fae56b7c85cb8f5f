package models

import "time"

// AnalyticsEvent is a single usage record queued for upload. Events are created
// at the moment the tracked action occurs and are never mutated afterwards.
type AnalyticsEvent struct {
	Name       string            `json:"name"`
	Timestamp  time.Time         `json:"timestamp"`
	Properties map[string]string `json:"properties,omitempty"`
}

// GeofenceTransition is the direction of a region crossing.
type GeofenceTransition string

const (
	GeofenceEntry GeofenceTransition = "entry"
	GeofenceExit  GeofenceTransition = "exit"
)

// LocationEvent is a geofence crossing reported for a connection's trigger.
type LocationEvent struct {
	ChannelID             string             `json:"channel_id"`
	TriggerSubscriptionID string             `json:"trigger_subscription_id"`
	RecordID              string             `json:"record_id"`
	OccurredAt            time.Time          `json:"occurred_at"`
	EventType             GeofenceTransition `json:"event_type"`
	RegionType            string             `json:"region_type"`
	InstallationID        string             `json:"installation_id"`
}
