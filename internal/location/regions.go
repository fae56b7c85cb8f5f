// Package location turns a connection's geofence trigger fields into monitored
// regions and queues the resulting crossings for upload.
package location

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/connect/pkg/models"
)

// Region is a circular geofence backing one trigger of a connection.
type Region struct {
	// ID is the user feature trigger the region belongs to. Location events
	// report it as their trigger subscription.
	ID      string
	FieldID string
	Type    models.FieldType
	Center  models.LocationFieldValue
}

// Watches reports whether crossings in direction t are relevant.
func (r Region) Watches(t models.GeofenceTransition) bool {
	switch r.Type {
	case models.FieldLocationEnter:
		return t == models.GeofenceEntry
	case models.FieldLocationExit:
		return t == models.GeofenceExit
	case models.FieldLocationEnterOrExit:
		return t == models.GeofenceEntry || t == models.GeofenceExit
	}
	return false
}

// Regions extracts the geofences of conn's enabled user features. Fields whose
// decoded value is not a location are skipped.
func Regions(conn *models.Connection) []Region {
	if conn == nil {
		return nil
	}
	var regions []Region
	for _, feature := range conn.UserFeatures {
		if !feature.Enabled {
			continue
		}
		for _, step := range feature.Steps() {
			if step.Type != models.StepTrigger {
				continue
			}
			for _, field := range step.Fields {
				if !field.FieldType.IsGeofence() {
					continue
				}
				center, ok := field.LocationValue()
				if !ok {
					continue
				}
				regions = append(regions, Region{
					ID:      step.ID,
					FieldID: field.FieldID,
					Type:    field.FieldType,
					Center:  center,
				})
			}
		}
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions
}

func fingerprint(regions []Region) string {
	var b strings.Builder
	for _, r := range regions {
		fmt.Fprintf(&b, "%s/%s/%s/%f,%f,%f;", r.ID, r.FieldID, r.Type, r.Center.Lat, r.Center.Lng, r.Center.Radius)
	}
	return b.String()
}
