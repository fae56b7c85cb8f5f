package location

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/connect/pkg/models"
)

// GeofenceProvider is the platform capability that watches regions.
type GeofenceProvider interface {
	SetRegions(ctx context.Context, regions []Region) error
	ClearRegions(ctx context.Context) error
}

// Monitor keeps the provider's regions in line with the current connection:
// registered while the connection is enabled, cleared otherwise.
type Monitor struct {
	provider GeofenceProvider
	logger   *slog.Logger

	mu      sync.Mutex
	synced  bool
	active  map[string]Region
	current string
}

// NewMonitor creates a Monitor over provider.
func NewMonitor(provider GeofenceProvider, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		provider: provider,
		logger:   logger.With("component", "geofence-monitor"),
		active:   map[string]Region{},
	}
}

// Update registers conn's regions, or clears them when conn is not enabled.
// Unchanged region sets are not re-registered.
func (m *Monitor) Update(ctx context.Context, conn *models.Connection) error {
	var regions []Region
	if conn != nil && conn.Status == models.ConnectionStatusEnabled {
		regions = Regions(conn)
	}
	fp := fingerprint(regions)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.synced && fp == m.current {
		return nil
	}

	if len(regions) == 0 {
		if err := m.provider.ClearRegions(ctx); err != nil {
			m.logger.Warn("clear geofences", "error", err)
			return err
		}
	} else if err := m.provider.SetRegions(ctx, regions); err != nil {
		m.logger.Warn("register geofences", "error", err, "regions", len(regions))
		return err
	}

	m.active = make(map[string]Region, len(regions))
	for _, r := range regions {
		m.active[r.ID] = r
	}
	m.current = fp
	m.synced = true
	m.logger.Debug("geofences updated", "regions", len(regions))
	return nil
}

// Region returns the active region with id.
func (m *Monitor) Region(id string) (Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[id]
	return r, ok
}

// Active returns the number of monitored regions.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
