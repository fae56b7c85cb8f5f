package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/connect/internal/config"
	"github.com/haasonsaas/connect/internal/connect"
	"github.com/haasonsaas/connect/internal/location"
	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/pkg/models"
)

// cmdEnv is what a handler runs with.
type cmdEnv struct {
	ctx context.Context
	app *app
	out io.Writer
}

// withApp loads configuration, wires the SDK and runs fn.
func withApp(cmd *cobra.Command, configPath string, fn func(env *cmdEnv) error) error {
	explicit := os.Getenv("CONNECT_CONFIG") != ""
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		explicit = true
	}
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	return fn(&cmdEnv{ctx: ctx, app: a, out: cmd.OutOrStdout()})
}

// fetchButton creates a button showing connection id.
func fetchButton(env *cmdEnv, id string, openApp bool) (*connect.Button, error) {
	button := env.app.newButton(env.ctx, openApp)
	if err := button.FetchConnection(env.ctx, id); err != nil {
		button.OnLifecycleDestroy()
		return nil, fmt.Errorf("fetch connection %s: %w", id, err)
	}
	return button, nil
}

// =============================================================================
// Connection Handlers
// =============================================================================

type connectionView struct {
	Connection *models.Connection `json:"connection"`
	State      string             `json:"button_state"`
}

func runShow(env *cmdEnv, id, format string) error {
	button, err := fetchButton(env, id, false)
	if err != nil {
		return err
	}
	defer button.OnLifecycleDestroy()

	conn, state := button.Machine().Snapshot()
	if format == "json" {
		enc := json.NewEncoder(env.out)
		enc.SetIndent("", "  ")
		return enc.Encode(connectionView{Connection: conn, State: state.String()})
	}

	fmt.Fprintf(env.out, "%s (%s)\n", conn.Name, conn.ID)
	if conn.Description != "" {
		fmt.Fprintf(env.out, "  %s\n", conn.Description)
	}
	fmt.Fprintf(env.out, "Status:  %s\n", conn.Status)
	fmt.Fprintf(env.out, "Button:  %s\n", state)
	if svc, err := conn.PrimaryService(); err == nil {
		fmt.Fprintf(env.out, "Service: %s (%s)\n", svc.Name, svc.BrandColor)
	}
	for _, svc := range conn.Services {
		if !svc.IsPrimary {
			fmt.Fprintf(env.out, "  with %s\n", svc.Name)
		}
	}
	if regions := location.Regions(conn); len(regions) > 0 {
		fmt.Fprintf(env.out, "Regions: %d\n", len(regions))
	}
	return nil
}

func runAuthorize(env *cmdEnv, id, email string, openApp bool) error {
	button, err := fetchButton(env, id, openApp)
	if err != nil {
		return err
	}
	defer button.OnLifecycleDestroy()

	if err := button.Activate(env.ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "state: %s\n", button.State())
	if button.State() != connect.StateEnabled {
		fmt.Fprintf(env.out, "finish with: connect redirect %s '<redirect-uri>'\n", id)
	}
	return nil
}

func runRedirect(env *cmdEnv, id, uri string) error {
	result, err := connect.ParseConnectResult(uri)
	if err != nil {
		return err
	}
	button, err := fetchButton(env, id, false)
	if err != nil {
		return err
	}
	defer button.OnLifecycleDestroy()

	if err := button.SetConnectResult(env.ctx, result); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "state: %s\n", button.State())
	return nil
}

func runDisable(env *cmdEnv, id string) error {
	button, err := fetchButton(env, id, false)
	if err != nil {
		return err
	}
	defer button.OnLifecycleDestroy()

	if err := button.Disable(env.ctx); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "state: %s\n", button.State())
	return nil
}

func runReenable(env *cmdEnv, id, email string) error {
	button, err := fetchButton(env, id, false)
	if err != nil {
		return err
	}
	defer button.OnLifecycleDestroy()

	if state := button.State(); state != connect.StateDisabled {
		return fmt.Errorf("connection %s is %s, not disabled", id, state)
	}
	if err := button.Activate(env.ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "state: %s\n", button.State())
	return nil
}

// =============================================================================
// Events Handlers
// =============================================================================

type queueStatus struct {
	Name    string `json:"name"`
	Size    int    `json:"size"`
	Durable bool   `json:"durable"`
}

type eventsStatus struct {
	AnonymousID string        `json:"anonymous_id"`
	OptedOut    bool          `json:"opted_out"`
	SignedIn    bool          `json:"signed_in"`
	Queues      []queueStatus `json:"queues"`
}

func runEventsStatus(env *cmdEnv, format string) error {
	a := env.app
	status := eventsStatus{
		AnonymousID: a.prefs.AnonymousID(env.ctx),
		OptedOut:    a.prefs.OptedOut(env.ctx),
		SignedIn:    a.tokens.Value() != "",
	}
	for _, q := range []*queue.Queue{a.events, a.locations} {
		status.Queues = append(status.Queues, queueStatus{Name: q.Name(), Size: q.Size(), Durable: q.Durable()})
	}

	if format == "json" {
		enc := json.NewEncoder(env.out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(env.out, "Anonymous ID: %s\n", status.AnonymousID)
	fmt.Fprintf(env.out, "Opted out:    %t\n", status.OptedOut)
	fmt.Fprintf(env.out, "Signed in:    %t\n", status.SignedIn)
	for _, q := range status.Queues {
		storage := "memory"
		if q.Durable {
			storage = "sqlite"
		}
		fmt.Fprintf(env.out, "Queue %-10s %d queued (%s)\n", q.Name, q.Size, storage)
	}
	return nil
}

func runEventsFlush(env *cmdEnv) error {
	a := env.app
	if err := a.tracker.Sync(env.ctx); err != nil {
		return err
	}
	before := a.events.Size() + a.locations.Size()
	err := a.scheduler.FlushAll(env.ctx)
	after := a.events.Size() + a.locations.Size()
	fmt.Fprintf(env.out, "uploaded %d events, %d queued\n", before-after, after)
	return err
}

func runEventsTrack(env *cmdEnv, name string, props map[string]string) error {
	a := env.app
	if !a.tracker.Enabled(env.ctx) {
		return errors.New("analytics is opted out")
	}
	a.tracker.Track(env.ctx, name, props)
	if err := a.tracker.Sync(env.ctx); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "queued %s (%d in queue)\n", name, a.events.Size())
	return nil
}

func runEventsOptOut(env *cmdEnv, value string) error {
	var optOut bool
	switch value {
	case "on":
		optOut = true
	case "off":
	default:
		return fmt.Errorf("expected on or off, got %q", value)
	}
	if err := env.app.tracker.SetOptOut(env.ctx, optOut); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "analytics opt-out: %s\n", value)
	return nil
}

// =============================================================================
// Geofence Handlers
// =============================================================================

func runGeofenceRegions(env *cmdEnv, id string) error {
	conn, err := env.app.client.ShowConnection(env.ctx, id)
	if err != nil {
		return fmt.Errorf("fetch connection %s: %w", id, err)
	}
	regions := location.Regions(conn)
	if len(regions) == 0 {
		fmt.Fprintln(env.out, "no geofence regions")
		return nil
	}
	for _, r := range regions {
		fmt.Fprintf(env.out, "%s\t%s\t%.5f,%.5f\t%.0fm\t%s\n", r.ID, r.Type, r.Center.Lat, r.Center.Lng, r.Center.Radius, r.Center.Address)
	}
	return nil
}

func runGeofenceReport(env *cmdEnv, id, regionID, transition string) error {
	a := env.app
	conn, err := a.client.ShowConnection(env.ctx, id)
	if err != nil {
		return fmt.Errorf("fetch connection %s: %w", id, err)
	}
	if err := a.monitor.Update(env.ctx, conn); err != nil {
		return err
	}
	event, err := a.reporter.Report(env.ctx, location.GeofenceEvent{
		RegionID:   regionID,
		Transition: models.GeofenceTransition(transition),
		OccurredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "queued %s %s as %s\n", event.EventType, event.TriggerSubscriptionID, event.RecordID)
	return nil
}

// =============================================================================
// Config Handlers
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", configPath)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

// =============================================================================
// Run Handler
// =============================================================================

func runRun(env *cmdEnv) error {
	a := env.app
	ctx, stop := signal.NotifyContext(env.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	// Events queued before start.
	a.scheduler.Trigger()

	var server *http.Server
	if a.cfg.Observability.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{
			Addr:              a.cfg.Observability.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
				stop()
			}
		}()
		a.logger.Info("serving metrics", "address", server.Addr)
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(env.ctx), 30*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if err := a.tracker.Sync(shutdownCtx); err != nil {
		a.logger.Warn("write pending events", "error", err)
	}
	if err := a.scheduler.FlushAll(shutdownCtx); err != nil {
		a.logger.Warn("final flush", "error", err)
	}
	return nil
}
