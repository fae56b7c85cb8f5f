package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/connect/internal/analytics"
	"github.com/haasonsaas/connect/internal/api"
	"github.com/haasonsaas/connect/internal/auth"
	"github.com/haasonsaas/connect/internal/config"
	"github.com/haasonsaas/connect/internal/connect"
	"github.com/haasonsaas/connect/internal/location"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/internal/queue"
	"github.com/haasonsaas/connect/internal/retry"
	"github.com/haasonsaas/connect/internal/storage"
	"github.com/haasonsaas/connect/internal/upload"
	"github.com/haasonsaas/connect/pkg/models"
)

const (
	queueAnalytics = "analytics"
	queueLocation  = "location"
)

// app holds the SDK components for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	out      io.Writer
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db        *sql.DB
	prefs     *storage.Preferences
	tokens    *auth.TokenStore
	client    *api.HTTPClient
	codes     auth.CodeProvider
	events    *queue.Queue
	locations *queue.Queue
	tracker   *analytics.Tracker
	scheduler *upload.Scheduler
	monitor   *location.Monitor
	reporter  *location.Reporter

	shutdownTracing func(context.Context) error
}

// loadConfig reads path. A missing file at the default location yields the
// defaults; a missing file that was asked for explicitly is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// newApp wires every component from cfg. Persistence problems degrade to
// memory instead of failing.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	a := &app{
		cfg:             cfg,
		logger:          logger,
		out:             out,
		registry:        registry,
		metrics:         metrics,
		shutdownTracing: shutdownTracing,
	}

	if !cfg.Storage.Memory {
		db, err := storage.OpenDB(ctx, cfg.Storage.Path)
		if err != nil {
			logger.Warn("storage unavailable, state will not persist", "path", cfg.Storage.Path, "error", err)
		} else {
			a.db = db
		}
	}

	a.prefs = storage.OpenPreferences(ctx, a.db, logger)
	if cfg.Analytics.OptOut {
		if err := a.prefs.SetOptOut(ctx, true); err != nil {
			logger.Warn("persist analytics opt-out", "error", err)
		}
	}

	userToken := cfg.API.UserToken
	if userToken == "" {
		userToken = a.prefs.UserToken(ctx)
	}
	a.tokens = auth.NewTokenStore(userToken)

	a.client, err = api.New(api.Config{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		Tokens:      a.tokens,
		SDKVersion:  version,
		Platform:    cfg.SDK.Platform,
		AnonymousID: a.prefs.AnonymousID,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.codes, err = codeProvider(cfg.API.OAuth)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.events = queue.Open(ctx, queue.Options{
		Name:    queueAnalytics,
		DB:      a.db,
		MaxSize: cfg.Analytics.QueueSize,
		Logger:  logger,
		Metrics: metrics,
	})
	a.locations = queue.Open(ctx, queue.Options{
		Name:    queueLocation,
		DB:      a.db,
		MaxSize: cfg.Location.QueueSize,
		Logger:  logger,
		Metrics: metrics,
	})
	a.tracker = analytics.NewTracker(a.events, a.prefs, logger)

	if err := a.buildScheduler(); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.monitor = location.NewMonitor(&printProvider{out: out}, logger)
	a.reporter = location.NewReporter(location.ReporterConfig{
		Queue:       a.locations,
		Preferences: a.prefs,
		Monitor:     a.monitor,
		Logger:      logger,
	})
	return a, nil
}

func codeProvider(cfg config.OAuthConfig) (auth.CodeProvider, error) {
	if cfg.StaticCode == "" && cfg.ClientID != "" {
		return auth.NewClientCredentials(auth.ClientCredentialsConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		})
	}
	return auth.StaticCode(cfg.StaticCode), nil
}

func (a *app) buildScheduler() error {
	retryConfig := retry.Config{
		MaxAttempts:  a.cfg.Analytics.MaxRetries,
		InitialDelay: a.cfg.Analytics.RetryDelay,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
	onUnauthorized := func(ctx context.Context) {
		a.tokens.Clear()
		if err := a.prefs.ClearUserToken(ctx); err != nil {
			a.logger.Warn("clear user token", "error", err)
		}
	}

	a.scheduler = upload.NewScheduler(upload.SchedulerConfig{Logger: a.logger})
	workers := []struct {
		queue    *queue.Queue
		uploader upload.Uploader
		schedule string
	}{
		{a.events, upload.AnalyticsUploader(a.client, a.logger), a.cfg.Analytics.FlushSchedule},
		{a.locations, upload.LocationUploader(a.client, a.logger), a.cfg.Location.FlushSchedule},
	}
	for _, w := range workers {
		worker := upload.NewWorker(upload.WorkerConfig{
			Queue:          w.queue,
			Upload:         w.uploader,
			Retry:          retryConfig,
			OnUnauthorized: onUnauthorized,
			Logger:         a.logger,
			Metrics:        a.metrics,
		})
		if err := a.scheduler.Register(worker, w.schedule); err != nil {
			return fmt.Errorf("register %s uploads: %w", w.queue.Name(), err)
		}
	}
	a.events.SetOnAdd(a.scheduler.ThresholdHook(queueAnalytics, a.cfg.Analytics.FlushThreshold))
	a.locations.SetOnAdd(a.scheduler.ThresholdHook(queueLocation, a.cfg.Location.FlushThreshold))
	return nil
}

// newButton creates a Connect Button that prints redirects to the CLI output.
// Errors reach the output through the button's error channel.
func (a *app) newButton(ctx context.Context, openApp bool) *connect.Button {
	button := connect.NewButton(connect.ButtonConfig{
		Client:       a.client,
		CodeProvider: a.codes,
		Tokens:       a.tokens,
		Preferences:  a.prefs,
		Redirector:   &printRedirector{out: a.out},
		Embed: connect.EmbedConfig{
			WebBaseURL:      a.cfg.Web.BaseURL,
			AppScheme:       a.cfg.Web.AppScheme,
			SDKVersion:      version,
			Platform:        a.cfg.SDK.Platform,
			ReturnTo:        a.cfg.SDK.ReturnTo,
			InviteCode:      a.cfg.SDK.InviteCode,
			EmailAppSchemes: a.cfg.SDK.EmailAppSchemes,
		},
		AppAvailable:          func() bool { return openApp },
		ReplayOAuthOnReenable: a.cfg.SDK.ReplayOAuthOnReenable,
		Tracker:               a.tracker,
		Flusher:               a.scheduler,
		Metrics:               a.metrics,
		Logger:                a.logger,
	})

	machine := button.Machine()
	machine.OnStateChanged(func(current, previous connect.ButtonState, conn *models.Connection) {
		if conn == nil {
			return
		}
		a.logger.Info("button state", "connection", conn.ID, "from", previous, "to", current)
		if !a.cfg.Location.Enabled {
			return
		}
		if err := a.monitor.Update(ctx, conn); err != nil {
			a.logger.Warn("update geofences", "connection", conn.ID, "error", err)
		}
	})
	machine.OnError(func(err *models.ErrorResponse) {
		fmt.Fprintf(a.out, "error: %s\n", err.Error())
	})
	return button
}

// Close releases storage and flushes traces. It is safe on a partly built app.
func (a *app) Close(ctx context.Context) {
	a.tracker.Close()
	for _, q := range []*queue.Queue{a.events, a.locations} {
		if q == nil {
			continue
		}
		if err := q.Close(); err != nil {
			a.logger.Warn("close queue", "queue", q.Name(), "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			a.logger.Warn("flush traces", "error", err)
		}
	}
}

// printRedirector hands redirect targets to the user.
type printRedirector struct {
	out io.Writer
}

func (r *printRedirector) Redirect(ctx context.Context, target connect.RedirectTarget) error {
	kind := "browser"
	if target.App {
		kind = "app"
	}
	_, err := fmt.Fprintf(r.out, "open in %s: %s\n", kind, target.URL)
	return err
}

// printProvider stands in for a platform geofencing service.
type printProvider struct {
	out io.Writer
}

func (p *printProvider) SetRegions(ctx context.Context, regions []location.Region) error {
	for _, region := range regions {
		fmt.Fprintf(p.out, "watching region %s (%s) at %.5f,%.5f r=%.0fm\n",
			region.ID, region.Type, region.Center.Lat, region.Center.Lng, region.Center.Radius)
	}
	return nil
}

func (p *printProvider) ClearRegions(ctx context.Context) error {
	_, err := fmt.Fprintln(p.out, "geofences cleared")
	return err
}
