// Package config loads the SDK configuration from YAML or JSON5 files.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts what the upload scheduler runs: five fields, an
// optional leading seconds field, or a descriptor.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config is the main configuration structure for the connect SDK.
type Config struct {
	Version       int                 `yaml:"version"`
	API           APIConfig           `yaml:"api"`
	Web           WebConfig           `yaml:"web"`
	SDK           SDKConfig           `yaml:"sdk"`
	Storage       StorageConfig       `yaml:"storage"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Location      LocationConfig      `yaml:"location"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// APIConfig configures the remote connection API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserToken string        `yaml:"user_token"`
	OAuth     OAuthConfig   `yaml:"oauth"`
}

// OAuthConfig configures how the host app obtains OAuth codes that prove its
// identity during the authorization flow. StaticCode wins when set; otherwise
// a client credentials grant runs against TokenURL.
type OAuthConfig struct {
	StaticCode   string   `yaml:"static_code"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether any OAuth code source is configured.
func (c OAuthConfig) Enabled() bool {
	return c.StaticCode != "" || (c.ClientID != "" && c.TokenURL != "")
}

// WebConfig configures the web pages the authorization flow redirects to.
type WebConfig struct {
	BaseURL string `yaml:"base_url"`
	// AppScheme is the companion app deep link scheme; empty disables app redirects.
	AppScheme string `yaml:"app_scheme"`
}

// SDKConfig describes the embedding application.
type SDKConfig struct {
	Platform        string   `yaml:"platform"`
	ReturnTo        string   `yaml:"return_to"`
	InviteCode      string   `yaml:"invite_code"`
	EmailAppSchemes []string `yaml:"email_app_schemes"`
	// ReplayOAuthOnReenable forces the full web flow for disabled connections
	// instead of calling the reenable endpoint.
	ReplayOAuthOnReenable bool `yaml:"replay_oauth_on_reenable"`
}

// StorageConfig configures on-device persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
	// Memory keeps all state in memory; nothing survives a restart.
	Memory bool `yaml:"memory"`
}

// AnalyticsConfig configures the analytics queue and its uploads.
type AnalyticsConfig struct {
	OptOut         bool          `yaml:"opt_out"`
	QueueSize      int           `yaml:"queue_size"`
	FlushThreshold int           `yaml:"flush_threshold"`
	FlushSchedule  string        `yaml:"flush_schedule"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// LocationConfig configures geofence reporting.
type LocationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	QueueSize      int    `yaml:"queue_size"`
	FlushThreshold int    `yaml:"flush_threshold"`
	FlushSchedule  string `yaml:"flush_schedule"`
}

// LoggingConfig configures the SDK logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Load reads, merges and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://connect.ifttt.com"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.Web.BaseURL == "" {
		cfg.Web.BaseURL = "https://ifttt.com"
	}
	if cfg.SDK.Platform == "" {
		cfg.SDK.Platform = "go"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(".connect", "connect.db")
	}
	if cfg.Analytics.QueueSize == 0 {
		cfg.Analytics.QueueSize = 1000
	}
	if cfg.Analytics.FlushThreshold == 0 {
		cfg.Analytics.FlushThreshold = 5
	}
	if cfg.Analytics.FlushSchedule == "" {
		cfg.Analytics.FlushSchedule = "@every 15m"
	}
	if cfg.Analytics.MaxRetries == 0 {
		cfg.Analytics.MaxRetries = 3
	}
	if cfg.Analytics.RetryDelay == 0 {
		cfg.Analytics.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Location.QueueSize == 0 {
		cfg.Location.QueueSize = 1000
	}
	if cfg.Location.FlushThreshold == 0 {
		cfg.Location.FlushThreshold = 5
	}
	if cfg.Location.FlushSchedule == "" {
		cfg.Location.FlushSchedule = "@every 15m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Metrics.Address == "" {
		cfg.Observability.Metrics.Address = ":9090"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "connect"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	if err := validateAbsoluteURL(c.API.BaseURL); err != nil {
		issues = append(issues, "api.base_url "+err.Error())
	}
	if err := validateAbsoluteURL(c.Web.BaseURL); err != nil {
		issues = append(issues, "web.base_url "+err.Error())
	}
	if c.SDK.ReturnTo != "" {
		if u, err := url.Parse(c.SDK.ReturnTo); err != nil || u.Scheme == "" {
			issues = append(issues, "sdk.return_to must be an absolute URI")
		}
	}
	if c.API.OAuth.StaticCode == "" && c.API.OAuth.ClientID != "" && c.API.OAuth.TokenURL == "" {
		issues = append(issues, "api.oauth.token_url is required with client_id")
	}
	if c.API.Timeout < 0 {
		issues = append(issues, "api.timeout must not be negative")
	}
	if c.Analytics.QueueSize < 1 {
		issues = append(issues, "analytics.queue_size must be positive")
	}
	if c.Analytics.FlushThreshold < 1 {
		issues = append(issues, "analytics.flush_threshold must be positive")
	}
	if c.Analytics.MaxRetries < 1 {
		issues = append(issues, "analytics.max_retries must be positive")
	}
	if c.Location.QueueSize < 1 {
		issues = append(issues, "location.queue_size must be positive")
	}
	if c.Location.FlushThreshold < 1 {
		issues = append(issues, "location.flush_threshold must be positive")
	}
	for _, sched := range []struct{ name, expr string }{
		{"analytics.flush_schedule", c.Analytics.FlushSchedule},
		{"location.flush_schedule", c.Location.FlushSchedule},
	} {
		if _, err := scheduleParser.Parse(sched.expr); err != nil {
			issues = append(issues, fmt.Sprintf("%s %q: %v", sched.name, sched.expr, err))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be within [0, 1]")
	}
	if len(issues) == 0 {
		return nil
	}
	slices.Sort(issues)
	return &ValidationError{Issues: issues}
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	return nil
}
