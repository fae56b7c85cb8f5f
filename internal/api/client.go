// Package api is the client for the remote connection service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/connect/internal/auth"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/pkg/models"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = int64(1 << 20) // 1MB
)

// Client is the remote API the SDK consumes. Every method honours ctx
// cancellation. Logical failures are *models.ErrorResponse.
type Client interface {
	ShowConnection(ctx context.Context, id string) (*models.Connection, error)
	DisableConnection(ctx context.Context, id string) (*models.Connection, error)
	ReenableConnection(ctx context.Context, id string) (*models.Connection, error)
	User(ctx context.Context) (*models.User, error)
	// FindAccount reports whether an account exists for email.
	FindAccount(ctx context.Context, email string) (bool, error)
	UploadEvents(ctx context.Context, events []models.AnalyticsEvent) error
	UploadLocationEvents(ctx context.Context, events []models.LocationEvent) error
}

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Tokens supplies the bearer token. Nil sends every request unauthenticated.
	Tokens *auth.TokenStore
	// HTTPClient overrides the transport. Its RoundTripper is wrapped with the
	// token store.
	HTTPClient *http.Client
	// SDKVersion and Platform are sent on every request.
	SDKVersion string
	Platform   string
	// AnonymousID returns the installation's anonymous ID.
	AnonymousID      func(ctx context.Context) string
	MaxResponseBytes int64
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// HTTPClient implements Client over HTTPS/JSON.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	version     string
	platform    string
	anonymousID func(ctx context.Context) string
	maxBytes    int64
	logger      *slog.Logger
	metrics     *observability.Metrics
}

var _ Client = (*HTTPClient)(nil)

// New creates an HTTP API client.
func New(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("api: invalid base_url %q", cfg.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("api: base_url scheme must be http or https")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		client = &copied
	}
	if cfg.Tokens != nil {
		client.Transport = cfg.Tokens.Transport(client.Transport)
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		baseURL:     baseURL,
		client:      client,
		version:     cfg.SDKVersion,
		platform:    cfg.Platform,
		anonymousID: cfg.AnonymousID,
		maxBytes:    maxBytes,
		logger:      logger.With("component", "api"),
		metrics:     cfg.Metrics,
	}, nil
}

// ShowConnection fetches a connection (GET /v2/connections/{id}).
func (c *HTTPClient) ShowConnection(ctx context.Context, id string) (*models.Connection, error) {
	return c.connection(ctx, "show_connection", http.MethodGet, id, "")
}

// DisableConnection disables a connection (POST /v2/connections/{id}/disable).
func (c *HTTPClient) DisableConnection(ctx context.Context, id string) (*models.Connection, error) {
	return c.connection(ctx, "disable_connection", http.MethodPost, id, "/disable")
}

// ReenableConnection enables a previously disabled connection
// (POST /v2/connections/{id}/reenable).
func (c *HTTPClient) ReenableConnection(ctx context.Context, id string) (*models.Connection, error) {
	return c.connection(ctx, "reenable_connection", http.MethodPost, id, "/reenable")
}

func (c *HTTPClient) connection(ctx context.Context, op, method, id, suffix string) (*models.Connection, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("api: connection id is required")
	}
	var conn models.Connection
	if err := c.doJSON(ctx, op, method, "/v2/connections/"+url.PathEscape(id)+suffix, nil, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// User returns the account of the current token (GET /v2/me).
func (c *HTTPClient) User(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, "user", http.MethodGet, "/v2/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindAccount looks up an account by email (GET /v2/account/find). A 404 means
// no account exists.
func (c *HTTPClient) FindAccount(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, fmt.Errorf("api: email is required")
	}
	err := c.doJSON(ctx, "find_account", http.MethodGet, "/v2/account/find?email="+url.QueryEscape(email), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// UploadEvents submits a batch of analytics events (POST /v2/sdk/events).
func (c *HTTPClient) UploadEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	return c.doJSON(ctx, "upload_events", http.MethodPost, "/v2/sdk/events", events, nil)
}

// UploadLocationEvents submits a batch of geofence events
// (POST /v1/location_events).
func (c *HTTPClient) UploadLocationEvents(ctx context.Context, events []models.LocationEvent) error {
	return c.doJSON(ctx, "upload_location_events", http.MethodPost, "/v1/location_events", events, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any) (err error) {
	if c == nil || c.client == nil {
		return ErrNotConfigured
	}
	ctx, span := observability.StartSpan(ctx, "api."+op, "http.method", method, "http.route", path)
	start := time.Now()
	defer func() {
		c.metrics.RecordAPIRequest(op, err, time.Since(start))
		observability.EndSpan(span, err)
	}()

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.version != "" {
		req.Header.Set("Sdk-Version", c.version)
	}
	if c.platform != "" {
		req.Header.Set("Sdk-Platform", c.platform)
	}
	if c.anonymousID != nil {
		if id := c.anonymousID(ctx); id != "" {
			req.Header.Set("Sdk-Anonymous-Id", id)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return fmt.Errorf("api: read %s response: %w", op, err)
	}
	if int64(len(data)) > c.maxBytes {
		return fmt.Errorf("api: %s response too large", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := decodeError(resp.StatusCode, data)
		c.logger.Debug("api request failed", "op", op, "status", resp.StatusCode, "code", errResp.Code)
		return errResp
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", op, err)
	}
	return nil
}

func decodeError(status int, data []byte) *models.ErrorResponse {
	resp := &models.ErrorResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		resp = &models.ErrorResponse{}
	}
	resp.Status = status
	if resp.Code == "" {
		if status == http.StatusUnauthorized {
			resp.Code = models.ErrorCodeUnauthorized
		} else {
			resp.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		}
		if resp.Code == "" {
			resp.Code = "http_error"
		}
	}
	if resp.Message == "" {
		resp.Message = strings.TrimSpace(string(data))
		if resp.Message == "" || len(resp.Message) > 200 {
			resp.Message = http.StatusText(status)
		}
	}
	return resp
}
