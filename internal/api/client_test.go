package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/connect/internal/auth"
	"github.com/haasonsaas/connect/internal/observability"
	"github.com/haasonsaas/connect/pkg/models"
)

const connectionJSON = `{
  "id": "conn-1",
  "name": "Turn on lights",
  "user_status": "enabled",
  "services": [
    {"service_id": "hue", "service_name": "Hue", "is_primary": true, "brand_color": "#00A8E0"}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens *auth.TokenStore) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{
		BaseURL:     server.URL,
		Tokens:      tokens,
		SDKVersion:  "1.2.3",
		Platform:    "go",
		AnonymousID: func(context.Context) string { return "anon-1" },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) expected error", raw)
		}
	}
}

func TestConnectionRoutes(t *testing.T) {
	tests := []struct {
		name       string
		call       func(c *HTTPClient) (*models.Connection, error)
		wantMethod string
		wantPath   string
	}{
		{"show", func(c *HTTPClient) (*models.Connection, error) {
			return c.ShowConnection(context.Background(), "conn-1")
		}, http.MethodGet, "/v2/connections/conn-1"},
		{"disable", func(c *HTTPClient) (*models.Connection, error) {
			return c.DisableConnection(context.Background(), "conn-1")
		}, http.MethodPost, "/v2/connections/conn-1/disable"},
		{"reenable", func(c *HTTPClient) (*models.Connection, error) {
			return c.ReenableConnection(context.Background(), "conn-1")
		}, http.MethodPost, "/v2/connections/conn-1/reenable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != tt.wantMethod || r.URL.Path != tt.wantPath {
					t.Errorf("request = %s %s, want %s %s", r.Method, r.URL.Path, tt.wantMethod, tt.wantPath)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer user-tok" {
					t.Errorf("Authorization = %q", got)
				}
				if r.Header.Get("Sdk-Version") != "1.2.3" || r.Header.Get("Sdk-Anonymous-Id") != "anon-1" {
					t.Errorf("sdk headers = %v", r.Header)
				}
				w.Write([]byte(connectionJSON))
			}, auth.NewTokenStore("user-tok"))

			conn, err := tt.call(client)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			if conn.ID != "conn-1" || conn.Status != models.ConnectionStatusEnabled {
				t.Fatalf("connection = %+v", conn)
			}
			primary, err := conn.PrimaryService()
			if err != nil || primary.ID != "hue" {
				t.Fatalf("PrimaryService() = %+v, %v", primary, err)
			}
		})
	}
}

func TestUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"42","user_login":"jane","token_type":"user"}`))
	}, auth.NewTokenStore("tok"))

	user, err := client.User(context.Background())
	if err != nil {
		t.Fatalf("User() error = %v", err)
	}
	if !user.Authenticated() || user.Login != "jane" {
		t.Fatalf("user = %+v", user)
	}
}

func TestFindAccount(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantFound bool
		wantErr   bool
	}{
		{"found", http.StatusOK, true, false},
		{"not found", http.StatusNotFound, false, false},
		{"server error", http.StatusInternalServerError, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v2/account/find" || r.URL.Query().Get("email") != "a+b@example.com" {
					t.Errorf("request = %s", r.URL)
				}
				if r.Header.Get("Authorization") != "" {
					t.Error("account lookup without a token must be unauthenticated")
				}
				w.WriteHeader(tt.status)
			}, auth.NewTokenStore(""))

			found, err := client.FindAccount(context.Background(), "a+b@example.com")
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindAccount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if found != tt.wantFound {
				t.Fatalf("FindAccount() = %v, want %v", found, tt.wantFound)
			}
		})
	}
}

func TestUploadEvents(t *testing.T) {
	var got []models.AnalyticsEvent
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/sdk/events" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}, nil)

	events := []models.AnalyticsEvent{
		{Name: "sdk.click", Timestamp: time.Unix(100, 0).UTC(), Properties: map[string]string{"object_id": "conn-1"}},
		{Name: "sdk.impression", Timestamp: time.Unix(101, 0).UTC()},
	}
	if err := client.UploadEvents(context.Background(), events); err != nil {
		t.Fatalf("UploadEvents() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "sdk.click" || got[0].Properties["object_id"] != "conn-1" {
		t.Fatalf("uploaded = %+v", got)
	}
}

func TestUploadLocationEvents(t *testing.T) {
	var body []map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/location_events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
	}, nil)

	err := client.UploadLocationEvents(context.Background(), []models.LocationEvent{{
		ChannelID:             "941",
		TriggerSubscriptionID: "sub-1",
		RecordID:              "rec-1",
		EventType:             models.GeofenceEntry,
		RegionType:            "geo",
		InstallationID:        "anon-1",
	}})
	if err != nil {
		t.Fatalf("UploadLocationEvents() error = %v", err)
	}
	if len(body) != 1 || body[0]["trigger_subscription_id"] != "sub-1" || body[0]["event_type"] != "entry" {
		t.Fatalf("body = %v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantCode     string
		unauthorized bool
		transient    bool
	}{
		{"api error body", http.StatusUnprocessableEntity, `{"code":"invalid_connection","message":"nope"}`, "invalid_connection", false, false},
		{"unauthorized", http.StatusUnauthorized, ``, models.ErrorCodeUnauthorized, true, false},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, "bad_gateway", false, true},
		{"rate limited", http.StatusTooManyRequests, ``, "too_many_requests", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			_, err := client.ShowConnection(context.Background(), "conn-1")
			resp, ok := AsErrorResponse(err)
			if !ok {
				t.Fatalf("error = %v, want *ErrorResponse", err)
			}
			if resp.Code != tt.wantCode || resp.Status != tt.status {
				t.Fatalf("ErrorResponse = %+v", resp)
			}
			if IsUnauthorized(err) != tt.unauthorized {
				t.Errorf("IsUnauthorized = %v", IsUnauthorized(err))
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v", IsTransient(err))
			}
		})
	}
}

func TestExpiredTokenIsUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}, nil)
	client.client.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, auth.ErrTokenExpired
	})

	_, err := client.User(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("IsUnauthorized(%v) = false", err)
	}
	if resp := ToErrorResponse(err); resp.Code != models.ErrorCodeUnauthorized {
		t.Fatalf("ToErrorResponse() = %+v", resp)
	}
}

func TestCanceledRequest(t *testing.T) {
	block := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	}, nil)
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.DisableConnection(ctx, "conn-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if resp := ToErrorResponse(err); resp.Code != models.ErrorCodeNetwork {
		t.Fatalf("ToErrorResponse() = %+v", resp)
	}
}

func TestRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(connectionJSON))
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, Metrics: observability.NewMetrics(reg)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := client.ShowConnection(context.Background(), "conn-1"); err != nil {
		t.Fatalf("ShowConnection() error = %v", err)
	}
	if n := testutil.CollectAndCount(reg, "connect_api_request_duration_seconds"); n != 1 {
		t.Fatalf("api request series = %d, want 1", n)
	}
}

func TestDecodeErrorTruncatesLongBodies(t *testing.T) {
	resp := decodeError(http.StatusInternalServerError, []byte(strings.Repeat("x", 500)))
	if resp.Message != "Internal Server Error" {
		t.Fatalf("Message = %q", resp.Message)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
