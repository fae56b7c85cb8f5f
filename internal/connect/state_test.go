package connect

import (
	"net/url"
	"strings"
	"testing"

	"github.com/haasonsaas/connect/pkg/models"
)

func TestDeriveState(t *testing.T) {
	tests := []struct {
		status models.ConnectionStatus
		flow   FlowStep
		want   ButtonState
	}{
		{models.ConnectionStatusNeverEnabled, FlowNone, StateInitial},
		{models.ConnectionStatusUnknown, FlowNone, StateInitial},
		{models.ConnectionStatusEnabled, FlowNone, StateEnabled},
		{models.ConnectionStatusDisabled, FlowNone, StateDisabled},
		{models.ConnectionStatusNeverEnabled, FlowLogin, StateLogin},
		{models.ConnectionStatusNeverEnabled, FlowCreateAccount, StateCreateAccount},
		{models.ConnectionStatusDisabled, FlowServiceAuthentication, StateServiceAuthentication},
		{models.ConnectionStatusEnabled, FlowLogin, StateLogin},
	}
	for _, tt := range tests {
		if got := DeriveState(tt.status, tt.flow); got != tt.want {
			t.Errorf("DeriveState(%s, %s) = %s, want %s", tt.status, tt.flow, got, tt.want)
		}
	}
}

func TestParseConnectResult(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want ConnectResult
	}{
		{
			name: "complete",
			uri:  "myapp://callback?next_step=complete&user_token=tok",
			want: ConnectResult{NextStep: NextStepComplete, UserToken: "tok"},
		},
		{
			name: "service authentication",
			uri:  "myapp://callback?next_step=service_authentication&service_id=hue",
			want: ConnectResult{NextStep: NextStepServiceAuthentication, ServiceID: "hue"},
		},
		{
			name: "error",
			uri:  "myapp://callback?next_step=error&error_type=account_creation",
			want: ConnectResult{NextStep: NextStepError, ErrorType: "account_creation"},
		},
		{
			name: "unrecognised step",
			uri:  "myapp://callback?next_step=teleport",
			want: ConnectResult{NextStep: NextStepUnknown},
		},
		{
			name: "missing step",
			uri:  "myapp://callback",
			want: ConnectResult{NextStep: NextStepUnknown},
		},
		{
			name: "values of other steps ignored",
			uri:  "myapp://callback?next_step=complete&service_id=hue&error_type=x",
			want: ConnectResult{NextStep: NextStepComplete},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConnectResult(tt.uri)
			if err != nil {
				t.Fatalf("ParseConnectResult() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseConnectResult() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseConnectResultInvalid(t *testing.T) {
	if _, err := ParseConnectResult("://bad uri"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConnectResultEncodeParses(t *testing.T) {
	for _, result := range []ConnectResult{
		{NextStep: NextStepComplete, UserToken: "tok"},
		{NextStep: NextStepServiceAuthentication, ServiceID: "hue"},
		{NextStep: NextStepError, ErrorType: "canceled"},
	} {
		uri, err := result.Encode("myapp://callback?keep=1")
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if !strings.Contains(uri, "keep=1") {
			t.Errorf("Encode() dropped existing query: %s", uri)
		}
		got, err := ParseConnectResult(uri)
		if err != nil {
			t.Fatalf("ParseConnectResult() error = %v", err)
		}
		if got != result {
			t.Errorf("round trip = %+v, want %+v", got, result)
		}
	}
}

func TestBuildEmbedURL(t *testing.T) {
	cfg := EmbedConfig{
		WebBaseURL:      "https://ifttt.com",
		SDKVersion:      "1.2.0",
		Platform:        "go",
		ReturnTo:        "myapp://callback",
		InviteCode:      "inv",
		EmailAppSchemes: []string{"gmail", "outlook"},
	}
	conn := testConnection(models.ConnectionStatusNeverEnabled)

	raw, err := BuildEmbedURL(cfg, conn, EmbedParams{
		AnonymousID:   "anon",
		Email:         "a@example.com",
		OAuthCode:     "code123",
		CreateAccount: true,
	})
	if err != nil {
		t.Fatalf("BuildEmbedURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "ifttt.com" || u.Path != "/connect/c1" {
		t.Errorf("unexpected base %s", raw)
	}
	q := u.Query()
	want := map[string]string{
		"sdk_version":        "1.2.0",
		"sdk_platform":       "go",
		"sdk_return_to":      "myapp://callback",
		"sdk_anonymous_id":   "anon",
		"invite_code":        "inv",
		"email":              "a@example.com",
		"code":               "code123",
		"sdk_create_account": "true",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
	if got := q["available_email_app_schemes[]"]; len(got) != 2 || got[0] != "gmail" || got[1] != "outlook" {
		t.Errorf("email app schemes = %v", got)
	}
}

func TestBuildEmbedURLUsernameWinsOverEmail(t *testing.T) {
	conn := testConnection(models.ConnectionStatusNeverEnabled)
	conn.URL = "https://ifttt.com/connect/c1?skip=1"

	raw, err := BuildEmbedURL(EmbedConfig{}, conn, EmbedParams{Email: "a@example.com", Username: "alice"})
	if err != nil {
		t.Fatalf("BuildEmbedURL() error = %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("username") != "alice" || q.Has("email") {
		t.Errorf("query = %v", q)
	}
	if q.Get("skip") != "1" {
		t.Errorf("connection url query lost: %v", q)
	}
	if q.Has("sdk_create_account") || q.Has("code") {
		t.Errorf("unset params present: %v", q)
	}
}

func TestBuildEmbedURLWithoutBase(t *testing.T) {
	conn := testConnection(models.ConnectionStatusNeverEnabled)
	conn.URL = ""
	if _, err := BuildEmbedURL(EmbedConfig{}, conn, EmbedParams{}); err == nil {
		t.Fatal("expected error without any base url")
	}
}

func TestAppURL(t *testing.T) {
	got, err := AppURL("ifttt", "https://ifttt.com/connect/c1?code=x")
	if err != nil {
		t.Fatalf("AppURL() error = %v", err)
	}
	if got != "ifttt://connect/connect/c1?code=x" {
		t.Errorf("AppURL() = %s", got)
	}
}
