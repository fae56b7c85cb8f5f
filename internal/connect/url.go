package connect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/haasonsaas/connect/pkg/models"
)

// EmbedConfig describes the host app to the connection web pages.
type EmbedConfig struct {
	// WebBaseURL is used when a connection carries no URL of its own.
	WebBaseURL string
	// AppScheme is the companion app's deep link scheme.
	AppScheme       string
	SDKVersion      string
	Platform        string
	ReturnTo        string
	InviteCode      string
	EmailAppSchemes []string
}

// EmbedParams are the per-flow values of an embed URL.
type EmbedParams struct {
	AnonymousID   string
	Email         string
	Username      string
	OAuthCode     string
	CreateAccount bool
	ServiceID     string
}

// BuildEmbedURL returns the web page URL that continues the authorization
// flow for conn. Username takes precedence over Email.
func BuildEmbedURL(cfg EmbedConfig, conn *models.Connection, p EmbedParams) (string, error) {
	base := strings.TrimSpace(conn.URL)
	if base == "" {
		if cfg.WebBaseURL == "" {
			return "", fmt.Errorf("connection %s has no url", conn.ID)
		}
		base = strings.TrimRight(cfg.WebBaseURL, "/") + "/connect/" + url.PathEscape(conn.ID)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse connection url: %w", err)
	}

	q := u.Query()
	setIf := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	setIf("sdk_version", cfg.SDKVersion)
	setIf("sdk_platform", cfg.Platform)
	setIf("sdk_return_to", cfg.ReturnTo)
	setIf("sdk_anonymous_id", p.AnonymousID)
	setIf("invite_code", cfg.InviteCode)
	if p.Username != "" {
		q.Set("username", p.Username)
	} else {
		setIf("email", p.Email)
	}
	setIf("code", p.OAuthCode)
	if p.CreateAccount {
		q.Set("sdk_create_account", "true")
	}
	setIf("service_id", p.ServiceID)
	for _, scheme := range cfg.EmailAppSchemes {
		q.Add("available_email_app_schemes[]", scheme)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AppURL rewrites an embed URL for the companion app's deep link scheme.
func AppURL(scheme, embedURL string) (string, error) {
	u, err := url.Parse(embedURL)
	if err != nil {
		return "", fmt.Errorf("parse embed url: %w", err)
	}
	u.Scheme = scheme
	u.Host = "connect"
	return u.String(), nil
}
