package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCodeProvider is returned when the host app has not configured a way to
// obtain OAuth codes.
var ErrNoCodeProvider = errors.New("oauth code provider not configured")

// CodeProvider supplies the host app's OAuth code for the authorization flow.
// The code proves the app's identity so the user's service account can be
// connected without a second login.
type CodeProvider interface {
	OAuthCode(ctx context.Context) (string, error)
}

// CodeProviderFunc adapts a function to CodeProvider.
type CodeProviderFunc func(ctx context.Context) (string, error)

func (f CodeProviderFunc) OAuthCode(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticCode always returns the same code.
type StaticCode string

func (c StaticCode) OAuthCode(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(c)) == "" {
		return "", ErrNoCodeProvider
	}
	return string(c), nil
}

// ClientCredentialsConfig configures a CodeProvider backed by the host app's
// own token endpoint.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	// HTTPClient overrides the client used for the token request.
	HTTPClient *http.Client
}

// ClientCredentials fetches a fresh code with the client credentials grant on
// every call.
type ClientCredentials struct {
	config     clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentials builds a ClientCredentials provider.
func NewClientCredentials(cfg ClientCredentialsConfig) (*ClientCredentials, error) {
	if cfg.ClientID == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("client id and token url are required: %w", ErrNoCodeProvider)
	}
	return &ClientCredentials{
		config: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		httpClient: cfg.HTTPClient,
	}, nil
}

func (c *ClientCredentials) OAuthCode(ctx context.Context) (string, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	token, err := c.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch oauth code: %w", err)
	}
	return token.AccessToken, nil
}
