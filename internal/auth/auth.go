// Package auth holds the SDK's credentials: the user token sent as a bearer
// token on API requests and the host app's OAuth code providers.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrNoToken means no user token is set; requests go out unauthenticated.
	ErrNoToken = errors.New("no user token")
	// ErrTokenExpired means the stored user token carries a past expiry.
	ErrTokenExpired = errors.New("user token expired")
)

// TokenStore is the process-wide, settable user token. Writes are visible to
// every request started afterwards; requests already in flight keep the token
// they were sent with.
type TokenStore struct {
	mu    sync.RWMutex
	token *oauth2.Token
	now   func() time.Time
}

// NewTokenStore returns a store holding userToken, which may be empty.
func NewTokenStore(userToken string) *TokenStore {
	s := &TokenStore{now: time.Now}
	s.Set(userToken)
	return s
}

// Set replaces the token. An empty value clears it. The expiry of JWT tokens
// is read so expired tokens are never sent.
func (s *TokenStore) Set(userToken string) {
	userToken = strings.TrimSpace(userToken)
	var token *oauth2.Token
	if userToken != "" {
		token = &oauth2.Token{AccessToken: userToken, TokenType: "Bearer"}
		if expiry, ok := TokenExpiry(userToken); ok {
			token.Expiry = expiry
		}
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the token.
func (s *TokenStore) Clear() {
	s.Set("")
}

// Value returns the raw token, or "" when none is set.
func (s *TokenStore) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Token implements oauth2.TokenSource.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == nil {
		return nil, ErrNoToken
	}
	if !token.Expiry.IsZero() && !token.Expiry.After(s.now()) {
		return nil, ErrTokenExpired
	}
	copied := *token
	return &copied, nil
}

// Transport returns a RoundTripper that sets the bearer token when one is
// stored and sends the request unauthenticated otherwise.
func (s *TokenStore) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{store: s, base: base}
}

type bearerTransport struct {
	store *TokenStore
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.store.Token()
	switch {
	case errors.Is(err, ErrNoToken):
		return t.base.RoundTrip(req)
	case err != nil:
		return nil, err
	}
	authorized := &oauth2.Transport{Source: oauth2.StaticTokenSource(token), Base: t.base}
	return authorized.RoundTrip(req)
}
