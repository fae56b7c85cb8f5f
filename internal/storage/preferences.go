package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Preference keys. Each value has exactly one key.
const (
	KeyAnonymousID = "anonymous_id"
	KeyOptOut      = "analytics_opt_out"
	KeyUserToken   = "user_token"
)

// Preferences exposes the SDK's persisted local state.
type Preferences struct {
	kv     KV
	logger *slog.Logger

	mu          sync.Mutex
	anonymousID string
}

// NewPreferences wraps kv.
func NewPreferences(kv KV, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preferences{kv: kv, logger: logger.With("component", "preferences")}
}

// OpenPreferences uses the sqlite database when available and falls back to
// memory otherwise.
func OpenPreferences(ctx context.Context, db *sql.DB, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = slog.Default()
	}
	if db != nil {
		kv, err := NewSQLiteKV(ctx, db)
		if err == nil {
			return NewPreferences(kv, logger)
		}
		logger.Warn("preferences unavailable, using memory", "error", err)
	}
	return NewPreferences(NewMemoryKV(), logger)
}

// AnonymousID returns the installation's anonymous ID, generating and
// persisting a UUID on first use. A failed write still yields a stable ID for
// the life of the process.
func (p *Preferences) AnonymousID(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.anonymousID != "" {
		return p.anonymousID
	}

	id, err := p.kv.Get(ctx, KeyAnonymousID)
	if err == nil && id != "" {
		p.anonymousID = id
		return id
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		p.logger.Warn("read anonymous id", "error", err)
	}

	id = uuid.NewString()
	if err := p.kv.Set(ctx, KeyAnonymousID, id); err != nil {
		p.logger.Warn("persist anonymous id", "error", err)
	}
	p.anonymousID = id
	return id
}

// OptedOut reports whether analytics collection is disabled.
func (p *Preferences) OptedOut(ctx context.Context) bool {
	raw, err := p.kv.Get(ctx, KeyOptOut)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logger.Warn("read opt-out flag", "error", err)
		}
		return false
	}
	optedOut, _ := strconv.ParseBool(raw)
	return optedOut
}

// SetOptOut persists the analytics opt-out flag.
func (p *Preferences) SetOptOut(ctx context.Context, optOut bool) error {
	return p.kv.Set(ctx, KeyOptOut, strconv.FormatBool(optOut))
}

// UserToken returns the cached user token, or "" when none is stored.
func (p *Preferences) UserToken(ctx context.Context) string {
	token, err := p.kv.Get(ctx, KeyUserToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logger.Warn("read user token", "error", err)
		}
		return ""
	}
	return token
}

// SetUserToken caches the user token. An empty token clears it.
func (p *Preferences) SetUserToken(ctx context.Context, token string) error {
	if token == "" {
		return p.ClearUserToken(ctx)
	}
	return p.kv.Set(ctx, KeyUserToken, token)
}

// ClearUserToken removes the cached user token.
func (p *Preferences) ClearUserToken(ctx context.Context) error {
	return p.kv.Delete(ctx, KeyUserToken)
}
