// Package storage persists the SDK's small pieces of local state: the
// installation's anonymous ID, the analytics opt-out flag and the cached user
// token. State lives in a sqlite database shared with the event queues.
package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
