package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type failingKV struct{}

func (failingKV) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("read failed")
}
func (failingKV) Set(ctx context.Context, key, value string) error { return errors.New("write failed") }
func (failingKV) Delete(ctx context.Context, key string) error   { return errors.New("delete failed") }

func TestPreferences_AnonymousIDGeneratedOnce(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	first := NewPreferences(kv, nil).AnonymousID(ctx)
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("anonymous id %q is not a UUID: %v", first, err)
	}

	// A new Preferences over the same store must see the persisted value.
	second := NewPreferences(kv, nil).AnonymousID(ctx)
	if first != second {
		t.Fatalf("anonymous id changed: %q then %q", first, second)
	}
	stored, err := kv.Get(ctx, KeyAnonymousID)
	if err != nil || stored != first {
		t.Fatalf("stored id = %q, %v; want %q", stored, err, first)
	}
}

func TestPreferences_AnonymousIDStableWhenWritesFail(t *testing.T) {
	prefs := NewPreferences(failingKV{}, nil)
	ctx := context.Background()

	first := prefs.AnonymousID(ctx)
	if first == "" || prefs.AnonymousID(ctx) != first {
		t.Fatalf("anonymous id not stable under write failures")
	}
}

func TestPreferences_OptOut(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemoryKV(), nil)

	if prefs.OptedOut(ctx) {
		t.Fatal("OptedOut() = true by default")
	}
	if err := prefs.SetOptOut(ctx, true); err != nil {
		t.Fatalf("SetOptOut() error = %v", err)
	}
	if !prefs.OptedOut(ctx) {
		t.Fatal("OptedOut() = false after SetOptOut(true)")
	}
	if NewPreferences(failingKV{}, nil).OptedOut(ctx) {
		t.Fatal("OptedOut() = true on read failure")
	}
}

func TestPreferences_UserToken(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemoryKV(), nil)

	if got := prefs.UserToken(ctx); got != "" {
		t.Fatalf("UserToken() = %q, want empty", got)
	}
	if err := prefs.SetUserToken(ctx, "tok"); err != nil {
		t.Fatalf("SetUserToken() error = %v", err)
	}
	if got := prefs.UserToken(ctx); got != "tok" {
		t.Fatalf("UserToken() = %q, want tok", got)
	}
	if err := prefs.SetUserToken(ctx, ""); err != nil {
		t.Fatalf("SetUserToken(empty) error = %v", err)
	}
	if got := prefs.UserToken(ctx); got != "" {
		t.Fatalf("UserToken() after clear = %q", got)
	}
}

func TestOpenPreferences_FallsBackToMemory(t *testing.T) {
	prefs := OpenPreferences(context.Background(), nil, nil)
	if _, ok := prefs.kv.(*MemoryKV); !ok {
		t.Fatalf("kv = %T, want *MemoryKV", prefs.kv)
	}
}
