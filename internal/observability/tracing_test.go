package observability

import (
	"context"
	"errors"
	"testing"
)

func TestSetupTracing_NoEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("SetupTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "upload.flush", "queue", "analytics", "dangling")
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil")
	}
	EndSpan(span, errors.New("failed"))
	EndSpan(span, nil)
}
