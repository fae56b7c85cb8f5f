package upload

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/connect/internal/analytics"
	"github.com/haasonsaas/connect/internal/api"
	"github.com/haasonsaas/connect/internal/location"
)

// AnalyticsUploader submits analytics records as one event batch.
func AnalyticsUploader(client api.Client, logger *slog.Logger) Uploader {
	return func(ctx context.Context, records [][]byte) error {
		events, skipped := analytics.Decode(records)
		if skipped > 0 && logger != nil {
			logger.Warn("skipping unreadable analytics records", "count", skipped)
		}
		if len(events) == 0 {
			return nil
		}
		return client.UploadEvents(ctx, events)
	}
}

// LocationUploader submits geofence records as one location event batch.
func LocationUploader(client api.Client, logger *slog.Logger) Uploader {
	return func(ctx context.Context, records [][]byte) error {
		events, skipped := location.Decode(records)
		if skipped > 0 && logger != nil {
			logger.Warn("skipping unreadable location records", "count", skipped)
		}
		if len(events) == 0 {
			return nil
		}
		return client.UploadLocationEvents(ctx, events)
	}
}
