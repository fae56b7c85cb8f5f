package api

import (
	"errors"
	"net/http"

	"github.com/haasonsaas/connect/internal/auth"
	"github.com/haasonsaas/connect/pkg/models"
)

// ErrNotConfigured is returned by a nil or zero client.
var ErrNotConfigured = errors.New("api client not configured")

// AsErrorResponse extracts the logical API error from err.
func AsErrorResponse(err error) (*models.ErrorResponse, bool) {
	var resp *models.ErrorResponse
	if errors.As(err, &resp) {
		return resp, true
	}
	return nil, false
}

// IsUnauthorized reports whether err means the user token was rejected or is
// no longer usable.
func IsUnauthorized(err error) bool {
	if errors.Is(err, auth.ErrTokenExpired) {
		return true
	}
	if resp, ok := AsErrorResponse(err); ok {
		return resp.Status == http.StatusUnauthorized || resp.Code == models.ErrorCodeUnauthorized
	}
	return false
}

// IsNotFound reports whether the server answered 404.
func IsNotFound(err error) bool {
	resp, ok := AsErrorResponse(err)
	return ok && resp.Status == http.StatusNotFound
}

// IsTransient reports whether retrying the same request may succeed: transport
// failures, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil || IsUnauthorized(err) {
		return false
	}
	resp, ok := AsErrorResponse(err)
	if !ok {
		return !errors.Is(err, ErrNotConfigured)
	}
	return resp.Status == http.StatusTooManyRequests || resp.Status >= 500
}

// ToErrorResponse converts any client error into the ErrorResponse shape
// listeners receive. Transport failures become network errors.
func ToErrorResponse(err error) *models.ErrorResponse {
	if err == nil {
		return nil
	}
	if resp, ok := AsErrorResponse(err); ok {
		return resp
	}
	if IsUnauthorized(err) {
		return &models.ErrorResponse{Code: models.ErrorCodeUnauthorized, Message: err.Error()}
	}
	return &models.ErrorResponse{Code: models.ErrorCodeNetwork, Message: err.Error()}
}
