package models

import "fmt"

// Well-known ErrorResponse codes produced on the client.
const (
	ErrorCodeUnknownState  = "unknown_state"
	ErrorCodeNetwork       = "network_error"
	ErrorCodeUnauthorized  = "unauthorized"
	ErrorCodeInvalidResult = "invalid_redirect"
)

// ErrorResponse is a logical error reported by the remote API or the
// authorization flow. Status is the HTTP status when one was received.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *ErrorResponse) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
