package connect

import (
	"fmt"
	"net/url"
	"strings"
)

// Redirect query parameters.
const (
	paramNextStep  = "next_step"
	paramUserToken = "user_token"
	paramServiceID = "service_id"
	paramErrorType = "error_type"
)

// NextStep is what a redirect asks the button to do next.
type NextStep int

const (
	NextStepUnknown NextStep = iota
	NextStepComplete
	NextStepServiceAuthentication
	NextStepError
)

func (s NextStep) String() string {
	switch s {
	case NextStepComplete:
		return "complete"
	case NextStepServiceAuthentication:
		return "service_authentication"
	case NextStepError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectResult is the outcome of a web or app redirect.
type ConnectResult struct {
	NextStep  NextStep
	ServiceID string
	UserToken string
	ErrorType string
}

// ParseConnectResult parses the deep link the host app was reopened with.
// Unrecognised next_step values yield NextStepUnknown.
func ParseConnectResult(raw string) (ConnectResult, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ConnectResult{}, fmt.Errorf("parse redirect uri: %w", err)
	}
	return ConnectResultFromQuery(u.Query()), nil
}

// ConnectResultFromQuery reads a ConnectResult from redirect query values.
func ConnectResultFromQuery(q url.Values) ConnectResult {
	result := ConnectResult{}
	switch q.Get(paramNextStep) {
	case "complete":
		result.NextStep = NextStepComplete
		result.UserToken = q.Get(paramUserToken)
	case "service_authentication":
		result.NextStep = NextStepServiceAuthentication
		result.ServiceID = q.Get(paramServiceID)
	case "error":
		result.NextStep = NextStepError
		result.ErrorType = q.Get(paramErrorType)
	}
	return result
}

// Encode renders r as a redirect URI below returnTo.
func (r ConnectResult) Encode(returnTo string) (string, error) {
	u, err := url.Parse(returnTo)
	if err != nil {
		return "", fmt.Errorf("parse return uri: %w", err)
	}
	q := u.Query()
	q.Set(paramNextStep, r.NextStep.String())
	switch r.NextStep {
	case NextStepComplete:
		if r.UserToken != "" {
			q.Set(paramUserToken, r.UserToken)
		}
	case NextStepServiceAuthentication:
		q.Set(paramServiceID, r.ServiceID)
	case NextStepError:
		q.Set(paramErrorType, r.ErrorType)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
