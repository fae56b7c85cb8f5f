// Package connect implements the Connect Button: the state machine that
// tracks a connection's displayed state and the coordinator that drives the
// enable and disable flows around it.
package connect

import "github.com/haasonsaas/connect/pkg/models"

// ButtonState is what the button currently shows.
type ButtonState int

const (
	StateUnknown ButtonState = iota
	StateInitial
	StateLogin
	StateCreateAccount
	StateServiceAuthentication
	StateEnabled
	StateDisabled
)

func (s ButtonState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLogin:
		return "login"
	case StateCreateAccount:
		return "create_account"
	case StateServiceAuthentication:
		return "service_authentication"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// FlowStep is the authorization step in progress, if any.
type FlowStep int

const (
	FlowNone FlowStep = iota
	FlowLogin
	FlowCreateAccount
	FlowServiceAuthentication
)

func (f FlowStep) String() string {
	switch f {
	case FlowLogin:
		return "login"
	case FlowCreateAccount:
		return "create_account"
	case FlowServiceAuthentication:
		return "service_authentication"
	default:
		return "none"
	}
}

// DeriveState computes the button state from the connection status and the
// pending flow step. A pending step always wins over the stored status.
func DeriveState(status models.ConnectionStatus, flow FlowStep) ButtonState {
	switch flow {
	case FlowLogin:
		return StateLogin
	case FlowCreateAccount:
		return StateCreateAccount
	case FlowServiceAuthentication:
		return StateServiceAuthentication
	}
	switch status {
	case models.ConnectionStatusEnabled:
		return StateEnabled
	case models.ConnectionStatusDisabled:
		return StateDisabled
	default:
		return StateInitial
	}
}
