package shared

import "errors"

// Guard errors returned by constructors and register methods.
var (
	ErrNoLogger             = errors.New("no logger provided")
	ErrNoSignaling          = errors.New("no signaling client provided")
	ErrNoTransport          = errors.New("no media transport provided")
	ErrNoCapture            = errors.New("no capture source provided")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrSessionTerminated    = errors.New("session already terminated")
	ErrHandlerAlreadySet    = errors.New("handler already set")
)

// Call error taxonomy. Permission and device errors are terminal for the
// session; transport connect failures degrade instead of aborting; signaling
// failures during teardown are logged and swallowed.
var (
	ErrPermissionDenied       = errors.New("media permission denied")
	ErrDeviceUnavailable      = errors.New("media device unavailable")
	ErrTransportConnectFailed = errors.New("media transport connect failed")
	ErrSignalingUnreachable   = errors.New("signaling service unreachable")
	ErrSelfCallRejected       = errors.New("caller and counterparty are the same participant")
	ErrInvalidSessionContext  = errors.New("missing shop context for call session")
)
