package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented signals an optional adapter operation the gateway does
	// not support.
	ErrNotImplemented = errors.New("gateway: not implemented")
	// ErrPayloadIntegrity signals an inbound response that failed signature or
	// authenticity verification. Never retried.
	ErrPayloadIntegrity = errors.New("gateway: response failed integrity check")
	// ErrUnknownGateway signals a gateway ref whose settings type has no
	// registered adapter.
	ErrUnknownGateway = errors.New("gateway: unknown gateway settings type")
)

// ValidationError rejects transaction data before any session is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway: invalid transaction data: %s", e.Reason)
}

// FailedToInitiateFlowError signals the remote gateway declined to start a
// flow. Data carries the raw gateway payload for the session log; it is never
// shown to end users.
type FailedToInitiateFlowError struct {
	Message string
	Data    map[string]any
}

func (e *FailedToInitiateFlowError) Error() string {
	return fmt.Sprintf("gateway: failed to initiate flow: %s", e.Message)
}

// TransportError wraps network or HTTP-level failures talking to the remote
// gateway. Recoverable by retrying the attempt.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
