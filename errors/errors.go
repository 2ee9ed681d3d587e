// Package errors provides the error taxonomy shared by all camlink
// components. Every failure surfaced by the client carries a Kind so
// callers can distinguish transport loss, timeouts, protocol violations,
// and server-reported errors without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a camlink error for handling purposes.
type Kind int

const (
	// KindConnectionLost indicates the transport closed before a response
	// arrived. All in-flight requests fail with this kind simultaneously.
	KindConnectionLost Kind = iota
	// KindTimeout indicates no response arrived within the call deadline.
	// The request may still complete server-side; it is abandoned client-side.
	KindTimeout
	// KindProtocolError indicates a malformed frame or envelope.
	KindProtocolError
	// KindRemoteError indicates a structured error returned by the camera
	// service, propagated verbatim with its code and message.
	KindRemoteError
	// KindAuthRequired indicates the server rejected a call because no
	// session is established.
	KindAuthRequired
	// KindAuthExpired indicates the session credential lapsed mid-session.
	KindAuthExpired
	// KindUnsupported indicates the feature is disabled server-side.
	KindUnsupported
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindConnectionLost:
		return "connection_lost"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindRemoteError:
		return "remote_error"
	case KindAuthRequired:
		return "auth_required"
	case KindAuthExpired:
		return "auth_expired"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	ErrConnectionLost = errors.New("connection lost")
	ErrTimeout        = errors.New("call timeout")
	ErrAuthRequired   = errors.New("authentication required")
	ErrAuthExpired    = errors.New("session expired")
	ErrUnsupported    = errors.New("feature unsupported")

	// Client lifecycle errors.
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrClosed            = errors.New("client closed")
	ErrReconnectExceeded = errors.New("maximum reconnect attempts exceeded")
)

// Camera service error codes carried in JSON-RPC error envelopes.
const (
	CodeAuthRequired   = -32001
	CodeSessionExpired = -32002
	CodeUnsupported    = -32003
)

// Error wraps an underlying error with its Kind and the component context
// where it occurred.
type Error struct {
	Kind      Kind
	Err       error
	Component string
	Operation string

	// Remote error details, set only for KindRemoteError and the auth kinds.
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == KindRemoteError {
		return fmt.Sprintf("%s.%s: remote error %d: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with component context.
func New(kind Kind, err error, component, operation string) *Error {
	return &Error{Kind: kind, Err: err, Component: component, Operation: operation}
}

// Remote creates a KindRemoteError carrying the server's code and message
// verbatim. Auth-related codes are promoted to their dedicated kinds so
// callers can test with IsAuthExpired/IsAuthRequired.
func Remote(code int, message, component, operation string) *Error {
	kind := KindRemoteError
	var base error
	switch code {
	case CodeAuthRequired:
		kind = KindAuthRequired
		base = ErrAuthRequired
	case CodeSessionExpired:
		kind = KindAuthExpired
		base = ErrAuthExpired
	case CodeUnsupported:
		kind = KindUnsupported
		base = ErrUnsupported
	}
	return &Error{
		Kind:      kind,
		Err:       base,
		Component: component,
		Operation: operation,
		Code:      code,
		Message:   message,
	}
}

// KindOf returns the Kind of err. The second return is false when err
// carries no classification.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return KindRemoteError, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsConnectionLost reports whether err indicates the transport dropped.
func IsConnectionLost(err error) bool {
	return Is(err, KindConnectionLost) || errors.Is(err, ErrConnectionLost)
}

// IsTimeout reports whether err indicates a call deadline elapsed.
func IsTimeout(err error) bool {
	return Is(err, KindTimeout) || errors.Is(err, ErrTimeout)
}

// IsAuthError reports whether err indicates a missing or lapsed session.
func IsAuthError(err error) bool {
	return Is(err, KindAuthRequired) || Is(err, KindAuthExpired) ||
		errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrAuthExpired)
}

// IsAuthExpired reports whether err indicates the credential lapsed.
func IsAuthExpired(err error) bool {
	return Is(err, KindAuthExpired) || errors.Is(err, ErrAuthExpired)
}

// RemoteCode extracts the server error code from err, or 0 when err does not
// originate from the camera service.
func RemoteCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// Wrap creates a standardized error with context following the pattern
// "component.operation: action failed: %w".
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}
