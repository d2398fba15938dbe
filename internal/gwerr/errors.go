// Package gwerr defines the gateway's typed error kinds and the WebSocket
// close code each maps to.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error for close-code mapping and logging.
type Kind int

const (
	// KindBadRequest covers missing or invalid upgrade parameters.
	KindBadRequest Kind = iota
	// KindContainerNotFound means the engine reports no such container.
	KindContainerNotFound
	// KindContainerNotRunning means the container exists but isn't running.
	KindContainerNotRunning
	// KindInspectFailed covers container engine/transport failures during
	// inspect that are not a "no such container" response (daemon down,
	// socket error, API error) — an infrastructure problem, not a policy
	// violation.
	KindInspectFailed
	// KindAttachFailed covers exec create/start failures.
	KindAttachFailed
	// KindStreamError covers mid-session I/O errors on either endpoint.
	KindStreamError
	// KindFrameError covers malformed LSP frames; never session-fatal.
	KindFrameError
	// KindRequestForward covers a failed attempt to forward a client
	// request to the language server; never session-fatal.
	KindRequestForward
	// KindNotificationForward covers a failed attempt to forward a
	// notification; never session-fatal.
	KindNotificationForward
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindContainerNotFound:
		return "ContainerNotFound"
	case KindContainerNotRunning:
		return "ContainerNotRunning"
	case KindInspectFailed:
		return "InspectFailed"
	case KindAttachFailed:
		return "AttachFailed"
	case KindStreamError:
		return "StreamError"
	case KindFrameError:
		return "FrameError"
	case KindRequestForward:
		return "RequestForwardError"
	case KindNotificationForward:
		return "NotificationForwardError"
	default:
		return "Unknown"
	}
}

// CloseCode values the gateway uses on its WebSocket close frames.
const (
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Fatal reports whether errors of this kind must terminate the session's
// WebSocket (policy/internal errors) as opposed to staying in-band.
func (k Kind) Fatal() bool {
	switch k {
	case KindBadRequest, KindContainerNotFound, KindContainerNotRunning, KindInspectFailed, KindAttachFailed, KindStreamError:
		return true
	default:
		return false
	}
}

// CloseCode returns the WebSocket close code for a fatal kind. Callers must
// check Fatal() first; non-fatal kinds return 0.
func (k Kind) CloseCode() int {
	switch k {
	case KindBadRequest, KindContainerNotFound, KindContainerNotRunning:
		return ClosePolicyViolation
	case KindInspectFailed, KindAttachFailed, KindStreamError:
		return CloseInternalError
	default:
		return 0
	}
}

// Error is a typed gateway error wrapping an underlying cause.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// As is a thin wrapper over errors.As for the common case of extracting the
// gateway *Error from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
