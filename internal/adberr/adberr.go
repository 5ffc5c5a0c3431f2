// Package adberr defines the error taxonomy surfaced across the ADB client.
//
// Transport timeouts, protocol violations, and user-approval waits all carry
// different recovery semantics (spec §7), so they're distinct sentinel-like
// kinds rather than ad-hoc strings, comparable with errors.Is/As.
package adberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers need to branch on it.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindNoDevice means USB/TCP enumeration found nothing to probe.
	KindNoDevice
	// KindTimeout means a Transport read exceeded its deadline.
	KindTimeout
	// KindDisconnected means the Transport reported the peer went away.
	KindDisconnected
	// KindIOError means a non-timeout, non-disconnect I/O failure occurred.
	KindIOError
	// KindAuthRefused means the device rejected both signature and pubkey auth.
	KindAuthRefused
	// KindPendingUserApproval means SEND_PUBLIC_KEY timed out waiting on the
	// device's "allow this computer?" prompt. Retryable.
	KindPendingUserApproval
	// KindProtocolError means a magic/checksum/id invariant was violated.
	KindProtocolError
	// KindStreamRefused means the device answered OPEN with CLSE.
	KindStreamRefused
	// KindSyncError means a SYNC FAIL frame carried a device-provided message.
	KindSyncError
)

func (k Kind) String() string {
	switch k {
	case KindNoDevice:
		return "NoDevice"
	case KindTimeout:
		return "Timeout"
	case KindDisconnected:
		return "Disconnected"
	case KindIOError:
		return "IoError"
	case KindAuthRefused:
		return "AuthRefused"
	case KindPendingUserApproval:
		return "PendingUserApproval"
	case KindProtocolError:
		return "ProtocolError"
	case KindStreamRefused:
		return "StreamRefused"
	case KindSyncError:
		return "SyncError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch with
// errors.As while still getting a useful message and %w chain.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, adberr.New(KindTimeout, "")) style kind checks.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and KindUnknown otherwise.
func Of(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindUnknown
}

func asError(err error, target **Error) bool {
	// errors.As follows both single-cause Unwrap() error chains and
	// multi-cause Unwrap() []error ones such as errors.Join.
	return errors.As(err, target)
}
