// Package syncerr defines the error taxonomy shared by every layer of the
// sync engine: session, HTTP client, domain API, and push pipeline all
// raise one of these kinds so callers can branch on Is/As instead of
// string-matching messages.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies which class of failure occurred, per the propagation
// policy: the HTTP client translates non-2xx responses into one of these,
// the domain API raises NotFound where resolution was required, and the
// push pipeline decides whether to offer rollback based on the kind.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindSessionExpired Kind = "session_expired"
	KindWorkspaceMismatch Kind = "workspace_mismatch"
	KindNotFound Kind = "not_found"
	KindConflict Kind = "conflict"
	KindRateLimited Kind = "rate_limited"
	KindTransport Kind = "transport"
	KindValidation Kind = "validation"
	KindUserCancelled Kind = "user_cancelled"
	KindPartial Kind = "partial"
)

// Error is the concrete error type carrying a Kind plus the HTTP status
// code that produced it (0 when not HTTP-originated) and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Kind, e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, syncerr.New(KindNotFound, "")) to match any
// *Error sharing the same Kind, without requiring identical messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStatus attaches an HTTP status code to an error built via New/Wrap.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// FriendlyMessage maps an HTTP status code to the user-facing text
// mandated by the error handling design: 401/403/404/429/5xx each get a
// fixed, non-technical message; anything else falls back to a generic one.
func FriendlyMessage(status int) string {
	switch {
	case status == 401:
		return "Please re-authenticate"
	case status == 403:
		return "Permission denied"
	case status == 404:
		return "Item not found"
	case status == 429:
		return "Server is rate-limiting, try again"
	case status >= 500:
		return "Server error, retry shortly"
	default:
		return "Request failed"
	}
}
