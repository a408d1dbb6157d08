package host

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind tags a host error for programmatic handling.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindRateLimited ErrorKind = "rate_limited"
	KindConflict    ErrorKind = "conflict"
	KindTransient   ErrorKind = "transient"
	KindOther       ErrorKind = "other"
)

// Error is the typed error returned by every Client call.
type Error struct {
	Kind   ErrorKind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from an error chain, defaulting to other.
func KindOf(err error) ErrorKind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindOther
}

// IsNotFound reports whether the error is a 404-class host error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return KindConflict
	case status >= 500:
		return KindTransient
	default:
		return KindOther
	}
}

// retryable reports whether a call with this error is worth retrying.
func retryable(kind ErrorKind) bool {
	return kind == KindTransient || kind == KindRateLimited
}
