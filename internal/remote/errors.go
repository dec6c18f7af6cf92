package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed upstream call. The set is closed: every
// failure the Client returns carries exactly one of these kinds.
type ErrorKind uint8

const (
	// KindNetwork covers transport failures and unexpected HTTP statuses,
	// including rate limiting and 5xx responses.
	KindNetwork ErrorKind = iota + 1

	// KindAuth means the upstream refused or never issued a credential.
	KindAuth

	// KindParse means the response arrived but its body could not be
	// decoded into the expected shape.
	KindParse

	// KindNotFound means the upstream has no record for the requested
	// entity.
	KindNotFound
)

// String returns the human readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindAuth:
		return "auth error"
	case KindParse:
		return "parse error"
	case KindNotFound:
		return "not found"
	default:
		return fmt.Sprintf("unknown error kind %d", uint8(k))
	}
}

// Error is the typed failure returned by every Client call and by the
// payload parsers.
type Error struct {
	// Kind is the failure class.
	Kind ErrorKind

	// Op names the call that failed (authenticate, list_entities,
	// fetch_detail).
	Op string

	// Status is the HTTP status code, or zero when no response was
	// received.
	Status int

	// Msg is a short diagnostic.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("remote %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call could succeed. Only
// network failures qualify, and of those only the ones without a status
// (transport errors, timeouts), rate limiting and 5xx responses.
func (e *Error) Retryable() bool {
	if e.Kind != KindNetwork {
		return false
	}

	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

// IsKind reports whether err is, or wraps, a remote Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var rerr *Error
	if !errors.As(err, &rerr) {
		return false
	}

	return rerr.Kind == kind
}

// statusError maps a non-2xx response onto the failure taxonomy.
func statusError(op string, status int, body []byte) *Error {
	e := &Error{
		Op:     op,
		Status: status,
		Msg:    snippet(body),
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = KindAuth
	case http.StatusNotFound:
		e.Kind = KindNotFound
	default:
		e.Kind = KindNetwork
	}

	return e
}

// snippet trims a response body down to a short single-line diagnostic.
func snippet(body []byte) string {
	const limit = 160

	out := make([]byte, 0, limit)
	for _, b := range body {
		if len(out) == limit {
			return string(out) + "..."
		}
		if b == '\n' || b == '\r' || b == '\t' {
			b = ' '
		}
		out = append(out, b)
	}

	return string(out)
}
