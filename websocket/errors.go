package websocket

import (
	"errors"
	"fmt"
)

// Reason is the machine readable cause sent to a client in an error event.
type Reason string

const (
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonNotAdmitted      Reason = "not_admitted"
	ReasonNotAMember       Reason = "not_a_member"
	ReasonEmptyBody        Reason = "empty_body"
	ReasonBodyTooLong      Reason = "body_too_long"
	ReasonBadRequest       Reason = "bad_request"
	ReasonMediaUnavailable Reason = "media_unavailable"
	ReasonInternal         Reason = "internal"
)

var (
	ErrNotAMember = errors.New("connection is not a member of the room")

	// ErrQueueFull and ErrConnectionClosed are delivery failures. They never
	// reach the sender; the recipient is dropped instead.
	ErrQueueFull        = errors.New("outbound queue full")
	ErrConnectionClosed = errors.New("connection closed")
)

// AuthError rejects a connection that has not been, or cannot be, admitted.
// It is terminal for the connection.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError rejects a single malformed inbound event. The connection stays open.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return string(e.Reason)
}

func unauthenticated(err error) *AuthError {
	return &AuthError{Reason: ReasonUnauthenticated, Err: err}
}

func invalid(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// reasonOf maps an error to the reason reported on the wire.
func reasonOf(err error) Reason {
	var authErr *AuthError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &authErr):
		return authErr.Reason
	case errors.As(err, &validationErr):
		return validationErr.Reason
	case errors.Is(err, ErrNotAMember):
		return ReasonNotAMember
	default:
		return ReasonInternal
	}
}
