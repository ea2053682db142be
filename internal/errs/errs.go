// Package errs defines the user-facing error taxonomy of the coordinator.
//
// Every rejected command carries a Kind and a human-readable message. Errors
// match by Kind under errors.Is, so a call site may attach its own message
// (or wrap a cause) and still be recognised by callers and the web layer.
package errs

import (
	"errors"
	"net/http"
)

// Kind classifies an expected, user-facing failure.
type Kind string

const (
	KindAlreadyRunning         Kind = "ALREADY_RUNNING"
	KindNoActiveCycle          Kind = "NO_ACTIVE_CYCLE"
	KindSchedulingRequired     Kind = "SCHEDULING_REQUIRED"
	KindRelayFailure           Kind = "RELAY_FAILURE"
	KindDeviceUnavailable      Kind = "DEVICE_UNAVAILABLE"
	KindDuplicateSingletonTask Kind = "DUPLICATE_SINGLETON_TASK"
	KindSlotConflict           Kind = "SLOT_CONFLICT"
	KindTooManyRequests        Kind = "TOO_MANY_REQUESTS"
	KindSplitNotAllowed        Kind = "SPLIT_NOT_ALLOWED"
	KindSplitsPending          Kind = "SPLITS_PENDING"
	KindNotFound               Kind = "NOT_FOUND"
	KindForbidden              Kind = "FORBIDDEN"
	KindInvalidInput           Kind = "INVALID_INPUT"
)

// Error is a typed failure with a message suitable for end users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels, one per kind.
var (
	ErrAlreadyRunning         = &Error{Kind: KindAlreadyRunning, Message: "The washing machine is already in use"}
	ErrNoActiveCycle          = &Error{Kind: KindNoActiveCycle, Message: "You do not have a running cycle"}
	ErrSchedulingRequired     = &Error{Kind: KindSchedulingRequired, Message: "You need a reservation covering the current time to start a cycle"}
	ErrRelayFailure           = &Error{Kind: KindRelayFailure, Message: "Request to switch the relay failed, please try again"}
	ErrDeviceUnavailable      = &Error{Kind: KindDeviceUnavailable, Message: "The device is currently unreachable"}
	ErrDuplicateSingletonTask = &Error{Kind: KindDuplicateSingletonTask, Message: "This operation is already in progress"}
	ErrSlotConflict           = &Error{Kind: KindSlotConflict, Message: "The requested timeslot overlaps an existing reservation"}
	ErrTooManyRequests        = &Error{Kind: KindTooManyRequests, Message: "Too many reservation requests, try again later"}
	ErrSplitNotAllowed        = &Error{Kind: KindSplitNotAllowed, Message: "This cycle cannot be split"}
	ErrSplitsPending          = &Error{Kind: KindSplitsPending, Message: "All split requests must be accepted before the cycle can be marked as paid"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "Not found"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "You are not allowed to do this"}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput, Message: "Invalid input"}
)

// New returns an error of the given kind with a specific message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind carrying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the kind of err, or "" when err is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing message of a typed error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An unexpected error occurred"
}

// HTTPStatus maps a kind to the status code rendered by the web layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAlreadyRunning, KindSlotConflict, KindDuplicateSingletonTask, KindSplitNotAllowed, KindSplitsPending:
		return http.StatusConflict
	case KindNoActiveCycle, KindNotFound:
		return http.StatusNotFound
	case KindSchedulingRequired, KindForbidden:
		return http.StatusForbidden
	case KindRelayFailure, KindDeviceUnavailable:
		return http.StatusBadGateway
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
