// Package lderr defines the structured error taxonomy shared by the inbox
// and message stores. Every error carries a kind, the identifier it refers
// to where one exists, the capability that failed for denials, and an HTTP
// status hint for callers that surface these over an API.
package lderr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindValidation is a malformed-input error raised before any I/O.
	KindValidation Kind = "ValidationError"
	// KindNotFound means the resource is absent or tombstoned.
	KindNotFound Kind = "NotFound"
	// KindPermissionDenied is a policy oracle denial.
	KindPermissionDenied Kind = "PermissionDenied"
	// KindConflict is a duplicate-key insert rejection.
	KindConflict Kind = "Conflict"
	// KindBadRequest is the ambiguous conditional-update failure, e.g. a
	// move whose message is missing or already in the target inbox.
	KindBadRequest Kind = "BadRequest"
)

// Error is a structured store error.
type Error struct {
	Kind       Kind
	Message    string
	Resource   string // identifier of the resource involved, if any
	Target     string // target identifier for move failures
	Capability string // capability that was denied, if any
	HTTPStatus int
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound reports that the identified resource is absent or deleted.
func NotFound(message, resource string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    message,
		Resource:   resource,
		HTTPStatus: 404,
	}
}

// PermissionDenied reports a policy denial for the named capability.
func PermissionDenied(capability string) *Error {
	return &Error{
		Kind:       KindPermissionDenied,
		Message:    fmt.Sprintf("permission denied: %s", capability),
		Capability: capability,
		HTTPStatus: 403,
	}
}

// Conflict reports a duplicate-key insert for the identified resource.
func Conflict(message, resource string) *Error {
	return &Error{
		Kind:       KindConflict,
		Message:    message,
		Resource:   resource,
		HTTPStatus: 409,
	}
}

// BadRequest reports a client error that is not a simple NotFound, such as
// a move whose conditional update matched nothing.
func BadRequest(message, resource, target string) *Error {
	return &Error{
		Kind:       KindBadRequest,
		Message:    message,
		Resource:   resource,
		Target:     target,
		HTTPStatus: 400,
	}
}

// Validation reports malformed input. It is always returned before any
// storage or policy call.
func Validation(message string) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    message,
		HTTPStatus: 400,
	}
}

// IsKind reports whether err is a structured error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
