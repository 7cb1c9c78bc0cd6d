package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures the core reports.
type ErrorCode string

const (
	// CodeNotFound: a referenced book, request, user or hall is absent.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidTransition: a state machine rule was violated.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeAlreadyExists: a duplicate non-terminal request.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeUnauthorized: the actor may not perform the operation.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeTransientStore: a store round-trip failed and may succeed on retry.
	CodeTransientStore ErrorCode = "TRANSIENT_STORE"

	// CodeInvalidArgument: malformed client input (empty body, negative amount).
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Error is the structured error returned by the core operations.
type Error struct {
	Code    ErrorCode
	Message string

	// Entity and ID identify the document involved, when there is one.
	Entity string
	ID     string

	// Err is the underlying cause (store errors for CodeTransientStore).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Entity != "" && e.ID != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Entity, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Terminal reports whether the error must be returned to the caller without
// retry. Only transient store failures are worth retrying.
func (e *Error) Terminal() bool {
	return e.Code != CodeTransientStore
}

// NotFound builds a CodeNotFound error for the given entity.
func NotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Entity:  entity,
		ID:      id,
	}
}

// InvalidTransition builds a CodeInvalidTransition error.
func InvalidTransition(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists builds a CodeAlreadyExists error.
func AlreadyExists(entity, id, message string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: message, Entity: entity, ID: id}
}

// Unauthorized builds a CodeUnauthorized error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a CodeInvalidArgument error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps a store failure.
func Transient(op string, err error) *Error {
	return &Error{Code: CodeTransientStore, Message: op, Err: err}
}

// CodeOf extracts the error code, or "" when err is not a *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsInvalidTransition reports whether err carries CodeInvalidTransition.
func IsInvalidTransition(err error) bool { return CodeOf(err) == CodeInvalidTransition }

// IsAlreadyExists reports whether err carries CodeAlreadyExists.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsUnauthorized reports whether err carries CodeUnauthorized.
func IsUnauthorized(err error) bool { return CodeOf(err) == CodeUnauthorized }

// IsInvalidArgument reports whether err carries CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return CodeOf(err) == CodeInvalidArgument }

// IsTransient reports whether err carries CodeTransientStore.
func IsTransient(err error) bool { return CodeOf(err) == CodeTransientStore }

// WrapStore passes domain errors through unchanged and wraps anything else
// as a transient store failure. Returns nil for nil.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return Transient(op, err)
}
