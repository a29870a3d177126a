// Package apperrors defines the error taxonomy shared by services and handlers.
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError is returned before any write when input is malformed.
type ValidationError struct {
	Field   string
	Token   string // offending token, e.g. a recurrence rule part
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Token != "":
		return fmt.Sprintf("invalid %s: %s (%q)", e.Field, e.Message, e.Token)
	case e.Field != "":
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	default:
		return "validation failed: " + e.Message
	}
}

// NotFoundError is returned when a referenced row does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a uniqueness or state conflict.
type ConflictError struct {
	Resource string
	Message  string
	Err      error
}

func (e *ConflictError) Error() string {
	msg := e.Resource + " conflict"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ForbiddenError is returned when the caller may see a resource but not act on it.
type ForbiddenError struct {
	Resource string
	Message  string
}

func (e *ForbiddenError) Error() string {
	if e.Message == "" {
		return e.Resource + ": forbidden"
	}
	return e.Resource + ": " + e.Message
}

// Validation builds a ValidationError for field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}

// IsForbidden reports whether err wraps a ForbiddenError.
func IsForbidden(err error) bool {
	var v *ForbiddenError
	return errors.As(err, &v)
}
