package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// PermissionError is returned when the acting user lacks a required capability.
// It is never retried and maps to a 403 at the API boundary.
type PermissionError struct {
	Capability string
	message    string
}

func NewPermissionError(msg, capability string) error {
	return &PermissionError{Capability: capability, message: msg}
}

func (err PermissionError) Error() string {
	return err.message
}

func IsPermission(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

// DomainError is a rejected-request failure: the request was well-formed and
// permitted, but the domain state does not allow it (e.g. grading a user not
// gradable-enrolled in the course). Distinct from PermissionError.
type DomainError struct {
	message string
}

func NewDomainError(msg string) error {
	return &DomainError{message: msg}
}

func (err DomainError) Error() string {
	return err.message
}

func IsDomain(err error) bool {
	_, ok := errors.Cause(err).(*DomainError)
	return ok
}

// NotFoundError is returned by "must exist" lookups.
type NotFoundError struct {
	what string
}

func NewNotFoundError(what string) error {
	return &NotFoundError{what: what}
}

func (err NotFoundError) Error() string {
	return err.what + " not found"
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
