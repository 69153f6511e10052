package domain

import (
	"errors"
	"fmt"
)

// Code is the error taxonomy shared by every boundary.
type Code string

const (
	CodeValidationFailed        Code = "VALIDATION_FAILED"
	CodeNotFound                Code = "NOT_FOUND"
	CodeForbidden               Code = "FORBIDDEN"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeInvalidWebhook          Code = "INVALID_WEBHOOK"
	CodeWebhookProcessingFailed Code = "WEBHOOK_PROCESSING_FAILED"
	CodeJobFailed               Code = "JOB_FAILED"
	CodeConflict                Code = "CONFLICT"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeInternal                Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Err == nil
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with code; nil stays nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetails attaches details to a copy of e.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// CodeOf returns the outermost taxonomy code in err's chain, CodeInternal otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf returns the details of the outermost *Error, if any.
func DetailsOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Code: CodeValidationFailed}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrForbidden         = &Error{Code: CodeForbidden}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrConflict          = &Error{Code: CodeConflict}
)
