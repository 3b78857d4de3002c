package apperrors

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another AppError by code and message, so wrapped sentinels
// created with Wrap still satisfy errors.Is against the bare sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

// Storage wraps an underlying store failure with the operation that hit it.
func Storage(op string, cause error) error {
	return Wrap(CodeStorageFailure, op, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// HTTPStatus maps err onto the status class the surrounding application
// should answer with.
func HTTPStatus(err error) int {
	return CodeOf(err).Status()
}

// Reason is the human-readable message for err, without internal causes.
func Reason(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Code == CodeStorageFailure {
			return "something went wrong"
		}
		return ae.Message
	}
	return "something went wrong"
}
