package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
	// File names the offending upload for validation failures.
	File string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrNotReady = &Error{
		Code:       "not_ready",
		Message:    "The result is not ready yet",
		StatusCode: http.StatusConflict,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrFileTooLarge = &Error{
		Code:       "file_too_large",
		Message:    "The uploaded file exceeds the maximum allowed size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrInvalidFileType = &Error{
		Code:       "invalid_file_type",
		Message:    "This file type is not supported",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &Error{
		Code:       "conflict",
		Message:    "The job is in a state that does not allow this operation",
		StatusCode: http.StatusConflict,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// ForFile wraps err as a client error that names a rejected upload.
func ForFile(err error, appErr *Error, file, message string) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
		File:       file,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}
