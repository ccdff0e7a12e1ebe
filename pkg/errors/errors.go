// Copyright 2025 Paddy Lindsay
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors provides custom error types and utilities for structured error handling.
//
// This package defines domain-specific error types that carry consistent
// messaging together with the HTTP status a handler should answer with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of application errors.
type ErrorCode string

const (
	// ValidationError represents input validation failures.
	ValidationError ErrorCode = "VALIDATION_ERROR"
	// NotFoundError represents resource not found errors.
	NotFoundError ErrorCode = "NOT_FOUND_ERROR"
	// UnprocessableError represents well-formed requests that could not be applied.
	UnprocessableError ErrorCode = "UNPROCESSABLE_ERROR"
	// ForbiddenError represents requests refused by access policy.
	ForbiddenError ErrorCode = "FORBIDDEN_ERROR"
	// MethodNotAllowedError represents a known route called with the wrong method.
	MethodNotAllowedError ErrorCode = "METHOD_NOT_ALLOWED_ERROR"
	// InternalError represents internal server errors.
	InternalError ErrorCode = "INTERNAL_ERROR"
	// ExternalError represents external service errors.
	ExternalError ErrorCode = "EXTERNAL_ERROR"
	// RateLimitError represents rate limiting errors.
	RateLimitError ErrorCode = "RATE_LIMIT_ERROR"
)

// AppError represents a structured application error with context.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Cause      error          `json:"-"`
	HTTPStatus int            `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusText is the message written to clients: the configured message for
// client errors and the generic status text for server errors, so internal
// details never leak.
func (e *AppError) StatusText() string {
	if e.HTTPStatus >= http.StatusInternalServerError {
		return http.StatusText(e.HTTPStatus)
	}
	return e.Message
}

// WithMetadata adds metadata to the error.
func (e *AppError) WithMetadata(key string, value any) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// WithCause adds an underlying cause to the error.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// New creates an error with an explicit code and status.
func New(code ErrorCode, status int, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Code:       ValidationError,
		Message:    message,
		Details:    detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Code:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", resource),
		Details:    fmt.Sprintf("Resource with ID '%s' does not exist", id),
		HTTPStatus: http.StatusNotFound,
		Metadata: map[string]any{
			"resource_type": resource,
			"resource_id":   id,
		},
	}
}

// NewUnprocessableError creates an error for a request that was understood
// but could not be carried out.
func NewUnprocessableError(operation string, cause error) *AppError {
	return &AppError{
		Code:       UnprocessableError,
		Message:    "unprocessable",
		Details:    fmt.Sprintf("Failed to perform '%s' operation", operation),
		Cause:      cause,
		HTTPStatus: http.StatusUnprocessableEntity,
		Metadata: map[string]any{
			"operation": operation,
		},
	}
}

// NewInternalError creates a new internal server error.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Code:       InternalError,
		Message:    message,
		Details:    "An internal server error occurred",
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewExternalError creates a new external service error.
func NewExternalError(service, operation string, cause error) *AppError {
	return &AppError{
		Code:       ExternalError,
		Message:    fmt.Sprintf("External service '%s' error", service),
		Details:    fmt.Sprintf("Failed to perform '%s' operation", operation),
		Cause:      cause,
		HTTPStatus: http.StatusServiceUnavailable,
		Metadata: map[string]any{
			"external_service": service,
			"operation":        operation,
		},
	}
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(limit int, window string) *AppError {
	return &AppError{
		Code:       RateLimitError,
		Message:    "rate limit exceeded",
		Details:    fmt.Sprintf("Maximum %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
		Metadata: map[string]any{
			"rate_limit":  limit,
			"time_window": window,
		},
	}
}

// NewForbiddenError creates an error for a request refused by access policy.
func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:       ForbiddenError,
		Message:    "forbidden",
		Details:    reason,
		HTTPStatus: http.StatusForbidden,
	}
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// FromError converts any error to an AppError. Errors that already carry an
// AppError are returned as is; anything else becomes an internal error.
func FromError(err error) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return NewInternalError("Unknown error", err)
}

// WrapError wraps an existing error with additional context.
func WrapError(err error, message string) *AppError {
	if appErr, ok := AsAppError(err); ok {
		return &AppError{
			Code:       appErr.Code,
			Message:    message,
			Details:    appErr.Error(),
			Cause:      err,
			HTTPStatus: appErr.HTTPStatus,
			Metadata:   appErr.Metadata,
		}
	}

	return &AppError{
		Code:       InternalError,
		Message:    message,
		Details:    err.Error(),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// IsErrorCode checks if an error has a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return IsErrorCode(err, NotFoundError)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return IsErrorCode(err, ValidationError)
}

// IsUnprocessable checks if an error is an unprocessable error.
func IsUnprocessable(err error) bool {
	return IsErrorCode(err, UnprocessableError)
}

// IsInternal checks if an error is an internal error.
func IsInternal(err error) bool {
	return IsErrorCode(err, InternalError)
}

// IsExternal checks if an error is an external service error.
func IsExternal(err error) bool {
	return IsErrorCode(err, ExternalError)
}
