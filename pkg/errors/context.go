// Copyright 2025 Phillip Lindsay
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

package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/plindsay/coffeeshop/internal/log"
)

// ErrorContext provides contextual information about where and when an error occurred.
type ErrorContext struct {
	// Timestamp when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID for tracing across services
	CorrelationID string `json:"correlation_id,omitempty"`
	// TraceID from OpenTelemetry
	TraceID string `json:"trace_id,omitempty"`
	// SpanID from OpenTelemetry
	SpanID string `json:"span_id,omitempty"`
	// UserID is the token subject, if the request was authenticated
	UserID string `json:"user_id,omitempty"`
	// RequestID if available
	RequestID string `json:"request_id,omitempty"`
	// Component where error occurred
	Component string `json:"component,omitempty"`
	// Operation being performed
	Operation string `json:"operation,omitempty"`
	// StackTrace for debugging
	StackTrace []StackFrame `json:"stack_trace,omitempty"`
}

// StackFrame represents a single frame in the stack trace.
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// captureStackTrace captures the current stack trace.
func captureStackTrace(skip int) []StackFrame {
	var frames []StackFrame

	// Skip additional frames: captureStackTrace + caller
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		// Skip runtime and internal frames, but not test files
		if strings.Contains(file, "runtime/") ||
			(strings.Contains(file, "pkg/errors/") && !strings.Contains(file, "_test.go")) {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})

		if len(frames) >= 10 {
			break
		}
	}

	return frames
}

// NewErrorContext creates a new error context from the given context.
func NewErrorContext(ctx context.Context) *ErrorContext {
	ec := &ErrorContext{
		Timestamp:     time.Now(),
		CorrelationID: log.CorrelationIDFromContext(ctx),
		RequestID:     log.RequestIDFromContext(ctx),
		UserID:        log.UserIDFromContext(ctx),
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ec.TraceID = sc.TraceID().String()
		ec.SpanID = sc.SpanID().String()
	}

	ec.StackTrace = captureStackTrace(1)

	return ec
}

// WithComponent adds component information to the error context.
func (ec *ErrorContext) WithComponent(component string) *ErrorContext {
	ec.Component = component
	return ec
}

// WithOperation adds operation information to the error context.
func (ec *ErrorContext) WithOperation(operation string) *ErrorContext {
	ec.Operation = operation
	return ec
}

// String returns a string representation of the error context.
func (ec *ErrorContext) String() string {
	var parts []string

	if ec.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", ec.Component))
	}
	if ec.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", ec.Operation))
	}
	if ec.RequestID != "" {
		parts = append(parts, fmt.Sprintf("request_id=%s", ec.RequestID))
	}
	if ec.TraceID != "" {
		parts = append(parts, fmt.Sprintf("trace_id=%s", ec.TraceID))
	}
	if ec.UserID != "" {
		parts = append(parts, fmt.Sprintf("user_id=%s", ec.UserID))
	}

	if len(parts) == 0 {
		return ""
	}

	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// ContextualError extends AppError with where and when it happened.
type ContextualError struct {
	*AppError
	Context *ErrorContext `json:"context,omitempty"`
}

// Error implements the error interface.
func (ce *ContextualError) Error() string {
	baseError := ce.AppError.Error()
	if ce.Context != nil {
		if contextStr := ce.Context.String(); contextStr != "" {
			return fmt.Sprintf("%s %s", baseError, contextStr)
		}
	}
	return baseError
}

// Unwrap exposes the AppError so errors.As can find it.
func (ce *ContextualError) Unwrap() error {
	return ce.AppError
}

// NewContextualError creates a new contextual error.
func NewContextualError(ctx context.Context, appErr *AppError) *ContextualError {
	return &ContextualError{
		AppError: appErr,
		Context:  NewErrorContext(ctx),
	}
}

// WrapWithContext converts err to an AppError and attaches the request context.
func WrapWithContext(ctx context.Context, err error, component, operation string) *ContextualError {
	var ce *ContextualError
	if errors.As(err, &ce) {
		return ce
	}

	ce = NewContextualError(ctx, FromError(err))
	ce.Context.WithComponent(component).WithOperation(operation)
	return ce
}
