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
)

// Logger interface for logging errors. This allows for easy testing and
// different logger implementations.
type Logger interface {
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

// LogError logs an error with appropriate context and severity level.
func LogError(ctx context.Context, logger Logger, err error) {
	LogErrorWithMessage(ctx, logger, err, "error occurred")
}

// LogErrorWithMessage logs an error with a custom message.
func LogErrorWithMessage(ctx context.Context, logger Logger, err error, message string) {
	if err == nil || logger == nil {
		return
	}

	fields := extractLoggingFields(err)

	switch determineLogLevel(err) {
	case "debug":
		logger.Debug(ctx, message, fields...)
	case "info":
		logger.Info(ctx, message, fields...)
	case "warn":
		logger.Warn(ctx, message, fields...)
	default:
		logger.Error(ctx, message, fields...)
	}
}

// determineLogLevel determines the appropriate log level for an error.
func determineLogLevel(err error) string {
	appErr, ok := AsAppError(err)
	if !ok {
		return "error"
	}

	switch appErr.Code {
	case NotFoundError, MethodNotAllowedError:
		return "info"
	case ValidationError, UnprocessableError, RateLimitError, ForbiddenError:
		return "warn"
	default:
		return "error"
	}
}

// extractLoggingFields extracts structured logging fields from an error.
func extractLoggingFields(err error) []any {
	var fields []any

	var ce *ContextualError
	if errors.As(err, &ce) && ce.Context != nil {
		fields = append(fields, "error_type", "contextual_error")
		if ce.Context.Component != "" {
			fields = append(fields, "component", ce.Context.Component)
		}
		if ce.Context.Operation != "" {
			fields = append(fields, "operation", ce.Context.Operation)
		}

		// The logger adds request, user and trace ids from ctx itself.
		if len(ce.Context.StackTrace) > 0 {
			var frames []string
			for i, frame := range ce.Context.StackTrace {
				if i >= 3 {
					break
				}
				frames = append(frames, frame.Function)
			}
			fields = append(fields, "stack_trace", frames)
		}
	}

	appErr, ok := AsAppError(err)
	if !ok {
		return append(fields, "error_type", "standard_error", "error_message", err.Error())
	}

	if ce == nil {
		fields = append(fields, "error_type", "app_error")
	}
	fields = append(fields, "error_code", string(appErr.Code), "error_message", appErr.Message)

	if appErr.Details != "" {
		fields = append(fields, "error_details", appErr.Details)
	}
	for key, value := range appErr.Metadata {
		fields = append(fields, "metadata_"+key, value)
	}
	if appErr.Cause != nil {
		fields = append(fields, "underlying_cause", appErr.Cause.Error())
	}

	return fields
}
