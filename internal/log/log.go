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

// Package log provides structured logging for the application.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// loggerKey is the context key for the logger.
	loggerKey = contextKey("logger")
	// requestIDKey is the context key for the request ID.
	requestIDKey = contextKey("request_id")
	// correlationIDKey is the context key for the correlation ID.
	correlationIDKey = contextKey("correlation_id")
	// userIDKey is the context key for the authenticated subject.
	userIDKey = contextKey("user_id")
)

// Config controls how log records are rendered.
type Config struct {
	Level          slog.Level
	Format         string // "json" or "text"
	ServiceName    string
	ServiceVersion string
	Environment    string
	AddSource      bool
	Output         io.Writer
}

// DefaultConfig returns a JSON logger at info level writing to stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:       slog.LevelInfo,
		Format:      "json",
		ServiceName: "coffeeshop",
		Output:      os.Stdout,
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger wraps slog.Logger with context-aware methods that attach request,
// user and trace identifiers carried by the context.
type Logger struct {
	slog *slog.Logger
}

// New creates a new Logger. A nil config uses DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	var attrs []any
	if cfg.ServiceName != "" {
		attrs = append(attrs, "service", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, "version", cfg.ServiceVersion)
	}
	if cfg.Environment != "" {
		attrs = append(attrs, "environment", cfg.Environment)
	}

	return &Logger{slog: slog.New(handler).With(attrs...)}
}

// Wrap adapts an existing slog.Logger.
func Wrap(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{slog: logger}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// ErrorWithError logs err at error level under the "error" key.
func (l *Logger) ErrorWithError(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append([]any{"error", err.Error()}, args...)
	}
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.slog.Enabled(ctx, level) {
		return
	}
	l.slog.Log(ctx, level, msg, append(contextFields(ctx), args...)...)
}

func contextFields(ctx context.Context) []any {
	var fields []any
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		fields = append(fields, "correlation_id", id)
	}
	if id := UserIDFromContext(ctx); id != "" {
		fields = append(fields, "user_id", id)
	}
	if traceID := telemetry.TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID, "span_id", telemetry.SpanIDFromContext(ctx))
	}
	return fields
}

// FromContext returns the logger from the context, or a default logger if none is found.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return New(nil)
}

// WithContext returns a new context with the logger embedded.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID, or "" if none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCorrelationID returns a new context carrying the correlation ID.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID, or "" if none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithUserID returns a new context carrying the authenticated subject.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated subject, or "" if none is set.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
