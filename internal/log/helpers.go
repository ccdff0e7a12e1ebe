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

package log

import (
	"context"
	"time"
)

// OperationLogger provides structured logging for operations with timing and status.
type OperationLogger struct {
	logger    *Logger
	operation string
	startTime time.Time
	fields    []any
}

// StartOperation starts logging an operation with timing information.
func (l *Logger) StartOperation(ctx context.Context, operation string, fields ...any) *OperationLogger {
	op := &OperationLogger{
		logger:    l,
		operation: operation,
		startTime: time.Now(),
		fields:    fields,
	}

	op.logger.Info(ctx, "operation started", append([]any{
		"operation", operation,
	}, fields...)...)

	return op
}

// Complete completes the operation with success status.
func (op *OperationLogger) Complete(ctx context.Context, fields ...any) {
	duration := time.Since(op.startTime)

	allFields := append([]any{
		"operation", op.operation,
		"status", "success",
		"duration_ms", duration.Milliseconds(),
	}, op.fields...)
	allFields = append(allFields, fields...)

	op.logger.Info(ctx, "operation completed", allFields...)
}

// Fail completes the operation with failure status.
func (op *OperationLogger) Fail(ctx context.Context, err error, fields ...any) {
	duration := time.Since(op.startTime)

	allFields := append([]any{
		"operation", op.operation,
		"status", "failed",
		"duration_ms", duration.Milliseconds(),
	}, op.fields...)
	allFields = append(allFields, fields...)

	op.logger.ErrorWithError(ctx, "operation failed", err, allFields...)
}

// RequestLogger provides structured logging for HTTP requests.
type RequestLogger struct {
	logger    *Logger
	method    string
	path      string
	startTime time.Time
	fields    []any
}

// StartRequest starts timing a request. Nothing is logged until it completes.
func (l *Logger) StartRequest(ctx context.Context, method, path string, fields ...any) *RequestLogger {
	return &RequestLogger{
		logger:    l,
		method:    method,
		path:      path,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Complete logs the finished request, choosing the level from the status code.
func (req *RequestLogger) Complete(ctx context.Context, statusCode int, responseSize int64, fields ...any) {
	duration := time.Since(req.startTime)

	allFields := append([]any{
		"method", req.method,
		"path", req.path,
		"status_code", statusCode,
		"response_size", responseSize,
		"duration_ms", duration.Milliseconds(),
	}, req.fields...)
	allFields = append(allFields, fields...)

	switch {
	case statusCode >= 500:
		req.logger.Error(ctx, "request completed with server error", allFields...)
	case statusCode >= 400:
		req.logger.Warn(ctx, "request completed with client error", allFields...)
	default:
		req.logger.Info(ctx, "request completed", allFields...)
	}
}

// DatabaseLogger provides structured logging for database operations.
type DatabaseLogger struct {
	logger        *Logger
	operation     string
	table         string
	startTime     time.Time
	slowThreshold time.Duration
	fields        []any
}

// StartDatabaseOperation starts logging a database operation.
func (l *Logger) StartDatabaseOperation(ctx context.Context, operation, table string, fields ...any) *DatabaseLogger {
	db := &DatabaseLogger{
		logger:        l,
		operation:     operation,
		table:         table,
		startTime:     time.Now(),
		slowThreshold: 200 * time.Millisecond,
		fields:        fields,
	}

	db.logger.Debug(ctx, "database operation started", append([]any{
		"db_operation", operation,
		"db_table", table,
	}, fields...)...)

	return db
}

// Elapsed returns the time since the operation started.
func (db *DatabaseLogger) Elapsed() time.Duration {
	return time.Since(db.startTime)
}

// Complete completes the database operation with result information. Queries
// slower than the threshold are logged at warn level.
func (db *DatabaseLogger) Complete(ctx context.Context, rowsAffected int64, fields ...any) {
	duration := db.Elapsed()

	allFields := append([]any{
		"db_operation", db.operation,
		"db_table", db.table,
		"rows_affected", rowsAffected,
		"duration_ms", duration.Milliseconds(),
	}, db.fields...)
	allFields = append(allFields, fields...)

	if duration > db.slowThreshold {
		db.logger.Warn(ctx, "slow database operation", append(allFields, "threshold_ms", db.slowThreshold.Milliseconds())...)
		return
	}
	db.logger.Debug(ctx, "database operation completed", allFields...)
}

// Fail completes the database operation with an error.
func (db *DatabaseLogger) Fail(ctx context.Context, err error, fields ...any) {
	duration := db.Elapsed()

	allFields := append([]any{
		"db_operation", db.operation,
		"db_table", db.table,
		"duration_ms", duration.Milliseconds(),
	}, db.fields...)
	allFields = append(allFields, fields...)

	db.logger.ErrorWithError(ctx, "database operation failed", err, allFields...)
}

// AuthenticationLogger provides structured logging for bearer token checks.
type AuthenticationLogger struct {
	logger *Logger
}

// NewAuthenticationLogger creates a new authentication logger.
func (l *Logger) NewAuthenticationLogger() *AuthenticationLogger {
	return &AuthenticationLogger{logger: l}
}

// TokenAccepted logs a request whose token granted the required permission.
func (auth *AuthenticationLogger) TokenAccepted(ctx context.Context, subject, permission string) {
	auth.logger.Debug(ctx, "token accepted",
		"subject", subject,
		"permission", permission,
		"event_type", "token_accepted",
	)
}

// TokenRejected logs a rejected token with the machine-readable reason.
func (auth *AuthenticationLogger) TokenRejected(ctx context.Context, code, description, ipAddress, userAgent string) {
	auth.logger.Warn(ctx, "token rejected",
		"code", code,
		"description", description,
		"ip_address", ipAddress,
		"user_agent", userAgent,
		"event_type", "token_rejected",
	)
}

// SigningKeysUnavailable logs a failure to reach the identity provider.
func (auth *AuthenticationLogger) SigningKeysUnavailable(ctx context.Context, url string, err error) {
	auth.logger.ErrorWithError(ctx, "signing keys unavailable", err,
		"jwks_url", url,
		"event_type", "signing_keys_unavailable",
	)
}

// SecurityEvent logs security-related events.
func (auth *AuthenticationLogger) SecurityEvent(ctx context.Context, eventType, description string, fields ...any) {
	allFields := append([]any{
		"event_type", eventType,
		"description", description,
		"security_event", true,
	}, fields...)

	auth.logger.Warn(ctx, "security event", allFields...)
}

// BusinessLogger provides structured logging for business logic events.
type BusinessLogger struct {
	logger *Logger
	domain string
}

// NewBusinessLogger creates a new business logger for a specific domain.
func (l *Logger) NewBusinessLogger(domain string) *BusinessLogger {
	return &BusinessLogger{
		logger: l,
		domain: domain,
	}
}

// EntityCreated logs entity creation.
func (biz *BusinessLogger) EntityCreated(ctx context.Context, entityType, entityID string, fields ...any) {
	allFields := append([]any{
		"domain", biz.domain,
		"entity_type", entityType,
		"entity_id", entityID,
		"action", "created",
	}, fields...)

	biz.logger.Info(ctx, "entity created", allFields...)
}

// EntityUpdated logs entity updates.
func (biz *BusinessLogger) EntityUpdated(ctx context.Context, entityType, entityID string, changedFields []string, fields ...any) {
	allFields := append([]any{
		"domain", biz.domain,
		"entity_type", entityType,
		"entity_id", entityID,
		"action", "updated",
		"changed_fields", changedFields,
	}, fields...)

	biz.logger.Info(ctx, "entity updated", allFields...)
}

// EntityDeleted logs entity deletion.
func (biz *BusinessLogger) EntityDeleted(ctx context.Context, entityType, entityID string, fields ...any) {
	allFields := append([]any{
		"domain", biz.domain,
		"entity_type", entityType,
		"entity_id", entityID,
		"action", "deleted",
	}, fields...)

	biz.logger.Info(ctx, "entity deleted", allFields...)
}

// BusinessRule logs business rule enforcement.
func (biz *BusinessLogger) BusinessRule(ctx context.Context, ruleName string, passed bool, description string, fields ...any) {
	allFields := append([]any{
		"domain", biz.domain,
		"rule_name", ruleName,
		"rule_passed", passed,
		"description", description,
	}, fields...)

	if passed {
		biz.logger.Debug(ctx, "business rule passed", allFields...)
	} else {
		biz.logger.Warn(ctx, "business rule violated", allFields...)
	}
}

// LogPanic logs and recovers from panics. It must be deferred directly.
func LogPanic(ctx context.Context, logger *Logger) { // nolint: revive
	if r := recover(); r != nil {
		logger.Error(ctx, "panic recovered",
			"panic_value", r,
			"recovered", true,
		)
	}
}
