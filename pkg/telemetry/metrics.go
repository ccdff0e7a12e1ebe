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

package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsHelper records the service metrics: HTTP requests, drink table
// operations, signing key fetches, and rejected tokens.
type MetricsHelper struct {
	meter metric.Meter

	httpDuration         metric.Float64Histogram
	databaseDuration     metric.Float64Histogram
	externalCallDuration metric.Float64Histogram

	httpRequests   metric.Int64Counter
	errorCount     metric.Int64Counter
	authRejections metric.Int64Counter

	activeRequests metric.Int64UpDownCounter

	requestSize  metric.Int64Histogram
	responseSize metric.Int64Histogram
}

// NewMetricsHelper creates the instruments on the global meter provider.
//
// Example:
//
//	helper, err := telemetry.NewMetricsHelper("coffeeshop")
//	if err != nil {
//		return err
//	}
//	helper.RecordHTTPRequest(ctx, 12*time.Millisecond, "GET", "/drinks", 200, 0, 512)
func NewMetricsHelper(serviceName string) (*MetricsHelper, error) {
	return NewMetricsHelperWithMeter(otel.Meter(serviceName))
}

// NewMetricsHelperWithMeter creates the instruments on meter.
func NewMetricsHelperWithMeter(meter metric.Meter) (*MetricsHelper, error) {
	httpDuration, err := meter.Float64Histogram(
		"http_request_duration",
		metric.WithDescription("Duration of HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	databaseDuration, err := meter.Float64Histogram(
		"database_operation_duration",
		metric.WithDescription("Duration of database operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create database_operation_duration histogram: %w", err)
	}

	externalCallDuration, err := meter.Float64Histogram(
		"external_call_duration",
		metric.WithDescription("Duration of external service calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create external_call_duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errors_total counter: %w", err)
	}

	authRejections, err := meter.Int64Counter(
		"auth_rejections_total",
		metric.WithDescription("Requests rejected by token verification, by error code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_rejections_total counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_active_requests counter: %w", err)
	}

	requestSize, err := meter.Int64Histogram(
		"request_size_bytes",
		metric.WithDescription("Size of request payloads in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request_size_bytes histogram: %w", err)
	}

	responseSize, err := meter.Int64Histogram(
		"response_size_bytes",
		metric.WithDescription("Size of response payloads in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create response_size_bytes histogram: %w", err)
	}

	return &MetricsHelper{
		meter:                meter,
		httpDuration:         httpDuration,
		databaseDuration:     databaseDuration,
		externalCallDuration: externalCallDuration,
		httpRequests:         httpRequests,
		errorCount:           errorCount,
		authRejections:       authRejections,
		activeRequests:       activeRequests,
		requestSize:          requestSize,
		responseSize:         responseSize,
	}, nil
}

// RecordHTTPRequest records metrics for an HTTP request including duration, count, and payload sizes.
func (m *MetricsHelper) RecordHTTPRequest(ctx context.Context, duration time.Duration, method, route string, statusCode int, requestBytes, responseBytes int64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	)

	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)

	if requestBytes > 0 {
		m.requestSize.Record(ctx, requestBytes, attrs)
	}
	if responseBytes > 0 {
		m.responseSize.Record(ctx, responseBytes, attrs)
	}
}

// RecordDatabaseOperation records metrics for database operations.
func (m *MetricsHelper) RecordDatabaseOperation(ctx context.Context, duration time.Duration, operation, table string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	m.databaseDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("table", table),
			attribute.String("status", status),
		),
	)
}

// RecordExternalCall records metrics for external service calls.
func (m *MetricsHelper) RecordExternalCall(ctx context.Context, duration time.Duration, service, endpoint, statusCode string) {
	m.externalCallDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("endpoint", endpoint),
			attribute.String("status_code", statusCode),
		),
	)
}

// RecordError records an error occurrence with categorization.
func (m *MetricsHelper) RecordError(ctx context.Context, errorType, operation string) {
	m.errorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
			attribute.String("operation", operation),
		),
	)
}

// RecordAuthRejection counts a request refused by the token verifier.
func (m *MetricsHelper) RecordAuthRejection(ctx context.Context, code string) {
	m.authRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// AddActiveRequests moves the in-flight request gauge by delta.
func (m *MetricsHelper) AddActiveRequests(ctx context.Context, delta int64) {
	m.activeRequests.Add(ctx, delta)
}
