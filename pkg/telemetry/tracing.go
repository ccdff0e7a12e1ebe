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

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingHelper provides convenient methods for creating and managing spans
// with consistent attributes and error handling.
type TracingHelper struct {
	tracer trace.Tracer
}

// NewTracingHelper creates a tracing helper on the global tracer provider.
//
// Example:
//
//	helper := telemetry.NewTracingHelper("coffeeshop")
//	ctx, span := helper.StartSpan(ctx, "reset-database")
//	defer span.End()
func NewTracingHelper(serviceName string) *TracingHelper {
	return &TracingHelper{tracer: otel.Tracer(serviceName)}
}

// NewTracingHelperWithProvider creates a tracing helper on tp.
func NewTracingHelperWithProvider(tp trace.TracerProvider, serviceName string) *TracingHelper {
	return &TracingHelper{tracer: tp.Tracer(serviceName)}
}

// StartSpan starts a new span with the given name and returns the context and span.
// The span should be ended by calling span.End() when the operation completes.
func (t *TracingHelper) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// StartHTTPServerSpan starts a server span named after the matched route.
// An empty route means no route matched and the span is named after the method alone.
func (t *TracingHelper) StartHTTPServerSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	name := method
	attrs := []attribute.KeyValue{semconv.HTTPRequestMethodKey.String(method)}
	if route != "" {
		name = fmt.Sprintf("%s %s", method, route)
		attrs = append(attrs, semconv.HTTPRoute(route))
	}
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// StartHTTPClientSpan starts a span for an outbound HTTP call.
func (t *TracingHelper) StartHTTPClientSpan(ctx context.Context, method, url string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("%s %s", method, url),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	)
}

// StartDatabaseSpan starts a span for a database operation with standard attributes.
func (t *TracingHelper) StartDatabaseSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemSqlite,
			semconv.DBOperationName(operation),
			semconv.DBCollectionName(table),
		),
	)
}

// RecordError records an error on the span and sets the span status.
func RecordError(span trace.Span, err error, description string) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, description)
	span.SetAttributes(attribute.String("error.type", fmt.Sprintf("%T", err)))
}

// AddSpanEvent adds an event to the span with optional attributes.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceIDFromContext extracts the trace ID from the current span in the context.
// Returns an empty string if no trace is active.
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// SpanIDFromContext extracts the span ID from the current span in the context.
// Returns an empty string if no span is active.
func SpanIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// RecordHTTPStatus records the response status on a server span.
// Only 5xx responses mark a server span as failed.
func RecordHTTPStatus(span trace.Span, statusCode int) {
	span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
	if statusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
}

// RecordPayloadSizes records request and response payload sizes on the span.
func RecordPayloadSizes(span trace.Span, requestBytes, responseBytes int64) {
	if requestBytes > 0 {
		span.SetAttributes(attribute.Int64("http.request.body.size", requestBytes))
	}
	if responseBytes > 0 {
		span.SetAttributes(attribute.Int64("http.response.body.size", responseBytes))
	}
}
