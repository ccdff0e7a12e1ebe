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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Middleware starts a server span for each request and records the HTTP
// metrics when the handler chain returns. Incoming trace context is extracted
// with the global propagator. metrics may be nil.
func Middleware(tracing *TracingHelper, metrics *MetricsHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		method := c.Request.Method

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.StartHTTPServerSpan(ctx, method, route)
		defer span.End()

		span.SetAttributes(
			semconv.URLPath(c.Request.URL.Path),
			semconv.ClientAddress(c.ClientIP()),
			semconv.UserAgentOriginal(c.Request.UserAgent()),
		)

		if metrics != nil {
			metrics.AddActiveRequests(ctx, 1)
			defer metrics.AddActiveRequests(ctx, -1)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		responseBytes := int64(max(c.Writer.Size(), 0))
		requestBytes := max(c.Request.ContentLength, 0)

		RecordHTTPStatus(span, status)
		RecordPayloadSizes(span, requestBytes, responseBytes)
		if err := c.Errors.Last(); err != nil {
			RecordError(span, err.Err, "request failed")
		}

		if metrics != nil {
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordHTTPRequest(ctx, time.Since(start), method, route, status, requestBytes, responseBytes)
		}
	}
}
