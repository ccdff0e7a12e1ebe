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

package http

import (
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/plindsay/coffeeshop/internal/log"
	"github.com/plindsay/coffeeshop/pkg/auth"
	apperrors "github.com/plindsay/coffeeshop/pkg/errors"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	maxRequestIDLength  = 128
)

// requestID assigns every request an id, echoes it in the response and
// stores it with the logger in the request context. A client supplied id is
// kept when it is short and printable.
func requestID(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		correlationID := c.GetHeader(headerCorrelationID)
		if !validRequestID(correlationID) {
			correlationID = id
		}

		ctx := log.WithRequestID(c.Request.Context(), id)
		ctx = log.WithCorrelationID(ctx, correlationID)
		ctx = log.WithContext(ctx, logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header(headerRequestID, id)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool { return r < 0x21 || r > 0x7e })
}

// requestLogger logs each request once it has been answered.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.FromContext(c.Request.Context())
		req := logger.StartRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		req.Complete(c.Request.Context(), c.Writer.Status(), int64(max(c.Writer.Size(), 0)), "route", route)
	}
}

// recovery turns a panic in a handler into a 500 for the error writer.
func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		log.FromContext(c.Request.Context()).Error(c.Request.Context(), "panic recovered",
			"panic_value", recovered,
			"path", c.Request.URL.Path,
		)
		_ = c.Error(apperrors.NewInternalError("panic recovered", fmt.Errorf("%v", recovered)))
		c.Abort()
	})
}

// tokenAccepted runs after RequiresAuth succeeds. It tags the request context
// with the token subject and logs the grant.
func (rt *Router) tokenAccepted(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := auth.SubjectFromContext(c.Request.Context())
		ctx := log.WithUserID(c.Request.Context(), subject)
		c.Request = c.Request.WithContext(ctx)

		rt.authLog.TokenAccepted(ctx, subject, permission)
		c.Next()
	}
}
