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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/plindsay/coffeeshop/pkg/auth"
	apperrors "github.com/plindsay/coffeeshop/pkg/errors"
)

var (
	errNotFound         = apperrors.New(apperrors.NotFoundError, http.StatusNotFound, "resource not found")
	errMethodNotAllowed = apperrors.New(apperrors.MethodNotAllowedError, http.StatusMethodNotAllowed, "method not allowed")
)

// errorResponse is the body of every failed request except token rejections.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// handleErrors renders the last error recorded on the context once the rest
// of the chain has run, unless a response was already written.
func (rt *Router) handleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		rt.writeError(c, c.Errors.Last().Err)
	}
}

// writeError is the single place errors become responses.
//
//   - *auth.AuthError answers with its own status and {code, description}.
//   - *auth.KeyFetchError means the identity provider could not be reached (503).
//   - *errors.AppError answers with its status and the uniform error body.
//   - anything else is 422 on routes that change data and 500 otherwise.
func (rt *Router) writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	route := c.FullPath()

	if authErr, ok := auth.AsAuthError(err); ok {
		rt.authLog.TokenRejected(ctx, string(authErr.Code), authErr.Description, c.ClientIP(), c.Request.UserAgent())
		if rt.metrics != nil {
			rt.metrics.RecordAuthRejection(ctx, string(authErr.Code))
		}
		c.JSON(authErr.StatusCode, authErr)
		return
	}

	var fetchErr *auth.KeyFetchError
	if errors.As(err, &fetchErr) {
		rt.authLog.SigningKeysUnavailable(ctx, fetchErr.URL, err)
		err = apperrors.NewExternalError("identity provider", "fetch signing keys", err)
	}

	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		if isMutating(c.Request.Method) {
			appErr = apperrors.NewUnprocessableError(operationName(c), err)
		} else {
			appErr = apperrors.NewInternalError("unexpected error", err)
		}
	}

	switch appErr.Code {
	case apperrors.RateLimitError:
		rt.authLog.SecurityEvent(ctx, "rate_limited", "client exceeded the request rate limit",
			"ip_address", c.ClientIP(), "path", c.Request.URL.Path)
	case apperrors.ForbiddenError:
		rt.authLog.SecurityEvent(ctx, "ip_blocked", "client address is not allowed",
			"ip_address", c.ClientIP(), "path", c.Request.URL.Path)
	}

	apperrors.LogErrorWithMessage(ctx, rt.logger, apperrors.WrapWithContext(ctx, appErr, "http", operationName(c)), "request failed")
	if rt.metrics != nil {
		rt.metrics.RecordError(ctx, string(appErr.Code), route)
	}

	c.JSON(appErr.HTTPStatus, errorResponse{
		Success: false,
		Error:   appErr.HTTPStatus,
		Message: clientMessage(appErr),
	})
}

// clientMessage returns the message shown to clients for appErr.
func clientMessage(appErr *apperrors.AppError) string {
	switch appErr.HTTPStatus {
	case http.StatusBadRequest:
		return "Bad Request"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	default:
		return appErr.StatusText()
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func operationName(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return strings.ToLower(c.Request.Method) + " " + route
}
