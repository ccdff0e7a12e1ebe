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

package auth

import (
	"github.com/gin-gonic/gin"
)

// ginClaimsKey is the gin.Context key under which verified claims are stored.
const ginClaimsKey = "auth_claims"

// RequiresAuth returns Gin middleware that verifies the request's bearer token
// and checks it grants permission. An empty permission only requires a valid
// token. On success the claims are attached to both the gin.Context and the
// request context. On failure the error is recorded with c.Error and the chain
// is aborted, leaving the response to the error translating middleware.
func RequiresAuth(verifier *Verifier, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"), permission)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(ginClaimsKey, claims)
		c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// GetClaims returns the claims stored by RequiresAuth.
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ginClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
