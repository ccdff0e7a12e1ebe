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

package auth_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plindsay/coffeeshop/pkg/auth"
)

func TestCheckPermission(t *testing.T) {
	tests := []struct {
		name       string
		claims     *auth.Claims
		permission string
		code       auth.ErrorCode
		status     int
	}{
		{
			name:       "granted",
			claims:     &auth.Claims{Permissions: []string{"get:drinks", "post:drinks"}},
			permission: "post:drinks",
		},
		{
			name:       "claim absent",
			claims:     &auth.Claims{},
			permission: "get:drinks",
			code:       auth.CodeInvalidClaims,
			status:     http.StatusBadRequest,
		},
		{
			name:       "nil claims",
			claims:     nil,
			permission: "get:drinks",
			code:       auth.CodeInvalidClaims,
			status:     http.StatusBadRequest,
		},
		{
			name:       "empty list",
			claims:     &auth.Claims{Permissions: []string{}},
			permission: "get:drinks",
			code:       auth.CodeUnauthorized,
			status:     http.StatusForbidden,
		},
		{
			name:       "no prefix match",
			claims:     &auth.Claims{Permissions: []string{"get:drinks-detail"}},
			permission: "get:drinks",
			code:       auth.CodeUnauthorized,
			status:     http.StatusForbidden,
		},
		{
			name:       "no wildcard",
			claims:     &auth.Claims{Permissions: []string{"*"}},
			permission: "delete:drinks",
			code:       auth.CodeUnauthorized,
			status:     http.StatusForbidden,
		},
		{
			name:       "case sensitive",
			claims:     &auth.Claims{Permissions: []string{"GET:DRINKS"}},
			permission: "get:drinks",
			code:       auth.CodeUnauthorized,
			status:     http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.CheckPermission(tt.permission, tt.claims)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, auth.IsCode(err, tt.code), "got %v", err)
			authErr, ok := auth.AsAuthError(err)
			if assert.True(t, ok) {
				assert.Equal(t, tt.status, authErr.StatusCode)
			}
		})
	}
}
