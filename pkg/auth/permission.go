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
	"net/http"
	"slices"
)

// CheckPermission reports whether claims grant permission. Matching is exact:
// no wildcards, prefixes or case folding.
func CheckPermission(permission string, claims *Claims) error {
	if !claims.HasPermissionsClaim() {
		return newAuthError(CodeInvalidClaims, "Permissions not included in JWT.", http.StatusBadRequest, nil)
	}
	if !slices.Contains(claims.Permissions, permission) {
		return newAuthError(CodeUnauthorized, "Permission not found.", http.StatusForbidden, nil)
	}
	return nil
}
