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
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable reason an authorization attempt was rejected.
type ErrorCode string

const (
	// CodeAuthorizationHeaderMissing means the request carried no Authorization header.
	CodeAuthorizationHeaderMissing ErrorCode = "authorization_header_missing"
	// CodeInvalidHeader covers a malformed scheme, a missing key id, an unknown key
	// or a token that cannot be parsed at all.
	CodeInvalidHeader ErrorCode = "invalid_header"
	// CodeInvalidClaims covers signature, audience and issuer failures as well as
	// a token without a permissions claim.
	CodeInvalidClaims ErrorCode = "invalid_claims"
	// CodeTokenExpired means the exp claim is in the past.
	CodeTokenExpired ErrorCode = "token_expired"
	// CodeUnauthorized means the token is valid but lacks the required permission.
	CodeUnauthorized ErrorCode = "unauthorized"
)

// AuthError is returned by the verifier and the permission checker. It carries
// the HTTP status the caller should surface alongside a {code, description} body.
type AuthError struct {
	Code        ErrorCode `json:"code"`
	Description string    `json:"description"`
	StatusCode  int       `json:"-"`
	Cause       error     `json:"-"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the underlying cause of the error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

func newAuthError(code ErrorCode, description string, status int, cause error) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		StatusCode:  status,
		Cause:       cause,
	}
}

func errHeaderMissing() *AuthError {
	return newAuthError(CodeAuthorizationHeaderMissing, "Authorization header is expected.", http.StatusUnauthorized, nil)
}

func errMalformedHeader(description string) *AuthError {
	return newAuthError(CodeInvalidHeader, description, http.StatusUnauthorized, nil)
}

// AsAuthError reports whether err is, or wraps, an *AuthError.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// IsCode checks if err is an AuthError with the given code.
func IsCode(err error, code ErrorCode) bool {
	authErr, ok := AsAuthError(err)
	return ok && authErr.Code == code
}

// KeyFetchError is returned when the signing keys could not be retrieved from
// the issuer: the endpoint was unreachable, answered with a non-2xx status or
// served a document that is not a JSON Web Key Set.
type KeyFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *KeyFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch signing keys from %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch signing keys from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause of the error.
func (e *KeyFetchError) Unwrap() error {
	return e.Err
}
