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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims this service relies on. Permissions has
// no omitempty so that a token without the claim decodes to a nil slice while
// an explicit empty list decodes to an empty, non-nil one.
type Claims struct {
	Permissions     []string `json:"permissions"`
	Scope           string   `json:"scope,omitempty"`
	AuthorizedParty string   `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// HasPermissionsClaim reports whether the token carried a permissions claim.
func (c *Claims) HasPermissionsClaim() bool {
	return c != nil && c.Permissions != nil
}

// Config holds the expectations a token must meet.
type Config struct {
	Issuer     string
	Audience   string
	Algorithms []string
	Leeway     time.Duration
}

// Verifier turns an Authorization header into verified claims.
type Verifier struct {
	keys   KeyProvider
	config Config
	parser *jwt.Parser
	logger *slog.Logger
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used to check exp and nbf.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier that checks tokens against the keys served by provider.
func NewVerifier(provider KeyProvider, cfg Config, logger *slog.Logger, opts ...VerifierOption) (*Verifier, error) {
	if provider == nil {
		return nil, errors.New("key provider is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &Verifier{
		keys:   provider,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v, nil
}

// ExtractTokenFromHeader returns the token of a "Bearer <token>" header.
// The scheme is matched case-sensitively and the header must consist of
// exactly two space-separated parts.
func ExtractTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", errHeaderMissing()
	}
	parts := strings.Split(header, " ")
	if parts[0] != "Bearer" {
		return "", errMalformedHeader(`Authorization header must start with "Bearer".`)
	}
	switch {
	case len(parts) == 1:
		return "", errMalformedHeader("Token not found.")
	case len(parts) > 2:
		return "", errMalformedHeader("Authorization header must be bearer token.")
	case parts[1] == "":
		return "", errMalformedHeader("Token not found.")
	}
	return parts[1], nil
}

// Verify checks the Authorization header, the token it carries and, when
// permission is non-empty, that the token grants it. Rejections are
// *AuthError values; a failure to obtain signing keys is a *KeyFetchError.
func (v *Verifier) Verify(ctx context.Context, header, permission string) (*Claims, error) {
	token, err := ExtractTokenFromHeader(header)
	if err != nil {
		return nil, err
	}

	claims, err := v.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if permission == "" {
		return claims, nil
	}
	if err := CheckPermission(permission, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyToken validates a compact JWS and returns its claims.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	kid, err := tokenKeyID(token)
	if err != nil {
		return nil, newAuthError(CodeInvalidHeader, "Authorization malformed.", http.StatusUnauthorized, err)
	}

	key, err := lookupKey(ctx, v.keys, kid)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errMalformedHeader("Unable to find the appropriate key.")
	}

	claims := &Claims{}
	_, err = v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		authErr := classifyParseError(err)
		v.logger.DebugContext(ctx, "token rejected",
			slog.String("kid", kid),
			slog.String("code", string(authErr.Code)),
			slog.Any("error", err))
		return nil, authErr
	}
	return claims, nil
}

// tokenKeyID decodes only the JOSE header of a compact JWS and returns its kid.
// The payload is left to the verifying parser.
func tokenKeyID(token string) (string, error) {
	segment, _, ok := strings.Cut(token, ".")
	if !ok {
		return "", errors.New("token is not a compact JWS")
	}
	raw, err := jwt.NewParser().DecodeSegment(segment)
	if err != nil {
		return "", fmt.Errorf("decode token header: %w", err)
	}

	var header struct {
		KeyID string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("unmarshal token header: %w", err)
	}
	if header.KeyID == "" {
		return "", errors.New("token header has no kid")
	}
	return header.KeyID, nil
}

func classifyParseError(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newAuthError(CodeTokenExpired, "Token expired.", http.StatusUnauthorized, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newAuthError(CodeInvalidClaims, "Incorrect claims. Please check the audience and issuer.", http.StatusUnauthorized, err)
	default:
		return newAuthError(CodeInvalidHeader, "Unable to parse authentication token.", http.StatusBadRequest, err)
	}
}
