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

// Package security provides the HTTP security middleware for the drinks API:
// CORS for the browser frontend, response security headers, request
// validation, IP filtering, and per-client rate limiting.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "github.com/plindsay/coffeeshop/pkg/errors"
)

// SecurityConfig holds configuration for security middleware.
type SecurityConfig struct { // nolint: revive
	// Rate limiting configuration
	RateLimit *RateLimitConfig `yaml:"rate_limit"`

	// CORS configuration
	CORS *CORSConfig `yaml:"cors"`

	// Security headers configuration
	SecurityHeaders *SecurityHeadersConfig `yaml:"security_headers"`

	// Request validation configuration
	RequestValidation *RequestValidationConfig `yaml:"request_validation"`

	// IP allowlist/blocklist configuration
	IPFiltering *IPFilteringConfig `yaml:"ip_filtering"`

	// Proxies whose X-Forwarded-For header is trusted when resolving the client address
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RateLimitConfig configures rate limiting behavior.
type RateLimitConfig struct {
	// Enable rate limiting
	Enabled bool `yaml:"enabled"`

	// Requests per second per client address
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst capacity
	BurstSize int `yaml:"burst_size"`

	// Custom rate limits by path prefix
	PathLimits map[string]PathRateLimit `yaml:"path_limits"`

	// Rate limit storage backend
	Storage RateLimitStorage `yaml:"-"`
}

// PathRateLimit defines rate limiting for specific paths.
type PathRateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// CORSConfig configures CORS behavior.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	AllowedMethods   []string      `yaml:"allowed_methods"`
	AllowedHeaders   []string      `yaml:"allowed_headers"`
	ExposedHeaders   []string      `yaml:"exposed_headers"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// SecurityHeadersConfig configures security headers.
type SecurityHeadersConfig struct { // nolint: revive
	Enabled                 bool   `yaml:"enabled"`
	ContentSecurityPolicy   string `yaml:"content_security_policy"`
	XFrameOptions           string `yaml:"x_frame_options"`
	XContentTypeOptions     string `yaml:"x_content_type_options"`
	StrictTransportSecurity string `yaml:"strict_transport_security"`
	ReferrerPolicy          string `yaml:"referrer_policy"`
	PermissionsPolicy       string `yaml:"permissions_policy"`
}

// RequestValidationConfig configures request validation.
type RequestValidationConfig struct {
	// Enable request validation
	Enabled bool `yaml:"enabled"`

	// Maximum request body size in bytes
	MaxBodySize int64 `yaml:"max_body_size"`

	// Maximum URL length
	MaxURLLength int `yaml:"max_url_length"`

	// Maximum number of headers
	MaxHeaders int `yaml:"max_headers"`

	// Maximum header value length
	MaxHeaderValueLength int `yaml:"max_header_value_length"`

	// Blocked user agents (substring match)
	BlockedUserAgents []string `yaml:"blocked_user_agents"`
}

// IPFilteringConfig configures IP filtering.
type IPFilteringConfig struct {
	Enabled   bool     `yaml:"enabled"`
	AllowList []string `yaml:"allow_list"`
	BlockList []string `yaml:"block_list"`
}

// RateLimitStorage interface for rate limit storage backends.
type RateLimitStorage interface {
	GetLimiter(key string) *rate.Limiter
	SetLimiter(key string, limiter *rate.Limiter)
	CleanupExpired(maxIdle time.Duration)
}

// MemoryRateLimitStorage implements in-memory rate limit storage.
type MemoryRateLimitStorage struct {
	limiters map[string]*rateLimiterEntry
	mu       sync.Mutex
	now      func() time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewMemoryRateLimitStorage creates a new in-memory rate limit storage.
// Idle limiters are only evicted while StartCleanup is running.
func NewMemoryRateLimitStorage() *MemoryRateLimitStorage {
	return &MemoryRateLimitStorage{
		limiters: make(map[string]*rateLimiterEntry),
		now:      time.Now,
	}
}

// GetLimiter retrieves a rate limiter for the given key.
func (m *MemoryRateLimitStorage) GetLimiter(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.limiters[key]
	if !exists {
		return nil
	}
	entry.lastUsed = m.now()
	return entry.limiter
}

// SetLimiter sets a rate limiter for the given key.
func (m *MemoryRateLimitStorage) SetLimiter(key string, limiter *rate.Limiter) {
	m.mu.Lock()
	m.limiters[key] = &rateLimiterEntry{
		limiter:  limiter,
		lastUsed: m.now(),
	}
	m.mu.Unlock()
}

// CleanupExpired removes limiters not used within maxIdle.
func (m *MemoryRateLimitStorage) CleanupExpired(maxIdle time.Duration) {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	for key, entry := range m.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(m.limiters, key)
		}
	}
	m.mu.Unlock()
}

// Len returns the number of tracked limiters.
func (m *MemoryRateLimitStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// StartCleanup evicts idle limiters every interval until ctx is done.
func (m *MemoryRateLimitStorage) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired(maxIdle)
		}
	}
}

// SecurityMiddleware provides the security middleware chain.
type SecurityMiddleware struct { // nolint: revive
	config           *SecurityConfig
	rateLimitStorage RateLimitStorage
	allowedIPs       []*net.IPNet
	blockedIPs       []*net.IPNet
	mu               sync.Mutex
}

// NewSecurityMiddleware creates a new security middleware instance.
func NewSecurityMiddleware(config *SecurityConfig) (*SecurityMiddleware, error) {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	sm := &SecurityMiddleware{
		config: config,
	}

	if config.RateLimit != nil && config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.BurstSize <= 0 {
			return nil, fmt.Errorf("rate limit requires positive requests_per_second and burst_size")
		}
		if config.RateLimit.Storage != nil {
			sm.rateLimitStorage = config.RateLimit.Storage
		} else {
			sm.rateLimitStorage = NewMemoryRateLimitStorage()
		}
	}

	if config.IPFiltering != nil && config.IPFiltering.Enabled {
		var err error
		sm.allowedIPs, err = parseIPList(config.IPFiltering.AllowList)
		if err != nil {
			return nil, fmt.Errorf("failed to parse IP allowlist: %w", err)
		}

		sm.blockedIPs, err = parseIPList(config.IPFiltering.BlockList)
		if err != nil {
			return nil, fmt.Errorf("failed to parse IP blocklist: %w", err)
		}
	}

	return sm, nil
}

// Storage returns the rate limiter storage, or nil when rate limiting is off.
func (sm *SecurityMiddleware) Storage() RateLimitStorage {
	return sm.rateLimitStorage
}

// TrustedProxies returns the proxies the router should trust for client addresses.
func (sm *SecurityMiddleware) TrustedProxies() []string {
	return sm.config.TrustedProxies
}

// parseIPList parses a list of IP addresses and CIDR ranges.
func parseIPList(ipList []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet

	for _, ipStr := range ipList {
		if ipStr == "" {
			continue
		}

		_, network, err := net.ParseCIDR(ipStr)
		if err != nil {
			ip := net.ParseIP(ipStr)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP address or CIDR: %s", ipStr)
			}

			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}

		networks = append(networks, network)
	}

	return networks, nil
}

// Handler returns the gin middleware. Rejections are attached to the context
// as AppErrors and the chain is aborted so the router's error writer renders
// them. CORS preflight requests are answered directly.
func (sm *SecurityMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if sm.config.IPFiltering != nil && sm.config.IPFiltering.Enabled && !sm.isIPAllowed(clientIP) {
			_ = c.Error(apperrors.NewForbiddenError("client address is not allowed"))
			c.Abort()
			return
		}

		// CORS headers must be present on 429 responses too.
		if sm.config.CORS != nil && sm.config.CORS.Enabled {
			if !sm.handleCORS(c.Writer, c.Request) {
				c.Abort()
				return
			}
		}

		if sm.config.RateLimit != nil && sm.config.RateLimit.Enabled {
			if ok, limit := sm.checkRateLimit(c.Request, clientIP); !ok {
				c.Header("Retry-After", "1")
				_ = c.Error(apperrors.NewRateLimitError(limit, "second"))
				c.Abort()
				return
			}
		}

		if sm.config.RequestValidation != nil && sm.config.RequestValidation.Enabled {
			if reason := sm.validateRequest(c.Request); reason != "" {
				_ = c.Error(apperrors.NewValidationError("Bad Request", reason))
				c.Abort()
				return
			}
			if limit := sm.config.RequestValidation.MaxBodySize; limit > 0 && c.Request.Body != nil {
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
			}
		}

		if sm.config.SecurityHeaders != nil && sm.config.SecurityHeaders.Enabled {
			sm.addSecurityHeaders(c.Writer)
		}

		c.Next()
	}
}

// isIPAllowed checks if an IP is allowed based on allowlist and blocklist.
func (sm *SecurityMiddleware) isIPAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	if isIPInList(ip, sm.blockedIPs) {
		return false
	}

	// An empty allowlist admits every address that is not blocked.
	if len(sm.allowedIPs) == 0 {
		return true
	}

	return isIPInList(ip, sm.allowedIPs)
}

func isIPInList(ip net.IP, networks []*net.IPNet) bool {
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// checkRateLimit reports whether the request may proceed and the burst size of
// the limiter that decided. Each path limit gets its own bucket per client.
func (sm *SecurityMiddleware) checkRateLimit(r *http.Request, clientIP string) (bool, int) {
	cfg := sm.config.RateLimit
	key := clientIP
	rps, burst := cfg.RequestsPerSecond, cfg.BurstSize

	longest := ""
	for prefix, limit := range cfg.PathLimits {
		if strings.HasPrefix(r.URL.Path, prefix) && len(prefix) > len(longest) {
			longest = prefix
			rps, burst = limit.RequestsPerSecond, limit.BurstSize
		}
	}
	if longest != "" {
		key = clientIP + "|" + longest
	}

	// Serializes get-or-create so concurrent first requests share one limiter.
	sm.mu.Lock()
	limiter := sm.rateLimitStorage.GetLimiter(key)
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
		sm.rateLimitStorage.SetLimiter(key, limiter)
	}
	sm.mu.Unlock()

	return limiter.Allow(), burst
}

// validateRequest returns a reason when the request breaks a validation rule.
func (sm *SecurityMiddleware) validateRequest(r *http.Request) string {
	config := sm.config.RequestValidation

	if config.MaxBodySize > 0 && r.ContentLength > config.MaxBodySize {
		return "request body too large"
	}

	if config.MaxURLLength > 0 && len(r.URL.String()) > config.MaxURLLength {
		return "request URL too long"
	}

	if config.MaxHeaders > 0 && len(r.Header) > config.MaxHeaders {
		return "too many request headers"
	}

	if config.MaxHeaderValueLength > 0 {
		for _, values := range r.Header {
			for _, value := range values {
				if len(value) > config.MaxHeaderValueLength {
					return "request header value too long"
				}
			}
		}
	}

	if len(config.BlockedUserAgents) > 0 {
		userAgent := strings.ToLower(r.UserAgent())
		for _, blocked := range config.BlockedUserAgents {
			if blocked != "" && strings.Contains(userAgent, strings.ToLower(blocked)) {
				return "user agent is blocked"
			}
		}
	}

	return ""
}

// handleCORS sets CORS headers. It returns false when it has answered a
// preflight request and the chain must stop.
func (sm *SecurityMiddleware) handleCORS(w http.ResponseWriter, r *http.Request) bool {
	config := sm.config.CORS

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if !sm.isOriginAllowed(origin) {
		return true
	}

	if slices.Contains(config.AllowedOrigins, "*") && !config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}

	if config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	if len(config.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		if len(config.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
		}

		if len(config.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
		}

		if config.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(config.MaxAge.Seconds())))
		}

		w.WriteHeader(http.StatusNoContent)
		return false
	}

	return true
}

// isOriginAllowed checks if an origin is allowed.
func (sm *SecurityMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range sm.config.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}

		// "*.example.com" matches any subdomain of example.com
		if domain, ok := strings.CutPrefix(allowed, "*"); ok && strings.HasPrefix(domain, ".") {
			if strings.HasSuffix(origin, domain) {
				return true
			}
		}
	}

	return false
}

// addSecurityHeaders adds security headers to the response.
func (sm *SecurityMiddleware) addSecurityHeaders(w http.ResponseWriter) {
	config := sm.config.SecurityHeaders
	h := w.Header()

	if config.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", config.ContentSecurityPolicy)
	}
	if config.XFrameOptions != "" {
		h.Set("X-Frame-Options", config.XFrameOptions)
	}
	if config.XContentTypeOptions != "" {
		h.Set("X-Content-Type-Options", config.XContentTypeOptions)
	}
	if config.StrictTransportSecurity != "" {
		h.Set("Strict-Transport-Security", config.StrictTransportSecurity)
	}
	if config.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", config.ReferrerPolicy)
	}
	if config.PermissionsPolicy != "" {
		h.Set("Permissions-Policy", config.PermissionsPolicy)
	}
}

// DefaultSecurityConfig returns the configuration used when none is given.
// Any origin may call the API without credentials.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		RateLimit: &RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			BurstSize:         100,
			PathLimits:        make(map[string]PathRateLimit),
		},
		CORS: &CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         12 * time.Hour,
		},
		SecurityHeaders: &SecurityHeadersConfig{
			Enabled:                 true,
			ContentSecurityPolicy:   "default-src 'none'; frame-ancestors 'none'",
			XFrameOptions:           "DENY",
			XContentTypeOptions:     "nosniff",
			StrictTransportSecurity: "max-age=31536000; includeSubDomains",
			ReferrerPolicy:          "no-referrer",
			PermissionsPolicy:       "geolocation=(), microphone=(), camera=()",
		},
		RequestValidation: &RequestValidationConfig{
			Enabled:              true,
			MaxBodySize:          1 << 20,
			MaxURLLength:         2048,
			MaxHeaders:           100,
			MaxHeaderValueLength: 8192,
		},
		IPFiltering: &IPFilteringConfig{
			Enabled: false,
		},
		TrustedProxies: []string{"127.0.0.1", "::1"},
	}
}
