package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lendledger/observability"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "rpc.request_id"
	contextKeyScopes    contextKey = "rpc.scopes"
)

// ScopeAdmin gates parameter changes, fee claims and pause control.
const ScopeAdmin = "admin"

// AuthConfig controls bearer-token authentication on the HTTP surface. With
// Enabled false every request passes, which is only appropriate for local
// development nodes.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

// Authenticator validates HMAC-signed JWTs and enforces scopes per route.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Middleware returns a handler wrapper requiring a valid token carrying every
// listed scope.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			scopes, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token rejected", "error", err.Error(), "path", r.URL.Path)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) parseToken(tokenString string) ([]string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(a.cfg.ClockSkew),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, err
	}
	if a.cfg.Issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != a.cfg.Issuer {
			return nil, fmt.Errorf("issuer mismatch")
		}
	}
	return extractScopes(claims), nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		scopes := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}

func hasScopes(have, want []string) bool {
	for _, scope := range want {
		found := false
		for _, h := range have {
			if h == scope {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RateLimiter applies a per-client token bucket across the whole surface.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewRateLimiter allows requestsPerMinute sustained per client address.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	perSec := rate.Limit(float64(requestsPerMinute) / 60.0)
	if perSec <= 0 {
		perSec = 1
	}
	burst := requestsPerMinute / 10
	if burst < 5 {
		burst = 5
	}
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		perSec:   perSec,
		burst:    burst,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiterFor(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiterFor(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(l.perSec, l.burst)
		l.visitors[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Observability tags every request with an id, logs its outcome and records
// latency metrics.
func Observability(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.RPC()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)
			ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r.WithContext(ctx))
			elapsed := time.Since(start)

			metrics.Observe(r.URL.Path, recorder.status, elapsed)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"requestId", requestID,
				"elapsedMs", elapsed.Milliseconds(),
			)
		})
	}
}

// RequestID returns the request id injected by the observability middleware.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
