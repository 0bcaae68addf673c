// Package identity extracts caller credentials and request tracing headers
// into the request context.
package identity

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Header names read by Middleware. The client pipeline sets the last two
// on every attempt.
const (
	AuthorizationHeader = "Authorization"
	RequestIDHeader     = "X-Request-ID"
	RetryCountHeader    = "X-Retry-Count"
)

type contextKey int

const (
	tokenKey contextKey = iota
	callIDKey
	retryCountKey
)

// TokenFromContext returns the bearer token of the request, if any.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// CallIDFromContext returns the client's logical call id. It is constant
// across a retry chain.
func CallIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callIDKey).(string); ok {
		return v
	}
	return ""
}

// RetryCountFromContext returns which retry of the logical call this is.
func RetryCountFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(retryCountKey).(int); ok {
		return v
	}
	return 0
}

// BearerToken parses "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get(AuthorizationHeader))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware stores the bearer token and tracing headers in the context.
// When requiredToken is non-empty, requests without that exact token get
// 401.
func Middleware(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if requiredToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid or missing bearer token"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), tokenKey, token)
			ctx = context.WithValue(ctx, callIDKey, r.Header.Get(RequestIDHeader))
			if n, err := strconv.Atoi(r.Header.Get(RetryCountHeader)); err == nil && n > 0 {
				ctx = context.WithValue(ctx, retryCountKey, n)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
