package middleware

import (
	"context"
	"net/http"
	"strings"
)

type providerKeyCtx struct{}

// ProviderKey reads a caller-supplied LLM provider key and stores it on the
// request context. The key is accepted from:
//   - X-API-Key: <key>
//   - Authorization: Bearer <key>
//
// A request without a key falls back to the server's configured provider
// credentials downstream. The key itself is never logged.
func ProviderKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := extractAPIKey(r); key != "" {
			r = r.WithContext(WithProviderKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}

// WithProviderKey returns a context carrying key.
func WithProviderKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, providerKeyCtx{}, key)
}

// GetProviderKey returns the caller's provider key, or "" when none was sent.
func GetProviderKey(ctx context.Context) string {
	if v, ok := ctx.Value(providerKeyCtx{}).(string); ok {
		return v
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// MaskKey renders a key for logs: the last four characters only.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
