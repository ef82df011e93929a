package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
)

// ClientIDKey is the context key for the calling client's id.
const ClientIDKey contextKey = "client_id"

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys accepted in X-API-Key or "Authorization: Bearer". An empty
	// list disables the check.
	APIKeys []string
	// PublicPaths bypass the check.
	PublicPaths []string
}

// NewAuthMiddleware checks the API key of every request outside the
// public paths and records X-Client-ID in the context, so sync receipts
// and rate limits can be keyed by register.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if clientID := r.Header.Get("X-Client-ID"); clientID != "" {
				ctx = context.WithValue(ctx, ClientIDKey, clientID)
			}
			r = r.WithContext(ctx)

			if len(cfg.APIKeys) == 0 || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				response.Error(w, apierror.Unauthorized("Authentication required. Use the X-API-Key header."))
				return
			}

			if !isValidKey(apiKey, cfg.APIKeys) {
				response.Error(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// GetClientID returns the X-Client-ID of the request, if any.
func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(ClientIDKey).(string); ok {
		return id
	}
	return ""
}
