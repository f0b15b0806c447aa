// Package middleware provides HTTP middleware for the Vectr API.
package middleware

import (
	"net/http"
	"strings"
)

// AllowedOrigins returns the origins the dispatcher console may call from. In
// development, or when no frontend URL is set, any origin is allowed.
func AllowedOrigins(frontendURL string, isDev bool) []string {
	frontendURL = strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if isDev || frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicitly listed origins, never for "*".
				for _, o := range allowedOrigins {
					if o != "*" && o == origin {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
						break
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
