package middleware

import (
	"net/http"
	"strings"

	"github.com/vibhukrishnas/sams-sub010/internal/auth"
	"github.com/vibhukrishnas/sams-sub010/internal/config"
)

// Auth returns middleware that enforces auth mode (disabled | optional | required)
// and sets validated claims in the request context. Health, readiness, and
// Prometheus endpoints are always exempt.
func Auth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/healthz/live" || path == "/healthz/ready" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			mode := strings.ToLower(strings.TrimSpace(cfg.AuthMode))
			if mode == "" || mode == "disabled" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearer(r)
			if token == "" {
				if mode == "required" {
					unauthorized(w, "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			claims, err := auth.ValidateToken(cfg.JWTSecret, token)
			if err != nil {
				if mode == "required" {
					msg := "Invalid or expired token"
					if err == auth.ErrExpiredToken {
						msg = "Token expired"
					}
					unauthorized(w, msg)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

func extractBearer(r *http.Request) string {
	s := r.Header.Get("Authorization")
	if s == "" {
		return r.URL.Query().Get("token")
	}
	const prefix = "Bearer "
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):])
	}
	return ""
}
