package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvas-backend/pkg/ratelimit"
)

// RateLimit enforces a per-canvas request budget. Routes without a canvas
// in the path fall back to the client address. A failing limiter lets the
// request through rather than rejecting traffic it cannot account for.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := chi.URLParam(r, "canvasID")
			if key == "" {
				key = clientAddr(r)
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("Rate limiter unavailable",
					zap.String("key", key),
					zap.Error(err))
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":   true,
					"type":    "RATE_LIMITED",
					"message": "request budget exhausted, retry later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr strips the port; RealIP runs earlier so RemoteAddr already
// reflects forwarding headers.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
