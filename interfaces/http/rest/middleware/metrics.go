package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"canvas-backend/pkg/observability"
)

var errServerFailure = errors.New("server error")

// Metrics records request counts and latencies per route pattern. When a
// CloudWatch emitter is configured the same signal is pushed there too, for
// Lambda deployments where nothing scrapes /metrics.
func Metrics(collector *observability.Collector, emitter *observability.CloudWatchEmitter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The pattern is only filled in after routing completes.
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			duration := time.Since(start)

			collector.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			collector.HTTPDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

			if emitter != nil {
				var opErr error
				if ww.Status() >= http.StatusInternalServerError {
					opErr = errServerFailure
				}
				emitter.RecordOperation(r.Context(), r.Method+" "+route, duration, opErr)
			}
		})
	}
}
