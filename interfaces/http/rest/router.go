package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"canvas-backend/interfaces/http/rest/handlers"
	"canvas-backend/interfaces/http/rest/middleware"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
	"canvas-backend/pkg/ratelimit"
)

// RouterConfig carries the knobs the router needs from configuration. A nil
// Limiter leaves the canvas routes unthrottled.
type RouterConfig struct {
	EnableCORS    bool
	EnableMetrics bool
	Limiter       ratelimit.Limiter
}

// Router wires the REST surface over the sync engine
type Router struct {
	handler   *handlers.CanvasHandler
	errors    *apperrors.ErrorHandler
	collector *observability.Collector
	emitter   *observability.CloudWatchEmitter
	logger    *zap.Logger
	cfg       RouterConfig
}

// NewRouter creates a new router instance
func NewRouter(
	handler *handlers.CanvasHandler,
	errorHandler *apperrors.ErrorHandler,
	collector *observability.Collector,
	emitter *observability.CloudWatchEmitter,
	logger *zap.Logger,
	cfg RouterConfig,
) *Router {
	return &Router{
		handler:   handler,
		errors:    errorHandler,
		collector: collector,
		emitter:   emitter,
		logger:    logger,
		cfg:       cfg,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger(rt.logger))
	if rt.cfg.EnableMetrics {
		router.Use(middleware.Metrics(rt.collector, rt.emitter))
	}
	router.Use(rt.errors.Middleware)

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/healthz", rt.healthCheck)
	router.Get("/readyz", rt.readinessCheck)
	if rt.cfg.EnableMetrics {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(rt.collector.GetRegistry(), promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1/canvases", func(r chi.Router) {
		r.Post("/", rt.handler.CreateCanvas)

		r.Route("/{canvasID}", func(r chi.Router) {
			if rt.cfg.Limiter != nil {
				r.Use(middleware.RateLimit(rt.cfg.Limiter, rt.logger))
			}

			r.Get("/", rt.handler.GetCanvas)
			r.Get("/state", rt.handler.GetState)
			r.Put("/state", rt.handler.SaveState)
			r.Post("/state:force", rt.handler.ForceState)
			r.Post("/sync", rt.handler.SyncState)
			r.Post("/nodes", rt.handler.AddNodes)
			r.Get("/versions", rt.handler.ListVersions)
			r.Post("/versions", rt.handler.CreateVersion)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
