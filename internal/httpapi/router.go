// Package httpapi serves the bootstrap and debugging HTTP surface and mounts
// the event channel endpoint. Every route is reachable both at the root and
// under /api.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/signalsfoundry/huntsync/internal/hub"
	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/observability"
	"github.com/signalsfoundry/huntsync/model"
)

// Backend is the state the HTTP surface reads and mutates.
type Backend interface {
	Draggable() model.ReferenceMarker
	Visited() map[string]model.VisitedFlag
	SearchEntities() map[string]model.SearchEntity
	Graph() model.AreaGraph
	UI() model.UIState
	SetVisited(ctx context.Context, id string, visited bool) hub.Outcome
	RemoveSearchEntity(ctx context.Context, id string) bool
}

// Config wires the router.
type Config struct {
	Backend Backend
	// Events serves the event channel at /ws. Nil leaves the route out.
	Events         http.Handler
	Metrics        *observability.SyncCollector
	Logger         logging.Logger
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &handlers{backend: cfg.Backend, log: log.With(logging.String("component", "http"))}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestContext(h.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	mount := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cfg.Metrics.HTTPMiddleware)
			r.Use(observability.TraceHTTP)

			r.Get("/healthcheck", h.health)
			r.Get("/draggablemarker/location", h.draggable)
			r.Get("/visited", h.listVisited)
			r.Post("/visited", h.setVisited)
			r.Get("/vos", h.listVos)
			r.Get("/vos/graph", h.graph)
			r.Delete("/vos/{id}", h.removeVos)
			r.Get("/ui", h.ui)
		})
		if cfg.Events != nil {
			r.Method(http.MethodGet, "/ws", cfg.Events)
		}
	}
	r.Group(mount)
	r.Route("/api", mount)
	return r
}

// requestContext propagates chi's request id into the logging context and
// logs each request once it completes.
func requestContext(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := chimiddleware.GetReqID(ctx); id != "" {
				ctx = logging.ContextWithRequestID(ctx, id)
			} else {
				ctx, _ = logging.EnsureRequestID(ctx)
			}
			ctx = logging.ContextWithLogger(ctx, log)

			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Debug(ctx, "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", ww.Status()),
				logging.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}
