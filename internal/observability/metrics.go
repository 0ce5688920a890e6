package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SyncCollector bundles Prometheus metrics for the sync engine and provides
// helpers to wire them into the hub, HTTP handlers and gRPC servers.
type SyncCollector struct {
	gatherer prometheus.Gatherer

	Connections         prometheus.Gauge
	Intents             *prometheus.CounterVec
	Broadcasts          *prometheus.CounterVec
	OutboxOverflows     prometheus.Counter
	PersistenceFailures *prometheus.CounterVec
	BreakerOpen         prometheus.Gauge
	GraphBuild          prometheus.Histogram
	Entities            *prometheus.GaugeVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// NewSyncCollector registers the metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice against the same
// registry reuses the existing collectors.
func NewSyncCollector(reg prometheus.Registerer) (*SyncCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SyncCollector{gatherer: gatherer}
	var err error

	if c.Connections, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huntsync_connections",
		Help: "Current number of open event channel connections.",
	}), "huntsync_connections"); err != nil {
		return nil, err
	}
	if c.Intents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huntsync_intents_total",
		Help: "Inbound intents, labeled by event and outcome (applied, noop, dropped).",
	}, []string{"event", "outcome"}), "huntsync_intents_total"); err != nil {
		return nil, err
	}
	if c.Broadcasts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huntsync_broadcasts_total",
		Help: "Events fanned out to connections, labeled by event.",
	}, []string{"event"}), "huntsync_broadcasts_total"); err != nil {
		return nil, err
	}
	if c.OutboxOverflows, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "huntsync_outbox_overflows_total",
		Help: "Connections dropped because their outbound queue was full.",
	}), "huntsync_outbox_overflows_total"); err != nil {
		return nil, err
	}
	if c.PersistenceFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huntsync_persistence_failures_total",
		Help: "Persistence operations that failed or were dropped, labeled by op.",
	}, []string{"op"}), "huntsync_persistence_failures_total"); err != nil {
		return nil, err
	}
	if c.BreakerOpen, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "huntsync_persistence_breaker_open",
		Help: "1 while the persistence circuit breaker is open and the service runs memory-only.",
	}), "huntsync_persistence_breaker_open"); err != nil {
		return nil, err
	}
	if c.GraphBuild, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "huntsync_graph_build_seconds",
		Help:    "Time spent recomputing the area graph.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}), "huntsync_graph_build_seconds"); err != nil {
		return nil, err
	}
	if c.Entities, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "huntsync_entities",
		Help: "Current number of entities in the store, labeled by kind.",
	}, []string{"kind"}), "huntsync_entities"); err != nil {
		return nil, err
	}
	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huntsync_http_requests_total",
		Help: "HTTP requests, labeled by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "huntsync_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huntsync_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "huntsync_http_request_duration_seconds"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "huntsync_admin_requests_total",
		Help: "Admin gRPC requests, labeled by service, method and gRPC status code.",
	}, []string{"service", "method", "code"}), "huntsync_admin_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "huntsync_admin_request_duration_seconds",
		Help:    "Admin gRPC latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "huntsync_admin_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// SetConnections records the number of open connections.
func (c *SyncCollector) SetConnections(n int) {
	if c == nil {
		return
	}
	c.Connections.Set(float64(n))
}

// IntentHandled counts one inbound intent.
func (c *SyncCollector) IntentHandled(event, outcome string) {
	if c == nil {
		return
	}
	c.Intents.WithLabelValues(event, outcome).Inc()
}

// Broadcast counts one fan-out.
func (c *SyncCollector) Broadcast(event string) {
	if c == nil {
		return
	}
	c.Broadcasts.WithLabelValues(event).Inc()
}

// OutboxOverflow counts a connection dropped for being too slow.
func (c *SyncCollector) OutboxOverflow() {
	if c == nil {
		return
	}
	c.OutboxOverflows.Inc()
}

// PersistenceFailed counts a failed or dropped persistence operation.
func (c *SyncCollector) PersistenceFailed(op string) {
	if c == nil {
		return
	}
	c.PersistenceFailures.WithLabelValues(op).Inc()
}

// SetBreakerOpen flags whether persistence is currently bypassed.
func (c *SyncCollector) SetBreakerOpen(open bool) {
	if c == nil {
		return
	}
	if open {
		c.BreakerOpen.Set(1)
		return
	}
	c.BreakerOpen.Set(0)
}

// GraphBuilt records one area graph recomputation.
func (c *SyncCollector) GraphBuilt(d time.Duration) {
	if c == nil {
		return
	}
	c.GraphBuild.Observe(d.Seconds())
}

// SetEntityCount records the size of one entity map.
func (c *SyncCollector) SetEntityCount(kind string, n int) {
	if c == nil {
		return
	}
	c.Entities.WithLabelValues(kind).Set(float64(n))
}

// HTTPMiddleware records request counts and durations labeled by the chi
// route pattern, so ids in paths do not explode cardinality.
func (c *SyncCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SyncCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SyncCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds collector to reg, returning the already-registered
// collector of the same type when one exists under that name.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
