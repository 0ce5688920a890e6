package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker"

	"github.com/signalsfoundry/huntsync/internal/admin"
	"github.com/signalsfoundry/huntsync/internal/config"
	"github.com/signalsfoundry/huntsync/internal/httpapi"
	"github.com/signalsfoundry/huntsync/internal/hub"
	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/observability"
	"github.com/signalsfoundry/huntsync/internal/persist"
	"github.com/signalsfoundry/huntsync/internal/transport/ws"
	"github.com/signalsfoundry/huntsync/kb"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	envFile := flag.String("env-file", ".env", "Path to a dotenv file (ignored if missing)")
	httpAddr := flag.String("http-addr", "", "Override the HTTP listen address")
	metricsAddr := flag.String("metrics-addr", "", "Override the Prometheus /metrics address")
	adminAddr := flag.String("admin-grpc-addr", "", "Override the admin gRPC address")
	dataPath := flag.String("data-path", "", "Override the persistence file path")
	flag.Parse()

	cfg, err := config.Load(config.Options{File: *configPath, EnvFile: *envFile})
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "admin-grpc-addr":
			cfg.AdminGRPCAddr = *adminAddr
		case "data-path":
			cfg.DataPath = *dataPath
		}
	})

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts every component down in
// reverse order of start-up.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := observability.NewSyncCollector(reg)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	store := kb.NewStore(cfg.DefaultMarker)
	store.Subscribe(func(ev kb.Event) {
		if n, ok := store.Counts()[ev.Kind]; ok {
			collector.SetEntityCount(string(ev.Kind), n)
		}
	})

	var adminSrv *admin.Server
	if cfg.AdminGRPCAddr != "" {
		adminSrv = admin.NewServer(log, collector)
	}

	recovered := make(chan struct{}, 1)
	writer := persist.NewAsyncWriter(openBackend(ctx, cfg, log), persist.WriterOptions{
		QueueSize:      cfg.Persistence.QueueSize,
		EnqueueTimeout: cfg.Persistence.EnqueueTimeout,
		Breaker: persist.BreakerConfig{
			ConsecutiveFailures: cfg.Persistence.Breaker.FailureThreshold,
			OpenTimeout:         cfg.Persistence.Breaker.OpenTimeout,
			HalfOpenRequests:    cfg.Persistence.Breaker.HalfOpenRequests,
		},
		Logger:    log,
		OnFailure: func(op string, _ error) { collector.PersistenceFailed(op) },
		OnStateChange: func(_, to gobreaker.State) {
			collector.SetBreakerOpen(to == gobreaker.StateOpen)
			if adminSrv != nil {
				adminSrv.SetServing(admin.ServicePersistence, to != gobreaker.StateOpen)
			}
			if to == gobreaker.StateClosed {
				select {
				case recovered <- struct{}{}:
				default:
				}
			}
		},
	})

	if err := persist.Load(ctx, writer, store, log); err != nil {
		log.Warn(ctx, "persisted state could not be loaded; starting empty", logging.Err(err))
	}

	h := hub.New(store,
		hub.WithLogger(log),
		hub.WithMetrics(collector),
		hub.WithPersistence(writer),
		hub.WithOutboxSize(cfg.OutboxSize),
	)

	resyncCtx, stopResync := context.WithCancel(context.Background())
	defer stopResync()
	go func() {
		for {
			select {
			case <-resyncCtx.Done():
				return
			case <-recovered:
				log.Info(resyncCtx, "persistence recovered; resynchronising")
				h.Resync(resyncCtx)
			}
		}
	}()

	events := ws.NewServer(h, ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
	})
	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Config{
			Backend:        h,
			Events:         events,
			Metrics:        collector,
			Logger:         log,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "serving HTTP", logging.String("addr", lis.Addr().String()))
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if adminSrv != nil {
		adminLis, err := net.Listen("tcp", cfg.AdminGRPCAddr)
		if err != nil {
			_ = httpSrv.Close()
			return err
		}
		go func() {
			log.Info(ctx, "serving admin gRPC", logging.String("addr", adminLis.Addr().String()))
			if err := adminSrv.Serve(adminLis); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked WebSocket connections.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown incomplete", logging.Err(err))
	}
	if adminSrv != nil {
		adminSrv.Stop()
	}
	stopResync()
	if err := writer.Close(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "persistence writer did not drain", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// openBackend picks the storage behind the async writer. An unreadable data
// file degrades to memory so the server still starts.
func openBackend(ctx context.Context, cfg config.Config, log logging.Logger) persist.Port {
	if cfg.MemoryOnly() {
		log.Info(ctx, "no data path configured; running memory-only")
		return persist.NewMemoryStore()
	}
	fs, err := persist.OpenFileStore(cfg.DataPath)
	if err != nil {
		log.Warn(ctx, "failed to open data file; running memory-only",
			logging.String("path", cfg.DataPath),
			logging.Err(err),
		)
		return persist.NewMemoryStore()
	}
	log.Info(ctx, "persisting to file", logging.String("path", fs.Path()))
	return fs
}

func serveMetrics(addr string, collector *observability.SyncCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
