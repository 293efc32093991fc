package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/platform/telemetry/metrics"
	"github.com/kilnline/ledger/internal/platform/timeouts"
	"github.com/kilnline/ledger/internal/services/ledger/api/grpc/interceptors"
	ledgergrpc "github.com/kilnline/ledger/internal/services/ledger/api/grpc/ledger"
	grpcmeta "github.com/kilnline/ledger/internal/services/ledger/api/grpc/metadata"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/coordinator"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/kpi"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
	"github.com/kilnline/ledger/internal/services/ledger/storage/sqlite"
)

// Server hosts the ledger gRPC API and its metrics endpoint.
type Server struct {
	listener        net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	metricsListener net.Listener
	metricsServer   *http.Server
	store           *sqlite.Store
	logger          *zap.Logger
}

// New opens storage and creates a server listening on cfg's address.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	keyring, err := integrity.KeyringFromConfig(cfg.Integrity)
	if err != nil {
		return nil, fmt.Errorf("load event keyring: %w", err)
	}
	ids, err := id.NewEventIDs(cfg.SnowflakeNode)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg.DBPath, sqlite.WithKeyring(keyring), sqlite.WithEventIDs(ids))
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics, err := metrics.New(registry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	commands, events, err := aggregate.Registries()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var snapshots engine.SnapshotStore = checkpoint.NewNoop()
	if cfg.SnapshotCache {
		snapshots = checkpoint.NewMemory()
	}
	handler := &engine.Handler{
		Commands:    commands,
		Events:      events,
		Store:       store,
		Snapshots:   snapshots,
		Locks:       engine.NewKeyedMutex(),
		IDs:         ids,
		Metrics:     ledgerMetrics,
		Logger:      logger.Named("engine"),
		MaxAttempts: cfg.AppendMaxAttempts,
	}
	service := ledgergrpc.NewService(ledgergrpc.Deps{
		Engine: handler,
		Coordinator: &coordinator.Coordinator{
			Engine:  handler,
			Events:  store,
			Links:   store,
			KPI:     store,
			Metrics: ledgerMetrics,
			Logger:  logger.Named("coordinator"),
		},
		Events: store,
		Links:  store,
		KPI:    &kpi.Service{Events: store, Links: store, KPI: store, States: handler},
	})

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcmeta.UnaryServerInterceptor(grpcmeta.ServicePrefix(ledgergrpc.ServiceName), nil),
			interceptors.AccessLogInterceptor(logger.Named("grpc")),
		),
	)
	ledgergrpc.RegisterLedgerServiceServer(grpcServer, service)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ledgergrpc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	server := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		logger:     logger,
	}
	if cfg.MetricsAddr != "" {
		metricsListener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		server.metricsListener = metricsListener
		server.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader}
	}
	return server, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s == nil || s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

// Run creates and serves a ledger server until the context ends.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	server, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the listeners and blocks until they stop or the context
// ends, then drains in-flight calls and closes storage.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close store", zap.Error(err))
		}
	}()

	s.logger.Info("ledger server listening", zap.String("addr", s.Addr()), zap.String("metrics_addr", s.MetricsAddr()))
	serveErr := make(chan error, 2)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.Serve(s.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
	}

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	var err error
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err = handleErr(<-serveErr)
	case err = <-serveErr:
		s.grpcServer.Stop()
		err = handleErr(err)
	}
	s.stopMetrics()
	return err
}

func (s *Server) stopMetrics() {
	if s.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Warn("stop metrics server", zap.Error(err))
	}
}

func openStore(ctx context.Context, path string, opts ...sqlite.Option) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(ctx, path, opts...)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}
