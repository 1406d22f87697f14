// Package server provides the admin HTTP server of the controller.
package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/handler"
	"github.com/vanetlab/apsteer/internal/health"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/middleware"
)

const systemMetricsInterval = 15 * time.Second

// AdminServer serves metrics, health probes and the read-only admin API
type AdminServer struct {
	router     *mux.Router
	httpServer *http.Server
	handlers   *handler.Handlers
	health     *health.HealthChecker
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	cfg        *config.Config
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewAdminServer creates the server and registers its routes
func NewAdminServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	hc *health.HealthChecker,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *AdminServer {
	router := mux.NewRouter()
	s := &AdminServer{
		router:   router,
		handlers: handlers,
		health:   hc,
		metrics:  m,
		gatherer: gatherer,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Timeout(s.cfg.Admin.WriteTimeout),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/switches", s.handlers.ListSwitches).Methods(http.MethodGet)
	v1.HandleFunc("/congestion", s.handlers.ListCongestion).Methods(http.MethodGet)
	v1.HandleFunc("/congestion/{ap_id}", s.handlers.GetCongestion).Methods(http.MethodGet)
	v1.HandleFunc("/vehicles", s.handlers.ListVehicles).Methods(http.MethodGet)
	v1.HandleFunc("/vehicles/{vehicle_id}", s.handlers.GetVehicle).Methods(http.MethodGet)
	v1.HandleFunc("/decision", s.handlers.GetDecision).Methods(http.MethodGet)
	v1.HandleFunc("/decision/preview", s.handlers.PreviewDecision).Methods(http.MethodGet)
	v1.HandleFunc("/cluster", s.handlers.GetCluster).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// Handler returns the routed handler, for tests
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *AdminServer) Run(ctx context.Context) error {
	s.logger.Info("Starting admin server", zap.String("addr", s.httpServer.Addr))

	go s.collectSystemMetrics()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.stopOnce.Do(func() { close(s.stopChan) })
		return err
	case <-ctx.Done():
	}
	return s.Stop()
}

// Stop gracefully stops the server
func (s *AdminServer) Stop() error {
	s.logger.Info("Stopping admin server")
	s.stopOnce.Do(func() { close(s.stopChan) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

// collectSystemMetrics periodically collects system-level metrics
func (s *AdminServer) collectSystemMetrics() {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	s.updateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *AdminServer) updateSystemMetrics() {
	var diskAvailable int64
	if s.cfg.Observation.Enabled {
		_, available, err := health.DiskStats(s.cfg.Observation.Dir)
		if err != nil {
			s.logger.Warn("Failed to get disk stats", zap.Error(err))
		}
		diskAvailable = available
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(diskAvailable, int64(memStats.Alloc), runtime.NumGoroutine())
}
