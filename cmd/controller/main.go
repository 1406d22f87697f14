package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vanetlab/apsteer/internal/algorithm"
	"github.com/vanetlab/apsteer/internal/config"
	"github.com/vanetlab/apsteer/internal/handler"
	"github.com/vanetlab/apsteer/internal/health"
	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/registry"
	"github.com/vanetlab/apsteer/internal/server"
	"github.com/vanetlab/apsteer/internal/service"
	"github.com/vanetlab/apsteer/internal/southbound"
	"github.com/vanetlab/apsteer/internal/store"
	"github.com/vanetlab/apsteer/internal/util/workerpool"
	"github.com/vanetlab/apsteer/internal/validation"
)

const healthCheckInterval = 10 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("southbound_port", cfg.Southbound.Port),
		zap.String("prediction_addr", cfg.Ingest.PredictionAddr),
		zap.String("telemetry_addr", cfg.Ingest.TelemetryAddr))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Controller failed", zap.Error(err))
	}
	logger.Info("Controller stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Server.NodeID, promRegistry)

	topology, err := config.LoadTopology(cfg.Flow.TopologyFile)
	if err != nil {
		return err
	}
	logger.Info("Topology loaded",
		zap.Int("access_points", len(topology.AccessPoints)),
		zap.Bool("naming_convention", topology.NamingConvention))

	// Stores
	congestion := store.NewCongestionStore()
	vehicles := store.NewVehicleStore(cfg.Vehicles.Capacity, cfg.Vehicles.TTL)
	go vehicles.Start()
	defer vehicles.Stop()

	learned := service.NewLearnedPortTable(cfg.Flow.LearnedMACCapacity, cfg.Flow.LearnedMACTTL)
	go learned.Start()
	defer learned.Stop()

	audit, dependencies, closeAudit, err := openAuditSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	// Switch command queue, keyed per datapath
	commandPool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "switch-commands",
		MaxWorkers: cfg.Flow.Workers,
		QueueSize:  cfg.Flow.QueueSize,
		Logger:     logger,
	})
	defer commandPool.Stop(cfg.Server.ShutdownTimeout)

	switches := registry.NewSwitchRegistry(logger)
	scorer := algorithm.NewScorer(algorithm.Weights{
		AvgPacketRate:  cfg.Decision.Weights.AvgPacketRate,
		AvgLatency:     cfg.Decision.Weights.AvgLatency,
		BandwidthUsage: cfg.Decision.Weights.BandwidthUsage,
		Speed:          cfg.Decision.Weights.Speed,
		Acceleration:   cfg.Decision.Weights.Acceleration,
		ActiveNodes:    cfg.Decision.Weights.ActiveNodes,
	}, cfg.Decision.RerouteThreshold)
	decision := service.NewDecisionService(scorer, m, logger)

	flow := service.NewFlowService(
		&cfg.Flow,
		switches,
		topology,
		service.ChainResolver{service.NewStaticPortResolver(topology), learned},
		learned,
		commandPool,
		func() (model.APID, bool) { return decision.LeastCongested(congestion.Snapshot()) },
		m,
		logger,
	)

	controller := service.NewControllerService(service.ControllerDeps{
		Registry:   switches,
		Congestion: congestion,
		Vehicles:   vehicles,
		Topology:   topology,
		Validator:  validation.NewValidator(),
		Decision:   decision,
		Flow:       flow,
		Learned:    learned,
		Audit:      audit,
		Metrics:    m,
		Logger:     logger,
	})

	// Optional redis mirror
	if cfg.Redis.Enabled {
		mirror, err := store.NewRedisCongestionMirror(
			cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password,
			cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.Key, logger)
		if err != nil {
			return fmt.Errorf("failed to connect congestion mirror: %w", err)
		}
		dependencies["redis"] = mirror

		mirrorSvc := service.NewMirrorService(congestion, mirror, commandPool, logger)
		defer func() {
			// drain queued publishes before the client goes away
			commandPool.Stop(cfg.Server.ShutdownTimeout)
			if err := mirrorSvc.Close(); err != nil {
				logger.Warn("Failed to close congestion mirror", zap.Error(err))
			}
		}()
		if _, err := mirrorSvc.WarmLoad(ctx); err != nil {
			logger.Warn("Failed to warm congestion store from mirror", zap.Error(err))
		}
	}

	// Optional controller replication
	var cluster handler.Cluster
	var gossip *service.GossipService
	if cfg.Gossip.Enabled {
		gossip, err = service.NewGossipService(&cfg.Gossip, cfg.Server.NodeID, congestion, m, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			defer gossip.Shutdown()
			cluster = gossip
			logger.Info("Gossip service initialized")
		}
	}

	hc := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:       cfg.Server.NodeID,
		LogDir:       observationDir(cfg),
		Interval:     healthCheckInterval,
		StaleAfter:   6 * cfg.Polling.Interval,
		Dependencies: dependencies,
	}, health.Sources{
		ConnectedSwitches: switches.Len,
		TrackedAPs:        congestion.Len,
		TrackedVehicles:   vehicles.Len,
		LastPrediction:    controller.LastPrediction,
	}, logger)

	handlers := handler.NewHandlers(switches, congestion, vehicles, decision, controller, cluster, logger)
	admin := server.NewAdminServer(cfg, handlers, hc, m, promRegistry, logger)

	southboundServer := southbound.NewServer(&southbound.Config{
		Host:             cfg.Southbound.Host,
		Port:             cfg.Southbound.Port,
		SendQueueSize:    cfg.Southbound.SendQueueSize,
		HelloTimeout:     cfg.Southbound.HelloTimeout,
		KeepaliveTime:    cfg.Southbound.KeepaliveTime,
		KeepaliveTimeout: cfg.Southbound.KeepaliveTimeout,
		MaxRecvMsgSize:   cfg.Southbound.MaxRecvMsgSize,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, controller, logger)

	predictions := service.NewUDPListener(service.UDPListenerConfig{
		Name:            "prediction",
		Addr:            cfg.Ingest.PredictionAddr,
		MaxDatagramSize: cfg.Ingest.MaxDatagramSize,
		RateLimit:       cfg.Ingest.RateLimit,
		RateBurst:       cfg.Ingest.RateBurst,
	}, controller.HandlePrediction, m, logger)
	telemetry := service.NewUDPListener(service.UDPListenerConfig{
		Name:            "telemetry",
		Addr:            cfg.Ingest.TelemetryAddr,
		MaxDatagramSize: cfg.Ingest.MaxDatagramSize,
		RateLimit:       cfg.Ingest.RateLimit,
		RateBurst:       cfg.Ingest.RateBurst,
	}, controller.HandleTelemetry, m, logger)

	// bind before starting so a port clash fails fast
	if err := predictions.Bind(); err != nil {
		return err
	}
	if err := telemetry.Bind(); err != nil {
		return err
	}

	poller := service.NewPollingService(switches, cfg.Polling.Interval, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return southboundServer.Run(gctx) })
	g.Go(func() error { return predictions.Serve(gctx) })
	g.Go(func() error { return telemetry.Serve(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return admin.Run(gctx) })
	g.Go(func() error {
		hc.Start(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				m.UpdateCommandPool(commandPool.Stats())
				m.UpdateVehicles(vehicles.Len())
				if gossip != nil {
					gossip.UpdateHealthStatus(hc.Metrics(), 6*cfg.Polling.Interval)
				}
			}
		}
	})

	logger.Info("Controller started", zap.String("node_id", cfg.Server.NodeID))

	<-gctx.Done()
	logger.Info("Shutting down gracefully...")
	hc.SetReadiness(false)

	return g.Wait()
}

// openAuditSinks opens every enabled audit sink and returns them as one
// sink, plus the dependencies the health checker should probe.
func openAuditSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.AuditSink, map[string]health.Pinger, func(), error) {
	var sinks store.MultiSink
	dependencies := make(map[string]health.Pinger)

	if cfg.Observation.Enabled {
		csvLog, err := store.NewCSVAuditLog(&store.CSVAuditConfig{
			Dir:         cfg.Observation.Dir,
			SegmentSize: cfg.Observation.SegmentSize,
			SyncWrites:  cfg.Observation.SyncWrites,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		sinks = append(sinks, csvLog)
		logger.Info("CSV audit log opened", zap.String("dir", csvLog.Dir()))
	}

	if cfg.Postgres.Enabled {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := store.NewPostgresAuditStore(pgCtx,
			cfg.Postgres.Host, cfg.Postgres.Port,
			cfg.Postgres.Database, cfg.Postgres.User, cfg.Postgres.Password,
			cfg.Postgres.MaxConnections, cfg.Postgres.MinConnections,
			cfg.Postgres.ConnMaxLifetime,
			logger)
		if err != nil {
			sinks.Close()
			return nil, nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		sinks = append(sinks, pg)
		dependencies["postgres"] = pg
		logger.Info("Audit database connected", zap.String("host", cfg.Postgres.Host))
	}

	closeFn := func() {
		if err := sinks.Close(); err != nil {
			logger.Error("Failed to close audit sinks", zap.Error(err))
		}
	}
	return sinks, dependencies, closeFn, nil
}

func observationDir(cfg *config.Config) string {
	if !cfg.Observation.Enabled {
		return ""
	}
	return cfg.Observation.Dir
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
