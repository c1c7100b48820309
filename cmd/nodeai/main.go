package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mettice/nodeai/internal/application/credentials"
	"github.com/mettice/nodeai/internal/application/deployment"
	"github.com/mettice/nodeai/internal/application/executors"
	"github.com/mettice/nodeai/internal/application/gateway"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/internal/application/quota"
	"github.com/mettice/nodeai/internal/application/retention"
	"github.com/mettice/nodeai/internal/application/workers"
	"github.com/mettice/nodeai/internal/config"
	eventsmemory "github.com/mettice/nodeai/pkg/adapters/events/memory"
	eventsredis "github.com/mettice/nodeai/pkg/adapters/events/redis"
	"github.com/mettice/nodeai/pkg/adapters/llm"
	"github.com/mettice/nodeai/pkg/adapters/metrics/prometheus"
	quotamemory "github.com/mettice/nodeai/pkg/adapters/quota/memory"
	quotaredis "github.com/mettice/nodeai/pkg/adapters/quota/redis"
	"github.com/mettice/nodeai/pkg/adapters/storage/memory"
	"github.com/mettice/nodeai/pkg/adapters/storage/postgres"
	redisstorage "github.com/mettice/nodeai/pkg/adapters/storage/redis"
	"github.com/mettice/nodeai/pkg/adapters/tracing"
	"github.com/mettice/nodeai/pkg/api/grpc"
	"github.com/mettice/nodeai/pkg/api/http"
	"github.com/mettice/nodeai/pkg/api/websocket"
	"github.com/mettice/nodeai/pkg/ports"

	"github.com/jackc/pgx/v5/pgxpool"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting nodeai",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// Metrics and tracing
	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := prometheus.NewCollector(registry)

	tracer, err := tracing.Setup(ctx, cfg.Tracing.Enabled, cfg.Tracing.ServiceName, logger)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Storage backends
	var (
		redisClient goredis.UniversalClient
		runStore    ports.RunRepository
		quotaStore  ports.QuotaStore
		sinks       []ports.EventSink
		history     ports.EventHistory
		mirror      *eventsredis.StreamMirror
	)
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		runStore = redisstorage.NewRunStore(redisClient, cfg.Retention.RunRetention, logger)
		quotaStore = quotaredis.NewStore(redisClient, logger)

		mirror = eventsredis.NewStreamMirror(redisClient, cfg.Events.MirrorMaxLen, cfg.Retention.RunRetention,
			cfg.Events.MirrorQueue, logger)
		mirror.Start()
		sinks = append(sinks, mirror)
		history = mirror
	} else {
		logger.Warn("REDIS_ADDR not set, runs and quota counters are kept in memory")
		runStore = memory.NewRunStore()
		quotaStore = quotamemory.NewStore()
	}

	var (
		pgPool      *pgxpool.Pool
		deployRepo  ports.DeploymentRepository
		keyRepo     ports.CredentialRepository
		webhookRepo ports.WebhookRepository
	)
	if cfg.Postgres.URL != "" {
		pgPool, err = postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			logger.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		if err := postgres.InitSchema(ctx, pgPool, logger); err != nil {
			logger.Fatal("failed to initialize schema", zap.Error(err))
		}
		deployRepo = postgres.NewDeploymentStore(pgPool, logger)
		credStore := postgres.NewCredentialStore(pgPool)
		keyRepo, webhookRepo = credStore, credStore
	} else {
		logger.Warn("DATABASE_URL not set, deployments and credentials are kept in memory")
		deployRepo = memory.NewDeploymentStore()
		credStore := memory.NewCredentialStore()
		keyRepo, webhookRepo = credStore, credStore
	}

	// Executors
	execRegistry := executors.NewRegistry(logger)
	executors.RegisterBuiltins(execRegistry)
	llm.Register(execRegistry, llm.Config{
		APIKey:            cfg.LLM.APIKey,
		DefaultModel:      cfg.LLM.DefaultModel,
		DefaultMaxTokens:  cfg.LLM.DefaultMaxTokens,
		InputCostPerMTok:  cfg.LLM.InputCostPerMTok,
		OutputCostPerMTok: cfg.LLM.OutputCostPerMTok,
		RequestTimeout:    cfg.LLM.RequestTimeout,
	}, metricsCollector, logger)

	// Application components
	validator := orchestrator.NewValidator()
	broker := eventsmemory.NewBroker(cfg.Events.SubscriberBuffer, cfg.Events.Linger, metricsCollector, logger, sinks...)
	enforcer := quota.NewEnforcer(quotaStore, metricsCollector, cfg.Quota.RateWindow, cfg.Quota.BillingPeriod, logger)

	deployments := deployment.NewManager(deployRepo, validator, execRegistry, metricsCollector, logger, deployment.Config{
		HealthThreshold: cfg.Deploy.HealthThreshold,
		RecentWindow:    cfg.Deploy.HealthWindow,
		ConflictRetries: cfg.Deploy.ConflictRetries,
	})

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	orchestratorMgr := orchestrator.NewManager(
		validator,
		execRegistry,
		workerPool,
		broker,
		runStore,
		enforcer,
		metricsCollector,
		logger,
		orchestrator.Config{
			GraphTimeout: cfg.Timeouts.GraphExecutionTimeout,
			NodeTimeout:  cfg.Timeouts.NodeExecutionTimeout,
			MaxRetries:   cfg.Workers.NodeMaxRetries,
		},
		orchestrator.WithOutcomeRecorder(deployments),
		orchestrator.WithTracer(tracer.Tracer()),
	)

	creds := credentials.NewService(keyRepo, webhookRepo, logger)
	gw := gateway.NewGateway(creds, deployments, enforcer, orchestratorMgr, logger)

	sweeper, err := retention.NewSweeper(runStore, cfg.Retention.SweepSchedule, cfg.Retention.RunRetention, logger)
	if err != nil {
		logger.Fatal("failed to create run sweeper", zap.Error(err))
	}
	sweeper.Start()

	// API servers
	httpServer := http.NewServer(&http.Config{
		Port:        cfg.HTTPPort,
		Runs:        orchestratorMgr,
		Validator:   validator,
		Deployments: deployments,
		Credentials: creds,
		Gateway:     gw,
		Events:      broker,
		History:     history,
		Pool:        workerPool,
		Gatherer:    registry,
		Stream:      websocket.NewHandler(broker, logger),
		Logger:      logger,
	})

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Pool:   workerPool,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("nodeai started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Strings("node_types", execRegistry.Types()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then drain runs before the pool they run on.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	sweeper.Stop()

	if err := orchestratorMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if mirror != nil {
		if err := mirror.Close(); err != nil {
			logger.Error("event mirror close error", zap.Error(err))
		}
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}

	if pgPool != nil {
		pgPool.Close()
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("nodeai shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
