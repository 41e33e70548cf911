package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/taskhive/chatcache/internal/config"
	"github.com/taskhive/chatcache/internal/handler"
	"github.com/taskhive/chatcache/internal/health"
	"github.com/taskhive/chatcache/internal/metrics"
	"github.com/taskhive/chatcache/internal/server"
	"github.com/taskhive/chatcache/internal/service"
	"github.com/taskhive/chatcache/internal/store"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = uuid.New().String()[:8]
	}

	logger.Info("Configuration loaded",
		zap.String("instance_id", instanceID),
		zap.String("store_backend", cfg.Store.Backend))

	// Initialize metrics
	m := metrics.NewMetrics(instanceID)

	// Initialize durable store
	historyStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize history store", zap.Error(err))
	}
	defer historyStore.Close()

	// Initialize services
	processor := service.NewMessageProcessor(logger)

	conversationCache := service.NewConversationCache(cfg.Conversation, m, logger)
	defer conversationCache.Stop()

	batcher := service.NewQueryBatcher(cfg.Batcher, m, logger)
	defer batcher.Shutdown()

	prefetcher := service.NewPredictivePrefetcher(cfg.Prefetch, historyStore, m, logger)
	defer prefetcher.Stop()

	loader := service.NewLazyHistoryLoader(cfg.Loader, historyStore, m, logger)

	chatService := service.NewChatHistoryService(
		processor,
		conversationCache,
		batcher,
		loader,
		prefetcher,
		historyStore,
		m,
		logger,
	)

	// Start health checker
	healthChecker := health.NewHealthChecker(
		&health.HealthCheckConfig{InstanceID: instanceID},
		historyStore,
		logger,
	)
	healthCtx, cancelHealth := context.WithCancel(context.Background())
	defer cancelHealth()
	go healthChecker.Start(healthCtx)

	// Start metrics server
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(
			&server.MetricsServerConfig{Port: cfg.Metrics.Port},
			healthChecker,
			logger,
		)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	// Start admin server
	var adminServer *server.AdminServer
	if cfg.Admin.Enabled {
		adminHandler := handler.NewAdminHandler(
			chatService,
			conversationCache,
			batcher,
			prefetcher,
			loader,
			healthChecker,
			logger,
		)
		adminServer = server.NewAdminServer(
			&server.AdminServerConfig{Port: cfg.Admin.Port},
			adminHandler,
			logger,
		)
		if err := adminServer.Start(); err != nil {
			logger.Fatal("Failed to start admin server", zap.Error(err))
		}
	}

	logger.Info("Chat cache service started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	healthChecker.SetReadiness(false)

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error("Admin server shutdown failed", zap.Error(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
}

// buildStore selects and initializes the durable history store backend
func buildStore(cfg *config.Config, logger *zap.Logger) (store.HistoryStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		memStore := store.NewMemoryHistoryStore(logger)
		if cfg.Store.SeedFile != "" {
			if err := memStore.LoadSeed(cfg.Store.SeedFile); err != nil {
				return nil, fmt.Errorf("failed to load seed file: %w", err)
			}
		}
		return memStore, nil
	case "redis":
		return store.NewRedisHistoryStore(
			cfg.Store.Redis.Host,
			cfg.Store.Redis.Port,
			cfg.Store.Redis.Password,
			cfg.Store.Redis.DB,
			cfg.Store.Redis.PoolSize,
			logger,
		)
	case "postgres":
		return store.NewPostgresHistoryStore(
			cfg.Store.Postgres.Host,
			cfg.Store.Postgres.Port,
			cfg.Store.Postgres.Database,
			cfg.Store.Postgres.User,
			cfg.Store.Postgres.Password,
			cfg.Store.Postgres.MaxConnections,
			cfg.Store.Postgres.MinConnections,
			logger,
		)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

// initLogger initializes the zap logger from logging configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
