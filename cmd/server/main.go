package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubhsaxena/intent-search/internal/api"
	"github.com/shubhsaxena/intent-search/internal/cache"
	"github.com/shubhsaxena/intent-search/internal/catalog"
	"github.com/shubhsaxena/intent-search/internal/clickhouse"
	"github.com/shubhsaxena/intent-search/internal/confgen"
	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/configstore"
	"github.com/shubhsaxena/intent-search/internal/elasticsearch"
	"github.com/shubhsaxena/intent-search/internal/indexing"
	"github.com/shubhsaxena/intent-search/internal/kafka"
	"github.com/shubhsaxena/intent-search/internal/llm"
	"github.com/shubhsaxena/intent-search/internal/observability"
	"github.com/shubhsaxena/intent-search/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize logger
	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting search service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("business_id", cfg.Search.BusinessID),
	)

	// Initialize tracing
	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients
	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch, cfg.Search, logger)
	if err != nil {
		return fmt.Errorf("initializing elasticsearch: %w", err)
	}
	defer esClient.Close()
	logger.Info("elasticsearch client initialized")

	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis initialization failed, serving without result cache", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
		logger.Info("redis cache initialized")
	}

	var chClient *clickhouse.Client
	chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		chClient = nil
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
		logger.Info("clickhouse client initialized")
	}

	catalogSource, err := catalog.NewFirestoreSource(ctx, cfg.Firestore, logger)
	if err != nil {
		return fmt.Errorf("initializing catalog source: %w", err)
	}
	defer catalogSource.Close()
	logger.Info("catalog source initialized")

	geminiClient, err := llm.NewGeminiClient(ctx, cfg.Gemini, logger)
	if err != nil {
		return fmt.Errorf("initializing gemini client: %w", err)
	}
	logger.Info("gemini client initialized")

	// Config store backend is pluggable: badger for single-node installs,
	// elasticsearch to share generated artifacts across replicas.
	var store configstore.Store
	switch cfg.ConfigStore.Backend {
	case "elasticsearch":
		store = configstore.NewElasticStore(esClient, logger)
	default:
		store, err = configstore.NewBadgerStore(cfg.ConfigStore.Path, logger)
		if err != nil {
			return fmt.Errorf("initializing config store: %w", err)
		}
	}
	defer store.Close()
	logger.Info("config store initialized", zap.String("backend", cfg.ConfigStore.Backend))

	// Initialize config generation
	generator := confgen.NewLLMConfigGenerator(store, catalogSource, geminiClient, cfg.Search, logger)

	// Initialize slow query detector
	var analyticsWriter observability.AnalyticsWriter
	if chClient != nil {
		analyticsWriter = chClient
	}
	slowQueryDetector := observability.NewSlowQueryDetector(
		cfg.Search.SlowQuery.WarningThreshold,
		cfg.Search.SlowQuery.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	// Initialize search orchestrator
	analyzer := orchestrator.NewIntentAnalyzer(geminiClient, logger)

	var resultCache orchestrator.ResultCache
	if redisCache != nil {
		resultCache = redisCache
	}
	var searchAnalytics orchestrator.AnalyticsSink
	if chClient != nil {
		searchAnalytics = chClient
	}
	orch := orchestrator.New(
		esClient, resultCache, generator, analyzer, geminiClient,
		slowQueryDetector, searchAnalytics, cfg.Search, logger,
	)

	// Initialize indexing pipeline
	processor := indexing.NewProcessor(
		esClient, chClient, redisCache, catalogSource, geminiClient,
		generator, cfg.Elasticsearch, logger,
	)
	defer processor.Stop()

	consumer := kafka.NewConsumer(cfg.Kafka, processor.HandleEvent, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("kafka consumer start failed, indexing pipeline will be unavailable", zap.Error(err))
	} else {
		defer consumer.Stop()
		logger.Info("kafka consumer started")
	}

	producer := kafka.NewProducer(cfg.Kafka, logger)
	defer producer.Close()

	// Initialize HTTP server
	var problemAnalytics api.ProblemAnalytics
	if chClient != nil {
		problemAnalytics = chClient
	}
	handler := api.NewHandler(orch, orch, generator, processor, esClient, producer, problemAnalytics, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.RegisterES(esClient)
	if redisCache != nil {
		healthHandler.Register("redis", redisCache)
	}
	if chClient != nil {
		healthHandler.Register("clickhouse", chClient)
	}
	healthHandler.Register("kafka", consumer)

	router := api.NewRouter(handler, healthHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Dedicated metrics listener so Prometheus scrapes stay off the API port.
	var metricsServer *http.Server
	if cfg.Observability.MetricsPort > 0 && cfg.Observability.MetricsPort != cfg.Server.Port {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Observability.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics server starting", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	// Cancel background operations
	cancel()

	// Shutdown tracing
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
