package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/smart-tagger/internal/backend"
	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/handlers"
	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/middleware"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/queue"
	"github.com/benvon/smart-tagger/internal/store"
	"github.com/benvon/smart-tagger/internal/syncer"
	"github.com/benvon/smart-tagger/internal/telemetry"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

const serviceName = "smart-tagger-api"

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("project_path", logger.SanitizePath(cfg.ProjectPath)),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Batches outlive the request that started them; runCtx ends with the server
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Initialize OpenTelemetry if enabled
	shutdownTracer, tracing := telemetry.Setup(runCtx, cfg.OTELEnabled, serviceName, cfg.OTELEndpoint, zapLogger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
		}
	}()

	// Storage stack: backend, throttle, cache
	stack, err := backend.Open(runCtx, cfg, logger.Named(zapLogger, "storage"))
	if err != nil {
		zapLogger.Fatal("failed_to_open_storage_backend", zap.Error(err))
	}
	defer func() {
		if err := stack.Close(); err != nil {
			zapLogger.Warn("failed_to_close_storage_backend", zap.Error(err))
		}
	}()

	checks := stack.HealthChecks()

	// RabbitMQ is optional; without it commit events are not published
	var events queue.Publisher
	var jobQueue *queue.RabbitMQQueue
	if cfg.RabbitMQURL != "" {
		jobQueue, err = backend.ConnectQueue(runCtx, cfg.RabbitMQURL, logger.Named(zapLogger, "queue"))
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries", zap.Error(err))
		}
		defer func() {
			if err := jobQueue.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		events = jobQueue
		checks["rabbitmq"] = jobQueue.HealthCheck
	} else {
		zapLogger.Warn("rabbitmq_not_configured_commit_events_disabled")
	}

	// Tag state and batch orchestration
	tagStore := store.New(logger.Named(zapLogger, "store"))
	orch := syncer.New(tagStore, stack.Persistence, events, syncer.Config{
		PoolSize:    cfg.SyncPoolSize,
		SettleDelay: cfg.SyncSettleDelay,
		UnitTimeout: cfg.SyncUnitTimeout,
	}, logger.Named(zapLogger, "syncer"))

	// Initialize handlers
	assetHandler := handlers.NewAssetHandler(tagStore, orch, cfg.ProjectPath, zapLogger)
	syncHandler := handlers.NewSyncHandler(runCtx, orch, tagStore, cfg.ProjectPath, zapLogger)
	healthChecker := handlers.NewHealthChecker(checks)

	rateLimitMW, err := middleware.RateLimit(stack.LimiterStore, middleware.DefaultAPIRate)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	// Setup router
	r := mux.NewRouter()

	// gorilla/mux runs middleware in registration order, first registered outermost
	zapLogger.Info("setting_up_middleware")
	if tracing {
		r.Use(otelmux.Middleware(serviceName))
		zapLogger.Info("otel_middleware_enabled")
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.FrontendURL))
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(middleware.DefaultRequestTimeout))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	// Public routes (no rate limiting for health checks)
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// API v1 routes
	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(rateLimitMW)

	syncHandler.RegisterRoutes(apiRouter.PathPrefix("/sync").Subrouter())
	assetHandler.RegisterRoutes(apiRouter.PathPrefix("/assets").Subrouter())

	// Catch-all OPTIONS handler; the CORS middleware answers preflights first
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Setup server
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   middleware.DefaultRequestTimeout + 5*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start DLQ garbage collector
	if jobQueue != nil {
		dlqGC := queue.NewGarbageCollector(jobQueue, cfg.DLQInterval, cfg.DLQRetention, logger.Named(zapLogger, "dlq_gc"))
		go func() {
			if err := dlqGC.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", cfg.DLQInterval),
			zap.Duration("retention", cfg.DLQRetention),
		)
	}

	// Initial load of the configured project
	if cfg.ProjectPath != "" {
		if _, done, err := orch.StartLoadAll(runCtx, cfg.ProjectPath); err != nil {
			zapLogger.Error("initial_load_not_started", zap.Error(err))
		} else {
			go func() {
				res := <-done
				zapLogger.Info("initial_load_finished",
					zap.Int("assets", res.Progress.Total),
					zap.Int("failed", res.Progress.Failed),
				)
			}()
		}
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("server_starting",
			zap.String("port", cfg.ServerPort),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}
	runCancel()

	if snap := orch.Snapshot(); snap.State != models.IOStateIdle {
		zapLogger.Info("batch_cancelled_on_shutdown",
			zap.String("run_id", snap.RunID.String()),
			zap.String("kind", string(snap.Kind)),
		)
	}

	zapLogger.Info("server_exited")
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// Only expose minimal version info
	_, _ = fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
