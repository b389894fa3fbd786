package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/benvon/smart-tagger/internal/backend"
	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/database"
	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/queue"
	"github.com/benvon/smart-tagger/internal/workers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging of tag statistics")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.WorkerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("Starting worker",
		zap.Bool("debug_mode", debugMode),
		zap.String("storage_backend", cfg.StorageBackend),
	)

	if cfg.DatabaseURL == "" || cfg.RabbitMQURL == "" {
		zapLogger.Fatal("Worker requires DATABASE_URL and RABBITMQ_URL")
	}

	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage stack; the worker reads tags through the same backend as the server
	stack, err := backend.Open(ctx, cfg, logger.Named(zapLogger, "storage"))
	if err != nil {
		zapLogger.Fatal("Failed to open storage backend", zap.Error(err))
	}
	defer func() {
		if err := stack.Close(); err != nil {
			zapLogger.Warn("Failed to close storage backend", zap.Error(err))
		}
	}()

	tagStatsRepo := database.NewTagStatisticsRepository(stack.DB)

	// Initialize RabbitMQ queue
	jobQueue, err := backend.ConnectQueue(ctx, cfg.RabbitMQURL, logger.Named(zapLogger, "queue"))
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}()

	zapLogger.Info("Connected to RabbitMQ",
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	analyzer := workers.NewTagAnalyzer(stack.Persistence, tagStatsRepo, jobQueue, logger.Named(zapLogger, "tag_analyzer"))

	msgChan, errChan, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("Failed to start consuming messages", zap.Error(err))
	}

	zapLogger.Info("Worker started, consuming tag jobs")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gctx, analyzer, msgChan, zapLogger)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err, ok := <-errChan:
				if !ok {
					return nil
				}
				zapLogger.Error("Queue error", zap.Error(err))
			}
		}
	})

	if err := g.Wait(); err != nil {
		zapLogger.Error("Worker stopped with error", zap.Error(err))
		return
	}
	zapLogger.Info("Worker stopped")
}

// consume processes messages until ctx ends. A closed delivery channel means
// the broker connection is gone, which ends the worker so it can be restarted.
func consume(ctx context.Context, analyzer *workers.TagAnalyzer, msgs <-chan *queue.Message, log *zap.Logger) error {
	processed := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutdown signal received, stopping worker", zap.Int("processed", processed))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			processed++
			if err := analyzer.ProcessJob(ctx, msg); err != nil {
				fields := []zap.Field{zap.Error(err)}
				if job := msg.GetJob(); job != nil {
					fields = append(fields,
						zap.String("job_id", job.ID.String()),
						zap.String("job_type", string(job.Type)),
						zap.String("project_path", logger.SanitizePath(job.ProjectPath)),
					)
				}
				log.Error("Failed to process job", fields...)
			}
		}
	}
}
