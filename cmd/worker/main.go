// Package main runs the notification worker: attendance changes queued by
// the API are delivered and recorded in notification_logs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dance-app/api-sub000/config"
	"github.com/dance-app/api-sub000/internal/auth"
	"github.com/dance-app/api-sub000/internal/events"
	"github.com/dance-app/api-sub000/internal/notifications"
	"github.com/dance-app/api-sub000/internal/recurrence"
	"github.com/dance-app/api-sub000/internal/worker"
	"github.com/dance-app/api-sub000/pkg/database"
	"github.com/dance-app/api-sub000/pkg/queue"
	"github.com/dance-app/api-sub000/pkg/redis"
	"github.com/dance-app/api-sub000/pkg/telemetry"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "dance-worker", telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	pool, err := database.NewPostgresPool(ctx, database.PoolConfig{
		DSN:       cfg.Database.DSN(),
		MaxConns:  cfg.Database.MaxConns,
		SlowQuery: time.Duration(cfg.Database.SlowQueryMillis) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	if dead, err := jobQueue.DeadLetters(ctx, 100); err != nil {
		logger.Warn("read dead letters", zap.Error(err))
	} else if len(dead) > 0 {
		ids := make([]string, 0, len(dead))
		for _, job := range dead {
			ids = append(ids, job.ID)
		}
		logger.Warn("dead-lettered notifications pending", zap.Int("count", len(dead)), zap.Strings("job_ids", ids))
	}

	eventSvc := events.NewService(events.NewRepository(pool), recurrence.NewExpander(cfg.Recurrence.Horizon), logger)
	processor := worker.NewNotificationProcessor(
		jobQueue,
		auth.NewRepository(pool),
		eventSvc,
		notifications.NewRepository(pool),
		worker.NewLogMailer(logger),
		cfg.Notify.FromAddress,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
