// Package main runs the background summary worker on its own.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/novameet/backend/config"
	"github.com/novameet/backend/internal/ingest"
	"github.com/novameet/backend/internal/llm"
	"github.com/novameet/backend/internal/meetings"
	"github.com/novameet/backend/internal/worker"
	"github.com/novameet/backend/pkg/database"
	"github.com/novameet/backend/pkg/queue"
	"github.com/novameet/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	})

	meetingRepo := meetings.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	fetcher := ingest.NewTranscriptFetcher(nil, logger)
	summaryWorker := worker.New(jobQueue, meetingRepo, fetcher, llmClient, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go summaryWorker.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
