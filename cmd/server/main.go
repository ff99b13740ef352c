// Package main runs the meeting platform HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/novameet/backend/config"
	"github.com/novameet/backend/internal/agents"
	"github.com/novameet/backend/internal/auth"
	"github.com/novameet/backend/internal/calendar"
	"github.com/novameet/backend/internal/ingest"
	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/llm"
	"github.com/novameet/backend/internal/meetings"
	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/internal/scheduling"
	"github.com/novameet/backend/internal/stream"
	"github.com/novameet/backend/internal/webhooks"
	"github.com/novameet/backend/internal/worker"
	"github.com/novameet/backend/pkg/database"
	"github.com/novameet/backend/pkg/queue"
	"github.com/novameet/backend/pkg/redis"
	"github.com/novameet/backend/pkg/response"
	"github.com/novameet/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:           cfg.AWS.Region,
		AccessKeyID:      cfg.AWS.AccessKeyID,
		SecretAccessKey:  cfg.AWS.SecretAccessKey,
		RecordingsBucket: cfg.AWS.RecordingsBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// External clients
	streamClient := stream.NewClient(stream.Config{
		APIKey:      cfg.Stream.APIKey,
		APISecret:   cfg.Stream.APISecret,
		BaseURL:     cfg.Stream.BaseURL,
		RealtimeURL: cfg.Stream.RealtimeURL,
	}, logger)
	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	})
	calendarClient := calendar.NewClient(calendar.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		CalendarID:   cfg.Google.CalendarID,
	})

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Token ledger
	tokenLedger := ledger.New(pool)
	planRepo := ledger.NewPlanRepository(pool)
	ledgerHandler := ledger.NewHandler(tokenLedger, planRepo, logger)

	// Agents
	agentRepo := agents.NewRepository(pool)
	agentHandler := agents.NewHandler(agentRepo, tokenLedger, logger)

	// Meetings
	meetingRepo := meetings.NewRepository(pool)
	meetingHandler := meetings.NewHandler(meetingRepo, agentRepo, tokenLedger, streamClient, llmClient, logger)

	// Mid-call scheduling bridge
	bridge := scheduling.NewBridge(meetingRepo, agentRepo, tokenLedger, streamClient, calendarClient, authRepo, logger)

	// Artifact ingestion
	jobQueue := queue.NewQueue(rdb.Client, logger)
	relay := ingest.NewRecordingRelay(s3Client, s3Client.RecordingsBucket(), nil, logger)
	fetcher := ingest.NewTranscriptFetcher(nil, logger)

	// Webhooks
	webhookHandler := webhooks.NewHandler(streamClient, meetingRepo, agentRepo, streamClient, bridge, jobQueue, relay, logger)

	// Platform tokens and calendar endpoints
	streamTokenHandler := stream.NewHandler(streamClient, logger)
	calendarHandler := calendar.NewHandler(calendarClient, authRepo, logger)

	// Background summary worker
	summaryWorker := worker.New(jobQueue, meetingRepo, fetcher, llmClient, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Plan catalog (public)
	router.GET("/plans", ledgerHandler.GetPlans)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users (admin only)
		api.GET("/users", middleware.RequireAdmin(), authHandler.List)

		// Token balance
		api.GET("/tokens", ledgerHandler.GetTokens)

		// Call platform credentials
		api.POST("/stream-token", streamTokenHandler.GetToken)

		// Agents
		api.GET("/agents", agentHandler.List)
		api.POST("/agents", agentHandler.Create)
		api.GET("/agents/:id", agentHandler.GetByID)
		api.PATCH("/agents/:id", agentHandler.Update)
		api.DELETE("/agents/:id", agentHandler.Delete)

		// Meetings
		api.GET("/meetings", meetingHandler.List)
		api.POST("/meetings", meetingHandler.Create)
		api.POST("/meetings/chat", meetingHandler.Chat)
		api.GET("/meetings/:id", meetingHandler.GetByID)
		api.PATCH("/meetings/:id", meetingHandler.Update)
		api.DELETE("/meetings/:id", meetingHandler.Delete)
		api.POST("/meetings/:id/participants", meetingHandler.Join)

		// Google calendar
		api.POST("/calendar/connect", calendarHandler.Connect)
		api.GET("/calendar/events", calendarHandler.ListEvents)
		api.POST("/calendar/events", calendarHandler.CreateEvent)
	}

	// Webhooks (no JWT; signature verified in handler)
	router.POST("/webhooks/stream", webhookHandler.Handle)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (transcript summarization)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go summaryWorker.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
