// Package main runs the dance studio HTTP API with the live capacity feed and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dance-app/api-sub000/config"
	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/internal/auth"
	"github.com/dance-app/api-sub000/internal/events"
	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/internal/notifications"
	"github.com/dance-app/api-sub000/internal/realtime"
	"github.com/dance-app/api-sub000/internal/recurrence"
	"github.com/dance-app/api-sub000/internal/reports"
	"github.com/dance-app/api-sub000/internal/workspaces"
	"github.com/dance-app/api-sub000/pkg/database"
	"github.com/dance-app/api-sub000/pkg/queue"
	"github.com/dance-app/api-sub000/pkg/redis"
	"github.com/dance-app/api-sub000/pkg/response"
	"github.com/dance-app/api-sub000/pkg/storage"
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
	shutdownTracing, err := telemetry.Setup(ctx, "dance-api", telemetry.Config{
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ReportsBucket:        cfg.AWS.ReportsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled, attendance export unavailable", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Workspaces and access rules
	workspaceRepo := workspaces.NewRepository(pool)
	workspaceHandler := workspaces.NewHandler(workspaceRepo, logger)
	access := workspaces.NewAccess(workspaceRepo)

	// Events
	eventRepo := events.NewRepository(pool)
	eventSvc := events.NewService(eventRepo, recurrence.NewExpander(cfg.Recurrence.Horizon), logger)

	// Attendance reads (capacity, permissions) do not notify.
	attendanceRepo := attendance.NewRepository(pool)
	attendanceReader := attendance.NewService(attendanceRepo, eventSvc, logger)

	// Live capacity feed
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	feed := realtime.NewFeed(hub, eventSvc, attendanceReader, access, jwtService, logger)

	// Attendance writes fan out to the notification queue and the feed.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	attendanceSvc := attendance.NewService(attendanceRepo, eventSvc, logger,
		attendance.WithNotifiers(
			notifications.NewQueuePublisher(jobQueue, logger),
			realtime.NewCapacityNotifier(feed),
		),
	)

	eventHandler := events.NewHandler(eventSvc, access, attendanceReader, logger)
	attendanceHandler := attendance.NewHandler(attendanceSvc, access, logger)
	notificationHandler := notifications.NewHandler(notifications.NewRepository(pool), eventSvc, access, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Optional auth: guests attend and read public events
	public := router.Group("")
	public.Use(middleware.OptionalJWT(jwtService))
	{
		public.GET("/events/:id", eventHandler.Get)
		public.GET("/events/:id/series", eventHandler.Series)
		public.POST("/events/:id/attend", attendanceHandler.Attend)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/workspaces", workspaceHandler.Create)
		api.GET("/workspaces", workspaceHandler.ListMine)

		ws := api.Group("/workspaces/:workspaceId", workspaces.RequireMember(workspaceRepo))
		{
			ws.GET("/members", workspaceHandler.ListMembers)
			ws.POST("/members", middleware.RequireRole(models.WorkspaceRoleAdmin), workspaceHandler.AddMember)
			ws.GET("/events", eventHandler.List)
			ws.POST("/events", middleware.RequireRole(models.WorkspaceRoleAdmin, models.WorkspaceRoleTeacher), eventHandler.Create)
		}

		// Organizer or workspace admin checks happen per event in the handlers.
		api.PATCH("/events/:id", eventHandler.Update)
		api.POST("/events/:id/cancel", eventHandler.Cancel)
		api.POST("/events/:id/organizers", eventHandler.AddOrganizers)
		api.POST("/events/:id/invitations", attendanceHandler.Invite)
		api.POST("/events/:id/attendees/:attendeeId/actions", attendanceHandler.Act)
		api.GET("/events/:id/attendees", attendanceHandler.ListAttendees)
		api.GET("/attendees/:id/history", attendanceHandler.History)
		api.GET("/events/:id/notifications", notificationHandler.ListByEvent)
		if s3Client != nil {
			exporter := reports.NewExporter(eventSvc, attendanceReader, s3Client, logger)
			api.POST("/events/:id/attendance/export", reports.NewHandler(exporter, eventSvc, access, logger).Export)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/events/:id", feed.ServeWs)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

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
