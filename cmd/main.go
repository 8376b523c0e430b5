package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workflow-service/internal/approval"
	"workflow-service/internal/audit"
	"workflow-service/internal/crm"
	"workflow-service/internal/handler"
	"workflow-service/internal/jobs"
	mid "workflow-service/internal/middleware"
	"workflow-service/internal/notification"
	"workflow-service/internal/repository"
	"workflow-service/internal/workflow"
	"workflow-service/pkg/config"
	"workflow-service/pkg/database"
	"workflow-service/pkg/jwtutil"
	"workflow-service/pkg/logger"
	"workflow-service/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const serviceName = "workflow-service"

func main() {
	// Load configuration
	appConfig, err := config.Load(serviceName)
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.InitLogger(&logger.LogConfig{
		Level:       appConfig.Log.Level,
		Environment: appConfig.Server.Env,
		ServiceName: serviceName,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting "+serviceName, appConfig.LogFields()...)

	// Initialize database
	db, err := database.Open(&appConfig.DB, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Core components
	store := repository.New(db)
	auditWriter := audit.NewWriter(store, log)

	transport, err := notification.NewTransport(appConfig, log)
	if err != nil {
		log.Fatal("Failed to initialize email transport", zap.Error(err))
	}
	dispatcher := notification.NewDispatcher(store, transport, appConfig.SMTP.From, appConfig.Email, log)
	engine := workflow.NewEngine(store, auditWriter, dispatcher, log)
	approvals := approval.NewHandler(store, auditWriter, engine, log)
	crmService := crm.NewService(store, auditWriter, engine)

	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      appConfig.JWT.SigningKey,
		ExpirationHours: appConfig.JWT.ExpirationHours,
	})

	// Background jobs
	scheduler := jobs.NewScheduler(log)
	if err := scheduler.ScheduleEmailRetry(appConfig.Email.RetrySchedule, dispatcher); err != nil {
		log.Fatal("Invalid email retry schedule",
			zap.String("schedule", appConfig.Email.RetrySchedule), zap.Error(err))
	}
	scheduler.Start()

	// Initialize Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(mid.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	h := handler.New(db, engine, approvals, dispatcher, auditWriter, crmService)

	// Routes
	e.GET("/metrics", echo.WrapHandler(prometheus.Handler()))
	e.GET("/health", h.HealthCheck)

	api := e.Group("/api/v1", mid.AuthMiddleware(jwtUtil))
	h.Register(api)

	// Start server
	go func() {
		port := appConfig.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	scheduler.Stop(ctx)
	if err := database.Close(db); err != nil {
		log.Error("Failed to close database", zap.Error(err))
	}
}
