package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SerOes/instaai-sub001/internal/config"
	"github.com/SerOes/instaai-sub001/internal/handlers"
	"github.com/SerOes/instaai-sub001/internal/middleware"
	"github.com/SerOes/instaai-sub001/internal/models"
	"github.com/SerOes/instaai-sub001/internal/observability"
	"github.com/SerOes/instaai-sub001/internal/services"
	"github.com/SerOes/instaai-sub001/pkg/platform"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

const version = "v1.0.0"

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("tracing setup failed: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.Account{}, &models.Channel{}, &models.Conversation{},
		&models.DirectMessage{}, &models.AutomationSettings{}, &models.AutomationRun{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Provider with circuit breaker.
	var breaker *services.CircuitBreaker
	if cb := cfg.Automation.CircuitBreaker; cb.Enabled {
		breaker = services.NewCircuitBreaker(services.BreakerConfig{
			MaxFailures:     cb.MaxFailures,
			ResetTimeout:    cb.ResetTimeout,
			HalfOpenMaxReqs: cb.HalfOpenMaxReqs,
		})
	}
	provider := services.NewOpenAIProvider(
		cfg.AI.OpenAI.APIKey, cfg.AI.OpenAI.BaseURL, cfg.AI.OpenAI.Model,
		cfg.AI.OpenAI.Timeout, breaker, appLogger,
	)

	var deliverer services.Deliverer
	if cfg.Platform.Enabled {
		deliverer = platform.NewClient(&platform.Config{
			BaseURL:     cfg.Platform.BaseURL,
			AccessToken: cfg.Platform.AccessToken,
			Timeout:     cfg.Platform.Timeout,
			MaxRetries:  cfg.Platform.MaxRetries,
			RetryDelay:  time.Second,
		}, appLogger)
	}

	settingsService := services.NewSettingsService(db, appLogger)
	conversationService := services.NewConversationService(db, appLogger)
	messageService := services.NewMessageService(db, appLogger)
	classifier := services.NewClassifier(provider, appLogger)
	composer := services.NewComposer(provider, cfg.AI.OpenAI.Model, cfg.AI.OpenAI.Timeout, appLogger)
	orchestrator := services.NewOrchestrator(
		db, settingsService, conversationService, messageService,
		classifier, composer, deliverer, appLogger,
	)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(db, provider, version, appLogger)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, handlers.NewMetricsHandler(version).GetMetrics)
	}

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		settingsHandler := handlers.NewSettingsHandler(settingsService, appLogger)
		conversationHandler := handlers.NewConversationHandler(conversationService, appLogger)
		messageHandler := handlers.NewMessageHandler(messageService, orchestrator, appLogger)
		aiHandler := handlers.NewAIHandler(orchestrator, classifier, composer, settingsService, provider, appLogger)

		channels := api.Group("", middleware.RequireResourcePermission("channels"))
		handlers.RegisterSettingsRoutes(channels, settingsHandler)

		conversations := api.Group("", middleware.RequireResourcePermission("conversations"))
		handlers.RegisterConversationRoutes(conversations, conversationHandler)

		messages := api.Group("", middleware.RequireResourcePermission("messages"))
		handlers.RegisterMessageRoutes(messages, messageHandler)

		ai := api.Group("", middleware.RequireResourcePermission("ai"))
		handlers.RegisterAIRoutes(ai, aiHandler)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}
	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orchestrator.Shutdown(ctx); err != nil {
		appLogger.Warnf("Pending deliveries did not finish: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Warnf("Tracing shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}
