package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"churnguard/internal/config"
	"churnguard/internal/handlers"
	"churnguard/internal/middleware"
	"churnguard/internal/models"
	"churnguard/internal/observability"
	"churnguard/internal/services"
	"churnguard/pkg/posthog"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	var flagDSN string
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	flagSet.StringVar(&flagDSN, "dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides config database settings")
	_ = flagSet.Parse(os.Args[1:])

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := flagDSN
	if dsn == "" {
		dsn = buildDSN(cfg)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Integration{},
		&models.Trigger{}, &models.TriggerCondition{}, &models.TriggerLease{},
		&models.EmailTemplate{}, &models.AnalyticsSnapshot{},
		&models.TriggerExecution{}, &models.ChurnEvent{}, &models.DailyStats{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	sender, err := services.NewEmailSender(cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to init email sender: %v", err)
	}
	posthogClient := posthog.NewClient(&posthog.Config{
		BaseURL:    cfg.PostHog.BaseURL,
		APIKey:     cfg.PostHog.APIKey,
		ProjectID:  cfg.PostHog.ProjectID,
		Timeout:    cfg.PostHog.Timeout,
		MaxRetries: cfg.PostHog.MaxRetries,
	}, appLogger)

	triggerService := services.NewTriggerService(db, appLogger)
	pipelineService := services.NewPipelineService(db, appLogger, sender, cfg.Pipeline)
	pipelineService.UseSenderResolver(services.NewSenderResolver(db, cfg, appLogger, sender))
	batchService := services.NewBatchService(db, appLogger, pipelineService, cfg.Pipeline.TriggerConcurrency)
	analyticsService := services.NewAnalyticsService(db, appLogger, posthogClient, pipelineService)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddlewareWithConfig(cfg))
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		r.GET(cfg.Monitoring.MetricsPath, healthHandler.GetMetrics)
	}

	// Public webhook endpoint: signature-verified, no JWT.
	webhooks := r.Group("/webhooks")
	handlers.RegisterWebhookRoutes(webhooks, handlers.NewWebhookHandler(db, analyticsService, cfg.Stripe, appLogger))

	// Scheduler-facing batch entry point.
	internal := r.Group("/internal")
	internal.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterBatchRoutes(internal, handlers.NewBatchHandler(batchService, appLogger))

	// Dashboard API.
	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterTriggerRoutes(api, handlers.NewTriggerHandler(triggerService))
	handlers.RegisterTemplateRoutes(api, handlers.NewTemplateHandler(triggerService))
	handlers.RegisterAnalyticsRoutes(api, handlers.NewAnalyticsHandler(db, analyticsService, appLogger))

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

func buildDSN(cfg *config.Config) string {
	sslmode := cfg.Database.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
		cfg.Database.Name, cfg.Database.Port, sslmode)
}

// corsMiddlewareWithConfig applies the configured CORS policy.
func corsMiddlewareWithConfig(cfg *config.Config) gin.HandlerFunc {
	allowedOrigins := "*"
	allowedMethods := "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders := "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization"
	if cfg != nil && cfg.Security.CORS.Enabled {
		if len(cfg.Security.CORS.AllowedOrigins) > 0 {
			allowedOrigins = strings.Join(cfg.Security.CORS.AllowedOrigins, ", ")
		}
		if len(cfg.Security.CORS.AllowedMethods) > 0 {
			allowedMethods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
		}
		if len(cfg.Security.CORS.AllowedHeaders) > 0 {
			allowedHeaders = strings.Join(cfg.Security.CORS.AllowedHeaders, ", ")
		}
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
