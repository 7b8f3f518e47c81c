package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/outreach/config"
	"github.com/jordanlanch/outreach/pkg/abtest"
	"github.com/jordanlanch/outreach/pkg/api"
	"github.com/jordanlanch/outreach/pkg/api/handlers"
	"github.com/jordanlanch/outreach/pkg/automation"
	"github.com/jordanlanch/outreach/pkg/cache"
	"github.com/jordanlanch/outreach/pkg/database"
	"github.com/jordanlanch/outreach/pkg/emailtemplate"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/jobs"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/metrics"
	custommiddleware "github.com/jordanlanch/outreach/pkg/middleware"
	"github.com/jordanlanch/outreach/pkg/monitoring"
	"github.com/jordanlanch/outreach/pkg/sequence"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	appLog := logger.New(cfg.LogLevel)

	// Initialize Sentry for error tracking
	sentryEnabled := monitoring.Init(monitoring.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
	})
	if sentryEnabled {
		defer monitoring.Flush(2 * time.Second)
	}

	// Initialize database
	var sslCfg *database.SSLConfig
	if cfg.DBSSLMode != "" || cfg.DBSSLRootCert != "" {
		sslCfg = &database.SSLConfig{Mode: cfg.DBSSLMode, RootCertPath: cfg.DBSSLRootCert}
	}
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL, database.DefaultPoolConfig(cfg.DBDriver), sslCfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.New(db)
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("❌ Failed to migrate database: %v", err)
	}
	cancelMigrate()
	log.Printf("✅ Database schema ready")

	// Initialize Prometheus metrics
	prometheusMetrics := metrics.New()
	prometheusMetrics.WatchDB(db.Stats)
	log.Printf("✅ Prometheus metrics initialized")

	checks := []handlers.Check{{Name: "database", Ping: db.Ping}}

	engineOpts := []enrollment.Option{
		enrollment.WithStages(cfg.PipelineStages),
		enrollment.WithWithdrawOnStageExit(cfg.WithdrawOnStageExit),
		enrollment.WithObserver(prometheusMetrics),
		enrollment.WithLogger(appLog),
	}

	// Redis is optional; counts are computed from the store without it
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		engineOpts = append(engineOpts, enrollment.WithCountCache(cache.NewCountCache(redisClient, ttl, prometheusMetrics)))
		checks = append(checks, handlers.Check{Name: "redis", Ping: redisClient.Ping})
	} else {
		log.Printf("ℹ️  Redis disabled (no REDIS_URL configured)")
	}

	// Domain services
	engine := enrollment.NewEngine(st, st, engineOpts...)
	sequences := sequence.NewService(st,
		sequence.WithStages(cfg.PipelineStages),
		sequence.WithEnrollmentCloser(engine),
		sequence.WithLogger(appLog),
	)
	templates := emailtemplate.NewService(st, st, cfg.ProductName, appLog)
	variants := abtest.NewService(st)

	runner := automation.NewRunner(automation.Config{
		Engine:      engine,
		Contacts:    st,
		Templates:   st,
		Sink:        st,
		Reporter:    monitoring.NewSentryReporter(nil),
		Observer:    prometheusMetrics,
		ProductName: cfg.ProductName,
		Logger:      appLog,
	})

	// Evaluation scheduler
	scheduler := jobs.NewScheduler(runner, cfg.EvaluationSchedule, appLog)
	if err := scheduler.SetupJobs(); err != nil {
		log.Fatalf("❌ Failed to schedule evaluations: %v", err)
	}
	scheduler.Start()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer rateLimiter.Close()

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			appLog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if sentryEnabled {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // let Recover answer the request
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(rateLimiter.RateLimitMiddleware())

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", echo.WrapHandler(prometheusMetrics.Handler()))

	api.Register(e, api.Handlers{
		Sequences:   handlers.NewSequenceHandler(sequences, engine, appLog),
		Templates:   handlers.NewTemplateHandler(templates, variants),
		Contacts:    handlers.NewContactHandler(st, engine, appLog),
		Events:      handlers.NewEventHandler(st, engine, appLog),
		Enrollments: handlers.NewEnrollmentHandler(engine, appLog),
		Evaluations: handlers.NewEvaluationHandler(runner, appLog),
		Actions:     handlers.NewActionHandler(st),
		Health:      handlers.NewHealthHandler(checks...),
	}, cfg.JWTSecret)

	if cfg.JWTSecret == "" {
		log.Printf("⚠️  JWT_SECRET not set: /api/v1 is unauthenticated")
	}

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Outreach automation API starting on %s", address)
	log.Printf("📝 Log level: %s", cfg.LogLevel)
	log.Printf("🛡️  Rate limiting: %d req/min (burst: %d)", cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	log.Printf("⏰ Evaluation schedule: %s", cfg.EvaluationSchedule)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Let an in-flight tick finish before the database closes
	scheduler.Stop(ctx)
	log.Println("✅ Scheduler stopped")

	if err := e.Shutdown(ctx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
		return
	}

	log.Println("✅ Server gracefully stopped")
}
