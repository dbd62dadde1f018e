package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bookwell/service-booking/internal/application"
	"github.com/bookwell/service-booking/internal/config"
	bookingEvents "github.com/bookwell/service-booking/internal/events"
	"github.com/bookwell/service-booking/internal/handler"
	"github.com/bookwell/service-booking/internal/payment"
	"github.com/bookwell/service-booking/internal/repository"
	"github.com/bookwell/service-booking/pkg/auth"
	"github.com/bookwell/service-booking/pkg/database"
	"github.com/bookwell/service-booking/pkg/health"
	"github.com/bookwell/service-booking/pkg/kafka"
	"github.com/bookwell/service-booking/pkg/logger"
	"github.com/bookwell/service-booking/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "service-booking"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewWithOptions(cfg.AppEnv, logger.Options{
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	log = log.Named(serviceName)
	defer func() { _ = log.Sync() }()

	log.Info("starting service-booking",
		zap.String("port", cfg.Port),
	)

	// Connect to database
	db, err := database.Connect(cfg.DBConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.BookingModel{}, &repository.TransitionLogModel{}, &repository.OutboxModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(cfg.DBConfig.DatabaseURL(), cfg.MigrationsDir, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		cfg.JWTConfig.AccessTokenTTL,
		cfg.JWTConfig.RefreshTokenTTL,
	)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := application.NewMetrics(registry)

	// Initialize repositories and collaborators
	bookingRepo := repository.NewGormBookingRepository(db)
	historyRepo := repository.NewGormTransitionLogRepository(db)
	outboxRepo := repository.NewGormOutboxRepository(db)
	paymentGateway := payment.NewHTTPGateway(payment.Config{
		BaseURL:     cfg.Payment.BaseURL,
		APIKey:      cfg.Payment.APIKey,
		Timeout:     cfg.Payment.Timeout,
		MaxAttempts: cfg.Payment.MaxAttempts,
	}, log)
	notifier := bookingEvents.NewKafkaNotifier(kafkaProducer)
	clock := application.SystemClock{}

	// Initialize the booking lifecycle
	lifecycle := application.NewLifecycle(
		bookingRepo,
		paymentGateway,
		notifier,
		outboxRepo,
		clock,
		log,
		application.WithPublisher(bookingEvents.NewKafkaTransitionPublisher(kafkaProducer)),
		application.WithMetrics(metrics),
		application.WithCommitAttempts(cfg.Lifecycle.CommitAttempts),
	)

	// Initialize application service
	bookingService := application.NewBookingService(
		bookingRepo,
		historyRepo,
		lifecycle,
		paymentGateway,
		kafkaProducer,
		clock,
		cfg.DefaultCurrency,
		log,
	)

	sweeper := application.NewExpirySweeper(bookingRepo, lifecycle, clock, application.SweeperConfig{
		Interval:  cfg.Lifecycle.SweepInterval,
		BatchSize: cfg.Lifecycle.SweepBatchSize,
		Workers:   cfg.Lifecycle.SweepWorkers,
	}, metrics, log)

	relay := application.NewOutboxRelay(outboxRepo, paymentGateway, notifier, clock, application.RelayConfig{
		Interval:    cfg.Lifecycle.OutboxInterval,
		BatchSize:   cfg.Lifecycle.OutboxBatchSize,
		Workers:     cfg.Lifecycle.OutboxWorkers,
		MaxAttempts: cfg.Lifecycle.OutboxMaxAttempts,
		Lease:       cfg.Lifecycle.OutboxLease,
	}, metrics, log)

	// Start background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup

	groupID := cfg.KafkaConfig.GroupPrefix + "booking-service"
	paymentConsumer := bookingEvents.NewPaymentEventConsumer(
		cfg.KafkaConfig.Brokers,
		groupID,
		bookingService,
		log,
	)
	defer func() { _ = paymentConsumer.Close() }()

	runWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			log.Info("starting " + name)
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(name+" error", zap.Error(err))
			}
		}()
	}
	runWorker("payment event consumer", paymentConsumer.Start)
	runWorker("expiry sweeper", sweeper.Run)
	runWorker("outbox relay", relay.Run)

	// Initialize HTTP handlers
	bookingHandler := handler.NewBookingHandler(bookingService)
	adminBookingHandler := handler.NewAdminBookingHandler(bookingService, sweeper, outboxRepo)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check and metrics routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	// Register routes
	bookingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	adminBookingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down service-booking...")

	// Stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}
	workers.Wait()

	log.Info("service-booking stopped")
}
