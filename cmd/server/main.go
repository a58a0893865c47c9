package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tablesnipe/reservation-backend/internal/config"
	"github.com/tablesnipe/reservation-backend/internal/database"
	"github.com/tablesnipe/reservation-backend/internal/handlers"
	"github.com/tablesnipe/reservation-backend/internal/mailbox"
	"github.com/tablesnipe/reservation-backend/internal/notify"
	"github.com/tablesnipe/reservation-backend/internal/orchestrator"
	"github.com/tablesnipe/reservation-backend/internal/platform"
	"github.com/tablesnipe/reservation-backend/internal/platform/opentable"
	"github.com/tablesnipe/reservation-backend/internal/platform/resy"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TableSnipe Reservation Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Initialize repositories
	requestRepo := database.NewRequestRepository(db)
	subscriptionRepo := database.NewSubscriptionRepository(db)
	bookingRepo := database.NewBookingRepository(db)
	activityRepo := database.NewActivityLogRepository(db)

	// Initialize platform adapters
	resyClient := resy.NewClient(cfg.Resy, logger)
	openTableClient := opentable.NewClient(cfg.OpenTable, logger)

	platforms := platform.Registry{
		resyClient.Name(): resyClient,
	}
	if openTableClient.Enabled() {
		platforms[openTableClient.Name()] = openTableClient
		logger.Info("OpenTable automation sidecar enabled")
	}

	// Initialize the acquisition orchestrator
	orch := orchestrator.New(
		requestRepo,
		subscriptionRepo,
		activityRepo,
		platforms,
		cfg.Sniper,
		clock.New(),
		logger,
	)

	// Resume requests the previous process left mid-flight
	if err := orch.ResumeInFlight(); err != nil {
		logger.WithError(err).Error("Failed to resume in-flight requests")
	}

	// Initialize the notification pipeline
	router := notify.NewRouter(requestRepo, subscriptionRepo, activityRepo, orch, logger)

	var mailboxScheduler *mailbox.Scheduler
	if cfg.MailboxEnabled() {
		monitor := mailbox.NewMonitor(cfg.Mailbox, router, logger)
		mailboxScheduler = mailbox.NewScheduler(monitor, logger)
		if err := mailboxScheduler.Start(cfg.Mailbox.PollInterval); err != nil {
			logger.Fatalf("Failed to start mailbox monitor: %v", err)
		}
	} else {
		logger.Info("Mailbox monitoring disabled (no credentials configured)")
	}

	// Initialize handlers
	reservationHandler := handlers.NewReservationHandler(
		requestRepo,
		subscriptionRepo,
		bookingRepo,
		activityRepo,
		orch,
		resyClient,
		logger,
	)
	statusHandler := handlers.NewStatusHandler(requestRepo, bookingRepo, activityRepo, db, logger)

	// Initialize Gin router
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(cors.New(corsConfig))

	// Health check endpoint
	engine.GET("/health", statusHandler.HealthCheck)

	// API routes
	api := engine.Group("/api")
	{
		reservations := api.Group("/reservations")
		{
			reservations.POST("", reservationHandler.CreateReservation)
			reservations.GET("", reservationHandler.ListReservations)
			reservations.GET("/:id", reservationHandler.GetReservation)
			reservations.DELETE("/:id", reservationHandler.CancelReservation)
			reservations.POST("/:id/retry", reservationHandler.RetryReservation)
			reservations.POST("/:id/subscriptions", reservationHandler.CreateSubscription)
		}

		api.GET("/search/venues", reservationHandler.SearchVenues)
		api.GET("/status", statusHandler.GetStatus)
		api.GET("/bookings", statusHandler.ListBookings)
		api.GET("/activity", statusHandler.GetActivity)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if mailboxScheduler != nil {
		logger.Info("Stopping mailbox monitor...")
		mailboxScheduler.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
		} else {
			status := c.Writer.Status()
			if status >= 500 {
				entry.Error("Request completed with server error")
			} else if status >= 400 {
				entry.Warn("Request completed with client error")
			} else {
				entry.Info("Request completed successfully")
			}
		}
	}
}
