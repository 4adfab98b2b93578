// Command api is the Danoggin notification service: HTTP probes plus the
// reminder worker, maintenance tickers and the check-in listener.
//
// Usage:
//
//	danoggin-notify
//	API_PORT=8080 STORE_BACKEND=firestore danoggin-notify

// @title Danoggin Notification Service
// @version 1.0.0
// @description Check-in reminders, observer alerts and device token health for Danoggin.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Danoggin
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danoggin/notify/internal/api"
	"github.com/danoggin/notify/internal/cache"
	"github.com/danoggin/notify/internal/config"
	"github.com/danoggin/notify/internal/listener"
	"github.com/danoggin/notify/internal/maintenance"
	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/platform"

	_ "github.com/danoggin/notify/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Connecting to store...", "backend", cfg.StoreBackend)
	svc, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	reporter := maintenance.NewReporter(svc.Store, logger, nil)
	var sweeper *maintenance.Sweeper

	if svc.Gateway != nil {
		opts := platform.DeliveryOptions(cfg)

		// Reminder worker
		reminders := notifications.NewReminders(svc.Store, svc.Gateway, opts, logger)
		go notifications.StartReminderWorker(ctx, reminders, cfg.ReminderInterval, logger)

		// Check-in trigger: Postgres NOTIFY or Pub/Sub, matching the store
		alerts := notifications.NewAlerts(svc.Store, svc.Gateway, opts, logger)
		switch cfg.StoreBackend {
		case config.BackendFirestore:
			psClient, err := svc.PubSub(ctx)
			if err != nil {
				logger.Error("Failed to open Pub/Sub", "error", err)
				os.Exit(1)
			}
			defer psClient.Close()
			go func() {
				if err := listener.Subscribe(ctx, psClient, cfg.CheckInSubscription, alerts, logger); err != nil {
					logger.Error("Check-in subscriber failed", "error", err)
				}
			}()
		default:
			go listener.Start(ctx, cfg.DatabaseURL, cfg.CheckInChannel, alerts, logger)
		}

		sweeper = maintenance.NewSweeper(svc.Store, svc.Gateway, platform.SweepOptions(cfg), logger)
	} else {
		logger.Info("Reminders, alerts and token sweep disabled (push not configured)")
	}

	// Maintenance tickers (token sweep, daily metrics + retention)
	go maintenance.Start(ctx, sweeper, reporter, maintenance.Config{
		SweepInterval:   cfg.SweepInterval,
		MetricsInterval: cfg.MetricsInterval,
	}, logger)

	// Create router
	router := api.NewRouter(svc.Store, svc.Gateway, appCache, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Danoggin notification service",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
