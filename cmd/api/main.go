// Command api is the DailyDeed scheduler API server.
//
// It runs the full long-lived service: the periodic assignment/notification
// scheduler, the completion-event listener, the maintenance tickers, and an
// HTTP API for stats, catalog, and manual scheduler control.
//
// Usage:
//
//	dailydeed-api
//	API_PORT=8080 dailydeed-api

// @title DailyDeed Scheduler API
// @version 1.0
// @description Daily deed assignment and notification fan-out service.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name DailyDeed
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/dailydeed/dailydeed-scheduler/internal/api"
	"github.com/dailydeed/dailydeed-scheduler/internal/cache"
	"github.com/dailydeed/dailydeed-scheduler/internal/config"
	"github.com/dailydeed/dailydeed-scheduler/internal/db"
	"github.com/dailydeed/dailydeed-scheduler/internal/listener"
	"github.com/dailydeed/dailydeed-scheduler/internal/maintenance"
	"github.com/dailydeed/dailydeed-scheduler/internal/push"
	"github.com/dailydeed/dailydeed-scheduler/internal/scheduler"

	_ "github.com/dailydeed/dailydeed-scheduler/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Push sender (nil when FCM is not configured; fan-out is skipped)
	var sender push.Multicast
	if fcm := push.NewFCMSender(cfg.FCMCredentialsFile, logger); fcm != nil {
		sender = fcm
	} else {
		logger.Info("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE)")
	}

	// Periodic scheduler: evaluates eligibility and fans out notifications
	// every trigger interval.
	sched := scheduler.New(pool.Pool, cfg, sender, logger)
	go sched.Start(ctx)

	// LISTEN/NOTIFY consumer for deed completion events
	go listener.Start(ctx, cfg.DatabaseURL, pool.Pool, logger)

	// Maintenance tickers (attempt cleanup, day-counter reset, reconcile)
	go maintenance.Start(ctx, pool.Pool, maintenance.DefaultConfig(cfg.CounterResetZone), logger)

	// Create router
	router := api.NewRouter(pool.Pool, appCache, cfg, sched, logger)

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
		logger.Info("Starting DailyDeed Scheduler API",
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
