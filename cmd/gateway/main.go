// Package main runs the gateway HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llm-gateway/config"
	"llm-gateway/internal/app"
	"llm-gateway/observability"
	"llm-gateway/repository"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		observability.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err)
	}

	observability.InitLoggerWithLevel(cfg.Logging.Format == "json" || cfg.IsProduction(),
		observability.ParseLevel(cfg.Logging.Level))
	observability.InitMetrics()

	ctx := context.Background()

	repo := &repository.Repository{}
	if cfg.HasDatabase() {
		if cfg.Database.Migrate {
			if err := repository.Migrate(ctx, cfg.Database.URL); err != nil {
				observability.Fatal("failed to migrate database", "error", err)
			}
		}
		repo, err = repository.NewRepository(ctx, cfg.Database.URL)
		if err != nil {
			observability.Fatal("failed to connect to database", "error", err)
		}
		observability.Info("connected to database")
	} else {
		observability.Warn("DATABASE_URL not set, every authenticated request will fail")
	}

	application, err := app.New(cfg, repo)
	if err != nil {
		observability.Fatal("failed to initialise gateway", "error", err)
	}
	application.Startup(ctx)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		observability.Info("starting gateway", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Fatal("server error", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Error("server forced to shutdown", "error", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		observability.Error("usage records lost during shutdown", "error", err)
	}
	observability.Info("gateway stopped")
}
