// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"settlement-service/config"
	"settlement-service/internal/app"
	"settlement-service/internal/handler"
	"settlement-service/internal/middleware"
	"settlement-service/internal/router"
	"settlement-service/internal/worker"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting settlement service")

	// Load configuration
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize dependencies", zap.Error(err))
	}
	defer a.Close()

	// Usage retry worker
	retryWorker := worker.NewUsageRetryWorker(a.Biller, cfg.Usage.RetryInterval, logger)
	go retryWorker.Start(ctx)

	// Initialize handlers
	handlers := router.Handlers{
		Payments:   handler.NewPaymentHandler(a.Settlement, cfg.Server.FrontendURL, logger),
		Wallet:     handler.NewWalletHandler(a.Ledger, a.Refunds, a.Notifier, logger),
		Usage:      handler.NewUsageHandler(a.Biller, logger),
		Backoffice: handler.NewBackofficeHandler(a.Backoffice, a.Refunds, a.Catalog, logger),
	}
	auth := middleware.NewAuthenticator(cfg.Auth, logger)

	// Setup routes
	r := router.SetupRoutes(handlers, auth, a.Biller, a.Ping, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("settlement service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env),
		zap.Int("providers", len(a.Providers.Available())))

	<-ctx.Done()

	logger.Info("shutting down server...")
	retryWorker.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
