/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the LocalSpot value-ledger server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from .env / environment
  2. Initialize structured logging
  3. Initialize SQLite store
  4. Wire the payment gateway and API handler
  5. Start server with graceful shutdown

CONFIGURATION (environment, see config/config.go):
  ADDR                       Listen address (default :8080)
  DB_PATH                    SQLite database path (":memory:" for tests)
  AUTH_SECRET                Bearer-token signing secret (required)
  STRIPE_SECRET_KEY          Provider API key (required)
  STRIPE_WEBHOOK_SECRET      Webhook signature secret
  STRIPE_PRICE_ID_*          Price ids per plan

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/localspot/localspot/api"
	"github.com/localspot/localspot/config"
	"github.com/localspot/localspot/identity"
	"github.com/localspot/localspot/payments"
	"github.com/localspot/localspot/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	provider := payments.NewStripeClient(cfg.ProviderSecretKey, "")
	gateway := payments.NewGateway(store, provider, cfg.PriceIDs)
	verifier := identity.NewHMACVerifier(cfg.AuthSecret)

	handler := api.NewHandler(store, gateway, verifier, cfg.ProviderWebhookSecret, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
