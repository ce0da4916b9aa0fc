/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fulfillment engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Open the store for the configured driver
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start the offer sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -driver  memory | sqlite | postgres
  -db      SQLite database path, ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/fulfillment.db"

  # Run against Postgres
  FULFILLMENT_POSTGRES_DSN=postgres://localhost/fulfillment ./server -driver=postgres

  # Run with nothing persisted
  ./server -driver=memory

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/sweeper.go: Expired offer release
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/fulfillment-engine/api"
	"github.com/warp/fulfillment-engine/config"
	"github.com/warp/fulfillment-engine/generic"
	"github.com/warp/fulfillment-engine/generic/store"
	"github.com/warp/fulfillment-engine/store/postgres"
	"github.com/warp/fulfillment-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.Driver, "Store driver: memory, sqlite or postgres")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.Driver, cfg.DBPath = *port, *driver, *dbPath
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	st, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	// Initialize handler
	handler, err := api.NewHandler(st, api.Options{
		ConfirmSecret:   cfg.ConfirmSecret,
		ConfirmTTL:      cfg.ConfirmTTL,
		ReferralPercent: &cfg.ReferralPercent,
		ResponseWindow:  cfg.ResponseWindow,
		Retry:           api.RetryPolicy{MaxTries: cfg.RetryMaxTries},
	})
	if err != nil {
		log.Fatalf("Failed to create handler: %v", err)
	}

	// Create router
	router, err := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
	})
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}

	// Start sweeper
	sweeper := api.NewSweeper(handler)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Enabled = cfg.SweepInterval > 0
	sweeper.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d (%s store)", cfg.Port, cfg.Driver)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (generic.TxStore, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewTxMemory(), func() error { return nil }, nil
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}
