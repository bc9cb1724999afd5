package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/srtgame/config"
	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/monitor"
	"github.com/wfunc/srtgame/persistence"
	"github.com/wfunc/srtgame/server"
	"github.com/wfunc/srtgame/telemetry"
	"github.com/wfunc/srtgame/world"
)

func main() {
	// Initialize logger
	logger.Init("info")

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		logger.Log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	// Initialize Database
	var store persistence.MembershipStore
	if cfg.Store.Enabled {
		db, err := persistence.NewGormPostgreSQL(cfg.Store.Postgres.DSN())
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = db
		logger.Log.Info("Database connection successful.")
	}

	// Initialize Game Server
	gameServer, err := server.NewGameServer(cfg, server.Options{
		Presenter: world.LogPresenter{},
		Store:     store,
		Monitor:   monitor.NewMonitor(cfg.Monitor.Namespace),
	})
	if err != nil {
		logger.Log.Fatalf("Failed to create server: %v", err)
	}

	// Start Server
	logger.Log.Infof("Starting game server against %s", cfg.Broker.URL)
	if err := gameServer.Start(ctx); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}

	select {
	case <-ctx.Done():
		logger.Log.Info("Shutdown signal received")
	case <-gameServer.Done():
		logger.Log.Error("Command link stopped, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("Shutdown: %v", err)
	}
}
