package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"form-webhook-sync/config"
	"form-webhook-sync/internal/server"
	"form-webhook-sync/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	// Initialize server
	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize server: %v", err)
	}

	config.Watch(cfg, func(next *config.Config, err error) {
		if err != nil {
			logger.Errorf("Failed to reload configuration: %v", err)
			return
		}
		logger.Infof("Configuration reloaded, log level %q", next.LogLevel)
		srv.Reload(next)
	})

	// Start server
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Shutdown server
	if err := srv.Shutdown(); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
}
