package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"form-webhook-sync/config"
	"form-webhook-sync/internal/models"
	"form-webhook-sync/internal/queue"
	"form-webhook-sync/internal/storage"
	"form-webhook-sync/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MongoDB.URI == "" {
		logger.Fatalf("MONGODB_URI is required for the sync worker")
	}

	// Initialize MongoDB connection
	mongoClient, err := storage.Connect(ctx, cfg.MongoDB.URI, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	db, err := storage.NewMongoDB(ctx, mongoClient, cfg.MongoDB.Database, cfg.MongoDB.Collection, logger.Desugar())
	if err != nil {
		logger.Fatalf("Failed to prepare sync collection: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Errorf("Failed to disconnect from MongoDB: %v", err)
		}
	}()

	// Notices are optional; the poll ticker alone keeps the sink current
	var notices <-chan models.SubmissionNotice
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, logger.Desugar())
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbit.Close()
		rabbit.StartMetricsUpdater(ctx)

		notices, err = rabbit.Consume(ctx, "form-sync-worker")
		if err != nil {
			logger.Fatalf("Failed to consume notices: %v", err)
		}
	}

	api := worker.NewSyncClient(cfg.Sync.APIURL, 30*time.Second)
	w := worker.NewWorker(api, db, logger.Desugar(), cfg.Sync.BatchSize, cfg.Sync.PollInterval)

	logger.Infof("Worker started, pulling from %s every %s", cfg.Sync.APIURL, cfg.Sync.PollInterval)
	w.Run(ctx, notices)
	logger.Info("Worker shutting down")
}
