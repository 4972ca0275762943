package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"form-webhook-sync/api/router"
	"form-webhook-sync/config"
	"form-webhook-sync/internal/mapping"
	"form-webhook-sync/internal/naming"
	"form-webhook-sync/internal/normalize"
	"form-webhook-sync/internal/objectstore"
	"form-webhook-sync/internal/offload"
	"form-webhook-sync/internal/queue"
	"form-webhook-sync/internal/service"
	"form-webhook-sync/internal/storage"
	"form-webhook-sync/internal/store"
	"form-webhook-sync/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger
	publisher     queue.Publisher
	folders       *mapping.FolderMappingService
	mongoClient   *mongo.Client
	cancel        context.CancelFunc
}

func NewServer(cfg *config.Config, logger *logger.Logger) (*Server, error) {
	log := logger.Desugar()
	ctx, cancel := context.WithCancel(context.Background())

	objects, mongoClient, err := newObjectStore(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, err
	}

	var publisher queue.Publisher = queue.NoopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.QueueName, log)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create rabbitmq publisher: %w", err)
		}
		rabbit.StartMetricsUpdater(ctx)
		publisher = rabbit
	} else {
		log.Info("No RabbitMQ URL configured, submission notices disabled")
	}

	folders := mapping.NewFolderMappingService(log)
	folders.LoadMapping(cfg.Offload.Folders, cfg.Offload.DefaultFolder)

	signer := objectstore.NewSigner(cfg.Storage.SigningSecret, cfg.Server.PublicURL)
	if cfg.Storage.SigningSecret == "" {
		log.Warn("No signing secret configured, signed URLs will not survive a restart")
	}

	pipeline := offload.NewPipeline(
		objects,
		objectstore.NewHTTPFetcher(cfg.Offload.FetchTimeout, cfg.Limits.MaxFileSize),
		signer,
		folders,
		offload.Config{
			MaxFileSize:       cfg.Limits.MaxFileSize,
			MaxRequestSize:    cfg.Limits.MaxRequestSize,
			AllowedExtensions: cfg.Limits.AllowedExtensions,
			Concurrency:       cfg.Offload.Concurrency,
			UploadTimeout:     cfg.Offload.UploadTimeout,
			FetchTimeout:      cfg.Offload.FetchTimeout,
			FileURLTTL:        cfg.Offload.FileURLTTL,
			Layout:            offload.Layout(cfg.Offload.Layout),
			UploadMarker:      cfg.Offload.UploadMarker,
		},
		log,
	)

	svc := service.NewWebhookService(service.Deps{
		Normalizer: normalize.NewNormalizer(log, normalize.WithUploadMarker(cfg.Offload.UploadMarker)),
		Pipeline:   pipeline,
		Store:      store.New(),
		Objects:    objects,
		Signer:     signer,
		Publisher:  publisher,
		Namer:      naming.NewNamer(),
	}, service.Config{
		FileURLTTL: cfg.Offload.FileURLTTL,
		ListURLTTL: cfg.Offload.ListURLTTL,
	}, log)

	r := router.Setup(logger, router.Deps{Service: svc, Objects: objects, Signer: signer}, cfg)

	// Create metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metricsServer: metricsServer,
		logger:        logger,
		publisher:     publisher,
		folders:       folders,
		mongoClient:   mongoClient,
		cancel:        cancel,
	}, nil
}

// newObjectStore returns the configured backend. The mongo client is nil for
// the memory backend.
func newObjectStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (objectstore.Store, *mongo.Client, error) {
	switch cfg.Storage.Backend {
	case config.BackendGridFS:
		if cfg.MongoDB.URI == "" {
			return nil, nil, fmt.Errorf("storage backend %q requires mongodb.uri", cfg.Storage.Backend)
		}
		client, err := storage.Connect(ctx, cfg.MongoDB.URI, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using GridFS object store",
			zap.String("database", cfg.MongoDB.Database),
			zap.String("bucket", cfg.MongoDB.Bucket))
		return objectstore.NewGridFSStore(client.Database(cfg.MongoDB.Database), cfg.MongoDB.Bucket, log), client, nil
	case config.BackendMemory, "":
		log.Warn("Using in-memory object store, attachments are lost on restart")
		return objectstore.NewMemoryStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Reload applies the hot-reloadable parts of a changed config.
func (s *Server) Reload(cfg *config.Config) {
	s.logger.SetLevel(cfg.LogLevel)
	s.folders.LoadMapping(cfg.Offload.Folders, cfg.Offload.DefaultFolder)
}

func (s *Server) Start() error {
	// Start metrics server in a goroutine
	go func() {
		s.logger.Info("Metrics server starting on port " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	// Start main HTTP server
	s.logger.Info("Server starting on " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Server shutting down")
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if mErr := s.metricsServer.Shutdown(ctx); mErr != nil {
		s.logger.Errorw("failed to stop metrics server", "error", mErr)
	}
	if pErr := s.publisher.Close(); pErr != nil {
		s.logger.Errorw("failed to close publisher", "error", pErr)
	}
	if s.mongoClient != nil {
		if dErr := s.mongoClient.Disconnect(ctx); dErr != nil {
			s.logger.Errorw("failed to disconnect from MongoDB", "error", dErr)
		}
	}
	return err
}
