package router

import (
	"net/http"

	"form-webhook-sync/api/handlers"
	"form-webhook-sync/api/middleware"
	"form-webhook-sync/config"
	"form-webhook-sync/internal/objectstore"
	"form-webhook-sync/internal/service"
	"form-webhook-sync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Service *service.WebhookService
	Objects objectstore.Store
	Signer  *objectstore.Signer
}

func Setup(logger *logger.Logger, deps Deps, cfg *config.Config) *gin.Engine {
	log := logger.Desugar()
	router := gin.New()

	security := middleware.NewSecurityMiddleware(log)

	// Apply global middleware
	router.Use(gin.Recovery(), security.RequestLogger(), security.CORS())

	health := handlers.NewHealthHandler(deps.Service)
	router.GET("/", health.Index)
	router.GET("/health", health.Health)

	metricsPath := cfg.Monitoring.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	webhook := handlers.NewWebhookHandler(log, deps.Service,
		handlers.NewRateLimiter(cfg.RateLimit.PerMinute), cfg.Limits.MaxRequestSize)

	// Form builders probe the URL before saving a webhook
	router.GET("/webhook", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Webhook endpoint is ready",
		})
	})
	router.POST("/webhook", webhook.HandleWebhook)

	sync := handlers.NewSyncHandler(log, deps.Service)
	router.GET("/get-unprocessed", sync.GetUnprocessed)
	router.POST("/mark-processed", sync.MarkProcessed)
	router.GET("/stats", sync.Stats)
	router.GET("/submissions/:id", sync.GetSubmission)

	files := handlers.NewFilesHandler(log, deps.Objects, deps.Signer)
	router.GET(objectstore.FilesRoute+"*path", files.Download)

	debug := handlers.NewDebugHandler(log, deps.Service, cfg.IsDevelopment())
	router.POST("/debug/reset", debug.Reset)

	log.Info("Router configured",
		zap.String("environment", cfg.Server.Environment),
		zap.Int("rate_limit_per_minute", cfg.RateLimit.PerMinute),
		zap.Int64("max_request_size", cfg.Limits.MaxRequestSize),
	)

	return router
}
