package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"mintqueue-system/config"
	"mintqueue-system/handlers"
	"mintqueue-system/internal/ledger"
	"mintqueue-system/internal/wallet"
	_ "mintqueue-system/migrations"
	"mintqueue-system/monitoring"
	"mintqueue-system/security"
	"mintqueue-system/services"
	"mintqueue-system/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub
	var pn *pubnub.PubNub
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		pn = pubnub.NewPubNub(pnConfig)
	}

	// Initialize the ledger client and the operator wallet
	ledgerClient, err := newLedgerClient(cfg)
	if err != nil {
		return err
	}
	operator, err := newOperatorSigner(cfg)
	if err != nil {
		return err
	}
	slog.Info("operator wallet ready", "address", operator.Address())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	store := services.NewPBMirrorStore(app)
	queueService := services.NewQueueService(redisClient, pn, ledgerClient, operator, store, cfg)
	minter := &services.LedgerMinter{Ledger: ledgerClient, Operator: operator}
	triggerService := services.NewTriggerService(redisClient, pn, ledgerClient, store, minter, queueService, cfg)
	refundService := services.NewRefundService(redisClient, pn, ledgerClient, store, queueService, cfg)

	// Initialize handlers
	queueHandler := handlers.NewQueueHandler(app, queueService)
	triggerHandler := handlers.NewTriggerHandler(app, triggerService)
	refundHandler := handlers.NewRefundHandler(app, refundService)
	adminHandler := handlers.NewAdminHandler(app, queueService, redisClient)

	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Monitoring
	if cfg.EnableMetrics {
		monitoring.NewMonitor(ctx, redisClient)
		go serveMetrics(cfg.MetricsPort)
	}

	// Start background tasks
	go queueService.WatchExpiredWindows(ctx)

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Mirror rows stranded by a crashed fan-out must not look in-flight
		// forever.
		queueService.ReconcileMirror(ctx)

		// Queue endpoints
		e.Router.POST("/api/v1/queue/deploy", queueHandler.Deploy)
		e.Router.GET("/api/v1/queue/status", queueHandler.GetStatus)
		e.Router.POST("/api/v1/queue/join", rateLimiter.Limit(30, time.Minute, rateLimiter.SuspiciousAgentGuard(queueHandler.BuildJoin)))
		e.Router.PUT("/api/v1/queue/join", rateLimiter.Limit(30, time.Minute, rateLimiter.SuspiciousAgentGuard(queueHandler.SubmitJoin)))

		// Trigger endpoints
		e.Router.POST("/api/v1/queue/trigger", rateLimiter.Limit(10, time.Minute, triggerHandler.BuildTrigger))
		e.Router.PUT("/api/v1/queue/trigger", triggerHandler.ExecuteTrigger)

		// Refund endpoints
		e.Router.POST("/api/v1/queue/refund", refundHandler.BuildRefund)
		e.Router.PUT("/api/v1/queue/refund", refundHandler.SubmitRefund)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-dashboard", adminHandler.GetQueueDashboard)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			if _, err := ledgerClient.SuggestedParams(e.Request.Context()); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func newLedgerClient(cfg *config.Config) (ledger.Client, error) {
	switch cfg.LedgerMode {
	case "memory":
		return ledger.NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger mode %q", cfg.LedgerMode)
	}
}

func newOperatorSigner(cfg *config.Config) (wallet.Signer, error) {
	if cfg.OperatorSeed != "" {
		return wallet.NewLocalSignerFromSeed(cfg.OperatorSeed)
	}
	// Development fallback: an ephemeral operator wallet per process.
	return wallet.NewLocalSigner()
}

// serveMetrics exposes Prometheus metrics on a separate port.
func serveMetrics(port string) {
	metricsApp := echo.New()
	metricsApp.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: metricsApp,
	}
	log.Printf("Metrics server listening on :%s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
