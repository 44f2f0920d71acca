// Package main runs the AugmentOS cloud connection and routing core: the
// websocket front-end for glasses and TPA sockets, session lifecycle,
// subscription routing, and TPA lifecycle control.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/augmentos/cloud/internal/analytics"
	"github.com/augmentos/cloud/internal/applifecycle"
	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/auth"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/httpmw"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/events"
	gateway "github.com/augmentos/cloud/internal/gateway/websocket"
	"github.com/augmentos/cloud/internal/heartbeat"
	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/internal/tracing"
	"github.com/augmentos/cloud/internal/userstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting AugmentOS cloud...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer closeBus()

	// App catalog. A missing seed file is tolerated in development; every
	// start and admit will then fail with app-not-found.
	var catalog appstore.Catalog
	if seeded, err := appstore.LoadSeed(cfg.AppStore.SeedPath); err != nil {
		log.Warn("App catalog seed not loaded, starting empty",
			zap.String("path", cfg.AppStore.SeedPath),
			zap.Error(err))
		catalog = appstore.NewMemoryCatalog()
	} else {
		catalog = seeded
	}

	users := userstore.NewMemory()
	tracker := analytics.NewBusTracker(eventBus, log)

	registry := session.NewRegistry(cfg, log, eventBus, session.Deps{Logger: log})
	defer registry.Shutdown()

	webhooks := applifecycle.NewWebhookClient(cfg.Webhook, log)
	lifecycle := applifecycle.NewController(cfg, log, catalog, users, webhooks, eventBus, tracker)

	monitor := heartbeat.NewMonitor(cfg.Heartbeat, log)
	router := gateway.NewRouter(log, nil)

	tokens := auth.NewCoreTokenValidator(cfg.Auth.CoreSecret)
	handler := gateway.NewHandler(cfg, log, registry, lifecycle, monitor, router, tokens, catalog, users)

	if os.Getenv("AUGMENTOS_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(log, "cloud"))
	engine.Use(httpmw.OtelTracing("cloud"))

	handler.RegisterRoutes(engine)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// No write timeout: websocket connections are long-lived and take
		// over the underlying transport after the upgrade.
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := monitor.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("Cloud listening",
			zap.String("addr", server.Addr),
			zap.String("glasses_ws", "/glasses-ws"),
			zap.String("tpa_ws", "/tpa-ws"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case <-gctx.Done():
		log.Error("Component failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	registry.Shutdown()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}

	log.Info("AugmentOS cloud stopped")
}
