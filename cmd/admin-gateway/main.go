package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"koi-auction/internal/api/handlers"
	"koi-auction/internal/api/middleware"
	"koi-auction/internal/app"
	"koi-auction/internal/config"
	"koi-auction/internal/infrastructure/websocket"
	"koi-auction/internal/observability"
	"koi-auction/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting admin gateway", "instance_id", cfg.Instance.ID)

	observability.RegisterMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	gw, err := app.NewGateway(startCtx, cfg, log)
	startCancel()
	if err != nil {
		log.Error("Failed to start gateway", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			log.Error("Failed to close connections", "error", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(middleware.CORS(nil))

	handlers.RegisterRoutes(e.Group("/api/v1"), cfg.Auth.JWTSecret,
		handlers.NewQueryHandler(gw.Cache, log),
		handlers.NewMutationHandler(gw.Flows, gw.Phases, log),
		handlers.NewSagaHandler(gw.SagaLog, gw.Repair, log))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     "admin-gateway",
			"instance_id": cfg.Instance.ID,
			"timestamp":   time.Now().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Remote pushes and peer invalidations keep the cache honest.
	stream := websocket.NewRemoteEventStream(cfg.Remote.EventsURL, cfg.Remote.Token, log)
	go func() {
		if err := stream.SubscribeToEvents(ctx, gw.Events.HandleRemoteEvent); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Remote event stream stopped", "error", err)
		}
	}()
	go func() {
		if err := gw.Invalidations.SubscribeToInvalidations(ctx, gw.Events.HandleInvalidation); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Invalidation subscription stopped", "error", err)
		}
	}()

	if cfg.Repair.Enabled {
		if err := gw.Repair.Start(ctx); err != nil {
			log.Error("Failed to start repair scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Try to become leader
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			became, err := gw.Leader.BecomeLeader(ctx, cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
			} else if became {
				log.Info("Became repair leader", "instance_id", cfg.Instance.ID)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting admin gateway server", "address", serverAddr)
	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down admin gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cfg.Repair.Enabled {
		if err := gw.Repair.Stop(); err != nil {
			log.Error("Failed to stop repair scheduler", "error", err)
		}
	}
	if err := gw.Leader.ReleaseLeadership(shutdownCtx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Admin gateway stopped")
}
