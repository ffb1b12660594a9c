package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"koi-auction/internal/config"
	"koi-auction/internal/domain"
	"koi-auction/internal/infrastructure/rabbitmq"
	redisinfra "koi-auction/internal/infrastructure/redis"
	"koi-auction/internal/infrastructure/websocket"
	"koi-auction/internal/services"
	"koi-auction/pkg/logger"
	"koi-auction/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting notification service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := utils.InitializeRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)
	wsHandler := websocket.NewNotificationHandler(connManager, log)
	toasts := redisinfra.NewToastBus(rdb, log)
	alerts := rabbitmq.NewAlertConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)

	router := mux.NewRouter()
	router.HandleFunc("/ws/notifications/{userID}", wsHandler.HandleConnection)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"service":   "notification-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Notifications.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return toasts.SubscribeToToasts(gctx, func(userID string, toast domain.Toast) error {
			return notifier.Notify(gctx, userID, toast)
		})
	})
	g.Go(func() error {
		return alerts.SubscribeToAlerts(gctx, func(alert domain.CompensationAlert) error {
			log.Warn("Compensation alert", "saga_id", alert.SagaID, "saga", alert.Saga,
				"step", alert.Step, "abandoned", alert.Abandoned)
			return notifier.Notify(gctx, "", services.AlertToast(alert))
		})
	})
	g.Go(func() error {
		log.Info("Starting notification server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down notification service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := connManager.CloseAll(); err != nil {
			log.Error("Failed to close websocket connections", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Notification service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Notification service stopped")
}
