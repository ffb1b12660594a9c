package redis

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

const toastChannel = "admin_toasts"

type toastMessage struct {
	UserID string       `json:"user_id"`
	Toast  domain.Toast `json:"toast"`
}

// ToastBus hands toasts from the gateway to the notification service.
// An empty user id means every connected dashboard user.
type ToastBus struct {
	client *redis.Client
	log    logger.Logger
}

func NewToastBus(client *redis.Client, log logger.Logger) *ToastBus {
	return &ToastBus{client: client, log: log}
}

func (b *ToastBus) Notify(ctx context.Context, userID string, toast domain.Toast) error {
	data, err := json.Marshal(toastMessage{UserID: userID, Toast: toast})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, toastChannel, data).Err()
}

func (b *ToastBus) SubscribeToToasts(ctx context.Context, handler domain.ToastHandler) error {
	pubsub := b.client.Subscribe(ctx, toastChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	b.log.Info("Subscribed to admin toasts")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m toastMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Error("Failed to parse toast", "payload", msg.Payload, "error", err)
				continue
			}
			if err := handler(m.UserID, m.Toast); err != nil {
				b.log.Error("Failed to deliver toast", "user_id", m.UserID, "error", err)
			}

		case <-ctx.Done():
			b.log.Info("Toast subscriber stopped")
			return ctx.Err()
		}
	}
}
