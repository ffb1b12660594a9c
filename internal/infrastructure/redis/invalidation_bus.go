package redis

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

const invalidationChannel = "query_invalidations"

type invalidationMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// InvalidationBus carries cache invalidations between gateway instances.
type InvalidationBus struct {
	client *redis.Client
	log    logger.Logger
}

func NewInvalidationBus(client *redis.Client, log logger.Logger) *InvalidationBus {
	return &InvalidationBus{client: client, log: log}
}

func (b *InvalidationBus) PublishInvalidation(ctx context.Context, origin string, keys []domain.QueryKey) error {
	msg := invalidationMessage{Origin: origin, Keys: make([]string, 0, len(keys))}
	for _, k := range keys {
		msg.Keys = append(msg.Keys, k.String())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, invalidationChannel, data).Err()
}

func (b *InvalidationBus) SubscribeToInvalidations(ctx context.Context, handler domain.InvalidationHandler) error {
	pubsub := b.client.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	b.log.Info("Subscribed to query invalidations")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.log.Error("Failed to parse invalidation", "payload", msg.Payload, "error", err)
				continue
			}

			keys := make([]domain.QueryKey, 0, len(m.Keys))
			for _, k := range m.Keys {
				keys = append(keys, domain.ParseQueryKey(k))
			}
			if err := handler(m.Origin, keys); err != nil {
				b.log.Error("Failed to handle invalidation", "origin", m.Origin, "error", err)
			}

		case <-ctx.Done():
			b.log.Info("Invalidation subscriber stopped")
			return ctx.Err()
		}
	}
}
