package utils

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/config"
	"koi-auction/pkg/logger"
)

func InitializeRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info("Connected to Redis", "address", cfg.Address)
	return client, nil
}
