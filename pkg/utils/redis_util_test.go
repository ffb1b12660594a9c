package utils

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-auction/internal/config"
	"koi-auction/pkg/logger"
)

func TestInitializeRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	client, err := InitializeRedis(context.Background(), config.RedisConfig{Address: addr}, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = InitializeRedis(context.Background(), config.RedisConfig{Address: addr}, logger.NewNop())
	assert.Error(t, err)
}
