package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisQueryStore(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestRedis(t)
	store := NewRedisQueryStore(client, time.Minute)
	key := domain.AllAuctionsKey()

	t.Run("missing key", func(t *testing.T) {
		snap, err := store.Get(ctx, domain.KoiKey("none"))
		require.NoError(t, err)
		assert.False(t, snap.Present)

		ok, err := store.SetIfPresent(ctx, domain.KoiKey("none"), []byte(`{}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set patch restore", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, []byte(`["server"]`)))
		before, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, before.Present)

		ok, err := store.SetIfPresent(ctx, key, []byte(`["patched"]`))
		require.NoError(t, err)
		require.True(t, ok)

		patched, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `["patched"]`, string(patched.Data))
		assert.Greater(t, patched.Version, before.Version)

		require.NoError(t, store.Restore(ctx, before))
		restored, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `["server"]`, string(restored.Data))
	})

	t.Run("invalidate by prefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, domain.AuctionKey("A1"), []byte(`1`)))
		require.NoError(t, store.Set(ctx, domain.AuctionKey("A2"), []byte(`2`)))
		require.NoError(t, store.Set(ctx, domain.NewQueryKey("auctionStats"), []byte(`3`)))

		n, err := store.Invalidate(ctx, domain.NewQueryKey("auction"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.Invalidate(ctx, domain.NewQueryKey("auction"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		stats, err := store.Get(ctx, domain.NewQueryKey("auctionStats"))
		require.NoError(t, err)
		assert.False(t, stats.Stale)
	})

	t.Run("fetch generations", func(t *testing.T) {
		k := domain.KoiDataKey()
		token, err := store.BeginFetch(ctx, k)
		require.NoError(t, err)
		require.NoError(t, store.CancelFetches(ctx, k))

		stored, err := store.CompleteFetch(ctx, token, []byte(`"old"`))
		require.NoError(t, err)
		assert.False(t, stored)

		token, err = store.BeginFetch(ctx, k)
		require.NoError(t, err)
		stored, err = store.CompleteFetch(ctx, token, []byte(`"fresh"`))
		require.NoError(t, err)
		assert.True(t, stored)

		snap, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, `"fresh"`, string(snap.Data))
		assert.False(t, snap.Stale)
	})

	t.Run("invalidate supersedes in-flight fetch", func(t *testing.T) {
		k := domain.KoiKey("K9")
		token, err := store.BeginFetch(ctx, k)
		require.NoError(t, err)

		_, err = store.Invalidate(ctx, domain.NewQueryKey("koi"))
		require.NoError(t, err)

		stored, err := store.CompleteFetch(ctx, token, []byte(`"old"`))
		require.NoError(t, err)
		assert.False(t, stored)

		snap, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, snap.Present)
	})
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second)

	lease, err := locker.Acquire(ctx, "m1", "koi:K1", "auction:A1")
	require.NoError(t, err)
	assert.Equal(t, []string{"auction:A1", "koi:K1"}, lease.Keys)

	_, err = locker.Acquire(ctx, "m2", "auction:A1")
	assert.ErrorIs(t, err, domain.ErrLocked)

	_, err = locker.Acquire(ctx, "m2", "auction:A2", "koi:K1")
	require.ErrorIs(t, err, domain.ErrLocked)
	assert.False(t, mr.Exists(lockPrefix+"auction:A2"))

	require.NoError(t, locker.Release(ctx, lease))
	_, err = locker.Acquire(ctx, "m2", "auction:A1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = locker.Acquire(ctx, "m3", "auction:A1")
	assert.NoError(t, err)
}

func TestRedisLocker_Extend(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second)

	lease, err := locker.Acquire(ctx, "m1", "auction:A1", "koi:K1")
	require.NoError(t, err)
	assert.Equal(t, time.Second, lease.TTL)

	mr.FastForward(700 * time.Millisecond)
	require.NoError(t, locker.Extend(ctx, lease))
	mr.FastForward(700 * time.Millisecond)

	_, err = locker.Acquire(ctx, "m2", "koi:K1")
	assert.ErrorIs(t, err, domain.ErrLocked, "extended lease still held")

	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, locker.Extend(ctx, lease), domain.ErrLocked)
}

func TestInvalidationBus(t *testing.T) {
	client, _ := newTestRedis(t)
	bus := NewInvalidationBus(client, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []domain.QueryKey
	done := make(chan error, 1)
	go func() {
		done <- bus.SubscribeToInvalidations(ctx, func(origin string, keys []domain.QueryKey) error {
			mu.Lock()
			defer mu.Unlock()
			if origin == "gw-1" {
				got = keys
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_ = bus.PublishInvalidation(ctx, "gw-1", []domain.QueryKey{domain.AllAuctionsKey(), domain.AuctionKey("A1")})
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, domain.AuctionKey("A1"), got[1])
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestToastBus(t *testing.T) {
	client, _ := newTestRedis(t)
	bus := NewToastBus(client, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan domain.Toast, 16)
	done := make(chan error, 1)
	go func() {
		done <- bus.SubscribeToToasts(ctx, func(userID string, toast domain.Toast) error {
			if userID == "admin-1" {
				received <- toast
			}
			return nil
		})
	}()

	toast := domain.Toast{Level: domain.ToastSuccess, Message: "Auction cancelled"}
	var first domain.Toast
	require.Eventually(t, func() bool {
		_ = bus.Notify(ctx, "admin-1", toast)
		select {
		case first = <-received:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "Auction cancelled", first.Message)
	cancel()
	<-done
}
