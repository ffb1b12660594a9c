package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu     sync.Mutex
	origin string
	keys   [][]domain.QueryKey
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, origin string, keys []domain.QueryKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.origin = origin
	p.keys = append(p.keys, keys)
	return nil
}

func TestClient_QueryServesFreshEntries(t *testing.T) {
	ctx := context.Background()
	client := NewClient(NewMemoryStore(), logger.NewNop())

	var calls int32
	client.Register("allAuctions", func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`["server"]`), nil
	})

	data, err := client.Query(ctx, domain.AllAuctionsKey())
	require.NoError(t, err)
	assert.Equal(t, `["server"]`, string(data))

	_, err = client.Query(ctx, domain.AllAuctionsKey())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_QueryUnknownRoot(t *testing.T) {
	client := NewClient(NewMemoryStore(), logger.NewNop())
	_, err := client.Query(context.Background(), domain.KoiDataKey())
	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestClient_ConcurrentStaleReadsFetchOnce(t *testing.T) {
	ctx := context.Background()
	client := NewClient(NewMemoryStore(), logger.NewNop())
	require.NoError(t, client.Set(ctx, domain.KoiDataKey(), []byte(`["cached"]`)))

	var calls int32
	release := make(chan struct{})
	client.Register("koiData", func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(`["server"]`), nil
	})

	_, err := client.Invalidate(ctx, domain.KoiDataKey())
	require.NoError(t, err)
	n, err := client.Invalidate(ctx, domain.KoiDataKey())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := client.Query(ctx, domain.KoiDataKey())
			if err == nil {
				results[i] = string(data)
			}
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, `["server"]`, r)
	}
}

func TestClient_CancelFetchesKeepsPatch(t *testing.T) {
	ctx := context.Background()
	client := NewClient(NewMemoryStore(), logger.NewNop())
	key := domain.AllAuctionsKey()
	require.NoError(t, client.Set(ctx, key, []byte(`[{"status":"STARTED"}]`)))
	_, err := client.Invalidate(ctx, key)
	require.NoError(t, err)

	started := make(chan struct{})
	client.Register("allAuctions", func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan []byte)
	go func() {
		data, _ := client.Query(ctx, key)
		done <- data
	}()
	<-started

	require.NoError(t, client.CancelFetches(ctx, key))
	ok, err := client.ApplyPatch(ctx, Patch{Key: key, Apply: func([]byte) ([]byte, error) {
		return []byte(`[{"status":"CANCELLED"}]`), nil
	}})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("query did not return after cancel")
	}

	snap, err := client.Snapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[{"status":"CANCELLED"}]`, string(snap.Data))
	assert.False(t, snap.Stale)
}

func TestClient_InvalidateDuringFetchRefetches(t *testing.T) {
	ctx := context.Background()
	client := NewClient(NewMemoryStore(), logger.NewNop())
	key := domain.KoiDataKey()

	var calls int32
	var server atomic.Value
	server.Store(`"old"`)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	client.Register("koiData", func(ctx context.Context, key domain.QueryKey) ([]byte, error) {
		value := server.Load().(string)
		if atomic.AddInt32(&calls, 1) == 1 {
			started <- struct{}{}
			<-release
		}
		return []byte(value), nil
	})

	done := make(chan []byte)
	go func() {
		data, _ := client.Query(ctx, key)
		done <- data
	}()
	<-started

	server.Store(`"new"`)
	_, err := client.Invalidate(ctx, key)
	require.NoError(t, err)
	close(release)
	assert.Equal(t, `"old"`, string(<-done))

	data, err := client.Query(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `"new"`, string(data))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ApplyPatchSkipsMissing(t *testing.T) {
	client := NewClient(NewMemoryStore(), logger.NewNop())
	ok, err := client.ApplyPatch(context.Background(), PatchJSON(domain.AllAuctionsKey(), func(a []domain.Auction) []domain.Auction {
		return nil
	}))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_InvalidatePublishesAndIgnoresOwnEcho(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	client := NewClient(NewMemoryStore(), logger.NewNop(), WithPublisher(pub, "gw-1"))
	require.NoError(t, client.Set(ctx, domain.KoiDataKey(), []byte(`[]`)))

	_, err := client.Invalidate(ctx, domain.KoiDataKey())
	require.NoError(t, err)
	require.Len(t, pub.keys, 1)
	assert.Equal(t, "gw-1", pub.origin)

	require.NoError(t, client.Set(ctx, domain.KoiDataKey(), []byte(`[]`)))
	require.NoError(t, client.ApplyRemoteInvalidation(ctx, "gw-1", []domain.QueryKey{domain.KoiDataKey()}))
	snap, _ := client.Snapshot(ctx, domain.KoiDataKey())
	assert.False(t, snap.Stale)

	require.NoError(t, client.ApplyRemoteInvalidation(ctx, "gw-2", []domain.QueryKey{domain.KoiDataKey()}))
	snap, _ = client.Snapshot(ctx, domain.KoiDataKey())
	assert.True(t, snap.Stale)
}

func TestPatchJSON(t *testing.T) {
	p := PatchJSON(domain.AllAuctionsKey(), func(list []domain.Auction) []domain.Auction {
		for i := range list {
			list[i].Status = domain.AuctionCancelled
		}
		return list
	})

	out, err := p.Apply([]byte(`[{"auction_id":"A1","status":"STARTED"}]`))
	require.NoError(t, err)
	list, err := Decode[[]domain.Auction](out)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.AuctionCancelled, list[0].Status)

	_, err = p.Apply([]byte(`not json`))
	assert.Error(t, err)
}
