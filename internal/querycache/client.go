package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"koi-auction/internal/domain"
	"koi-auction/internal/observability"
	"koi-auction/pkg/logger"
)

var ErrNoFetcher = errors.New("no fetcher registered for query")

// Fetcher loads the authoritative value for key from the remote API.
type Fetcher func(ctx context.Context, key domain.QueryKey) ([]byte, error)

type Client struct {
	store        Store
	publisher    domain.InvalidationPublisher
	origin       string
	fetchTimeout time.Duration
	log          logger.Logger

	group singleflight.Group

	mu       sync.Mutex
	fetchers map[string]Fetcher
	inflight map[string]inflightFetch

	// serializes read-modify-write patches on this instance
	patchMu sync.Mutex
}

type inflightFetch struct {
	key    domain.QueryKey
	cancel context.CancelFunc
}

type ClientOption func(*Client)

// WithPublisher fans local invalidations out to other gateway instances.
func WithPublisher(publisher domain.InvalidationPublisher, origin string) ClientOption {
	return func(c *Client) {
		c.publisher = publisher
		c.origin = origin
	}
}

func WithFetchTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func NewClient(store Store, log logger.Logger, opts ...ClientOption) *Client {
	c := &Client{
		store:        store,
		fetchTimeout: 10 * time.Second,
		log:          log,
		fetchers:     make(map[string]Fetcher),
		inflight:     make(map[string]inflightFetch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds a fetcher to every key whose first segment is root.
func (c *Client) Register(root string, fetcher Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[root] = fetcher
}

// Query serves key from the store while it is fresh and refetches it otherwise.
// Concurrent callers for the same key share one remote call.
func (c *Client) Query(ctx context.Context, key domain.QueryKey) ([]byte, error) {
	snap, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if snap.Fresh() {
		return snap.Data, nil
	}

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.fetch(key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		return append([]byte(nil), data...), nil
	}
}

func (c *Client) fetch(key domain.QueryKey) ([]byte, error) {
	c.mu.Lock()
	fetcher, ok := c.fetchers[key.Root()]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}

	// Fetches outlive the first caller so that other waiters still get a result.
	fetchCtx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	token, err := c.store.BeginFetch(fetchCtx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to begin fetch: %w", err)
	}

	id := key.String()
	c.mu.Lock()
	c.inflight[id] = inflightFetch{key: key, cancel: cancel}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()

	data, fetchErr := fetcher(fetchCtx, key)
	if fetchErr != nil {
		if errors.Is(fetchErr, context.Canceled) {
			// Cancelled by CancelFetches; whatever the store holds now wins.
			if snap, err := c.store.Get(context.Background(), key); err == nil && snap.Present {
				return snap.Data, nil
			}
		}
		return nil, fetchErr
	}

	stored, err := c.store.CompleteFetch(context.Background(), token, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store fetch result: %w", err)
	}
	observability.RecordCacheFetch(key.Root(), stored)
	if !stored {
		c.log.Debug("Discarded superseded fetch", "key", id)
		if snap, err := c.store.Get(context.Background(), key); err == nil && snap.Present {
			return snap.Data, nil
		}
	}
	return data, nil
}

// CancelFetches stops in-flight reads of each key (and of keys beneath it) from landing.
func (c *Client) CancelFetches(ctx context.Context, keys ...domain.QueryKey) error {
	for _, key := range keys {
		if err := c.store.CancelFetches(ctx, key); err != nil {
			return fmt.Errorf("failed to cancel fetches for %s: %w", key, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.inflight {
		for _, key := range keys {
			if f.key.HasPrefix(key) {
				f.cancel()
				break
			}
		}
	}
	return nil
}

func (c *Client) Snapshot(ctx context.Context, key domain.QueryKey) (Snapshot, error) {
	return c.store.Get(ctx, key)
}

func (c *Client) Set(ctx context.Context, key domain.QueryKey, data []byte) error {
	return c.store.Set(ctx, key, data)
}

// ApplyPatch rewrites the cached value of p.Key. Missing keys are left alone.
func (c *Client) ApplyPatch(ctx context.Context, p Patch) (bool, error) {
	c.patchMu.Lock()
	defer c.patchMu.Unlock()

	snap, err := c.store.Get(ctx, p.Key)
	if err != nil {
		return false, err
	}
	if !snap.Present {
		return false, nil
	}

	data, err := p.Apply(snap.Data)
	if err != nil {
		return false, fmt.Errorf("failed to patch %s: %w", p.Key, err)
	}
	return c.store.SetIfPresent(ctx, p.Key, data)
}

func (c *Client) Restore(ctx context.Context, snap Snapshot) error {
	c.patchMu.Lock()
	defer c.patchMu.Unlock()
	return c.store.Restore(ctx, snap)
}

// Invalidate marks every entry under keys stale and tells the other instances.
// Invalidating an entry that is already stale is a no-op.
func (c *Client) Invalidate(ctx context.Context, keys ...domain.QueryKey) (int, error) {
	total, err := c.invalidateLocal(ctx, keys)
	if err != nil {
		return total, err
	}
	observability.RecordCacheInvalidation("local", total)

	if c.publisher != nil && len(keys) > 0 {
		if err := c.publisher.PublishInvalidation(ctx, c.origin, keys); err != nil {
			c.log.Warn("Failed to publish invalidation", "keys", domain.JoinQueryKeys(keys), "error", err)
		}
	}
	return total, nil
}

// ApplyRemoteInvalidation handles an invalidation published by another instance.
func (c *Client) ApplyRemoteInvalidation(ctx context.Context, origin string, keys []domain.QueryKey) error {
	if origin != "" && origin == c.origin {
		return nil
	}
	total, err := c.invalidateLocal(ctx, keys)
	observability.RecordCacheInvalidation("remote", total)
	return err
}

func (c *Client) invalidateLocal(ctx context.Context, keys []domain.QueryKey) (int, error) {
	total := 0
	for _, key := range keys {
		n, err := c.store.Invalidate(ctx, key)
		if err != nil {
			return total, fmt.Errorf("failed to invalidate %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}
