package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/domain"
	"koi-auction/internal/lock"
)

const lockPrefix = "lock:"

var acquireScript = redis.NewScript(`
	for i, k in ipairs(KEYS) do
		if redis.call('EXISTS', k) == 1 then
			return i
		end
	end
	for _, k in ipairs(KEYS) do
		redis.call('SET', k, ARGV[1], 'PX', ARGV[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	local released = 0
	for _, k in ipairs(KEYS) do
		if redis.call('GET', k) == ARGV[1] then
			redis.call('DEL', k)
			released = released + 1
		end
	end
	return released
`)

var extendScript = redis.NewScript(`
	for _, k in ipairs(KEYS) do
		if redis.call('GET', k) ~= ARGV[1] then
			return 0
		end
	end
	for _, k in ipairs(KEYS) do
		redis.call('PEXPIRE', k, ARGV[2])
	end
	return 1
`)

// RedisLocker is the cross-instance lock.Locker. Leases expire after ttl so a
// crashed gateway cannot hold an entity forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, owner string, keys ...string) (*lock.Lease, error) {
	keys = lock.Normalize(keys)
	lease := lock.NewLease(owner, keys)
	lease.TTL = l.ttl
	if len(keys) == 0 {
		return lease, nil
	}

	held, err := acquireScript.Run(ctx, l.client, redisLockKeys(keys), lease.Token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if held > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrLocked, keys[held-1])
	}
	return lease, nil
}

func (l *RedisLocker) Release(ctx context.Context, lease *lock.Lease) error {
	if lease == nil || len(lease.Keys) == 0 {
		return nil
	}
	return releaseScript.Run(ctx, l.client, redisLockKeys(lease.Keys), lease.Token).Err()
}

func (l *RedisLocker) Extend(ctx context.Context, lease *lock.Lease) error {
	if lease == nil || len(lease.Keys) == 0 {
		return nil
	}
	ok, err := extendScript.Run(ctx, l.client, redisLockKeys(lease.Keys), lease.Token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: lease %s expired", domain.ErrLocked, lease.Token)
	}
	return nil
}

func redisLockKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = lockPrefix + k
	}
	return out
}
