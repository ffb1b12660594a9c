package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
)

const (
	entryPrefix      = "querycache:entry:"
	generationPrefix = "querycache:gen:"
	indexKey         = "querycache:keys"
	fetchIndexKey    = "querycache:fetched"
)

// RedisQueryStore shares cached read-models between gateway instances. Each
// entry is a hash; generation counters live in plain keys.
type RedisQueryStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisQueryStore(client *redis.Client, ttl time.Duration) *RedisQueryStore {
	return &RedisQueryStore{client: client, ttl: ttl}
}

var setIfPresentScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'data', ARGV[1], 'stale', '0', 'updated_at', ARGV[2])
	redis.call('HINCRBY', KEYS[1], 'version', 1)
	if tonumber(ARGV[3]) > 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[3])
	end
	return 1
`)

var completeFetchScript = redis.NewScript(`
	local gen = redis.call('GET', KEYS[1]) or '0'
	if gen ~= ARGV[1] then
		return 0
	end
	redis.call('HSET', KEYS[2], 'data', ARGV[2], 'stale', '0', 'updated_at', ARGV[3])
	redis.call('HINCRBY', KEYS[2], 'version', 1)
	redis.call('SADD', KEYS[3], ARGV[4])
	if tonumber(ARGV[5]) > 0 then
		redis.call('PEXPIRE', KEYS[2], ARGV[5])
	end
	return 1
`)

var invalidateScript = redis.NewScript(`
	local prefix = ARGV[1]
	local function matches(k)
		return prefix == '' or k == prefix or string.sub(k, 1, string.len(prefix) + 1) == prefix .. ':'
	end
	for _, k in ipairs(redis.call('SMEMBERS', KEYS[2])) do
		if matches(k) then
			redis.call('INCR', ARGV[3] .. k)
		end
	end
	local count = 0
	for _, k in ipairs(redis.call('SMEMBERS', KEYS[1])) do
		if matches(k) then
			local entry = ARGV[2] .. k
			local stale = redis.call('HGET', entry, 'stale')
			if stale == false then
				redis.call('SREM', KEYS[1], k)
			elseif stale == '0' then
				redis.call('HSET', entry, 'stale', '1')
				count = count + 1
			end
		end
	end
	return count
`)

func (r *RedisQueryStore) Get(ctx context.Context, key domain.QueryKey) (querycache.Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, entryPrefix+key.String()).Result()
	if err != nil {
		return querycache.Snapshot{}, err
	}
	if len(fields) == 0 {
		return querycache.Snapshot{Key: key}, nil
	}

	version, _ := strconv.ParseUint(fields["version"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return querycache.Snapshot{
		Key:       key,
		Data:      []byte(fields["data"]),
		Present:   true,
		Stale:     fields["stale"] == "1",
		Version:   version,
		UpdatedAt: time.Unix(0, updated),
	}, nil
}

func (r *RedisQueryStore) Set(ctx context.Context, key domain.QueryKey, data []byte) error {
	return r.write(ctx, key, data, false)
}

func (r *RedisQueryStore) SetIfPresent(ctx context.Context, key domain.QueryKey, data []byte) (bool, error) {
	res, err := setIfPresentScript.Run(ctx, r.client, []string{entryPrefix + key.String()},
		string(data), r.nowArg(), r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisQueryStore) Restore(ctx context.Context, snap querycache.Snapshot) error {
	if !snap.Present {
		id := snap.Key.String()
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, entryPrefix+id)
			pipe.SRem(ctx, indexKey, id)
			return nil
		})
		return err
	}
	return r.write(ctx, snap.Key, snap.Data, snap.Stale)
}

func (r *RedisQueryStore) Invalidate(ctx context.Context, prefix domain.QueryKey) (int, error) {
	n, err := invalidateScript.Run(ctx, r.client, []string{indexKey, fetchIndexKey},
		prefix.String(), entryPrefix, generationPrefix).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisQueryStore) CancelFetches(ctx context.Context, key domain.QueryKey) error {
	return r.client.Incr(ctx, generationPrefix+key.String()).Err()
}

func (r *RedisQueryStore) BeginFetch(ctx context.Context, key domain.QueryKey) (querycache.FetchToken, error) {
	id := key.String()
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// tracked so that Invalidate can supersede the read
		pipe.SAdd(ctx, fetchIndexKey, id)
		get = pipe.Get(ctx, generationPrefix+id)
		return nil
	})
	if err != nil && err != redis.Nil {
		return querycache.FetchToken{}, err
	}
	gen, err := get.Uint64()
	if err != nil && err != redis.Nil {
		return querycache.FetchToken{}, err
	}
	return querycache.FetchToken{Key: key, Generation: gen}, nil
}

func (r *RedisQueryStore) CompleteFetch(ctx context.Context, token querycache.FetchToken, data []byte) (bool, error) {
	id := token.Key.String()
	res, err := completeFetchScript.Run(ctx, r.client,
		[]string{generationPrefix + id, entryPrefix + id, indexKey},
		strconv.FormatUint(token.Generation, 10), string(data), r.nowArg(), id, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisQueryStore) write(ctx context.Context, key domain.QueryKey, data []byte, stale bool) error {
	id := key.String()
	staleFlag := "0"
	if stale {
		staleFlag = "1"
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, entryPrefix+id, "data", string(data), "stale", staleFlag, "updated_at", r.nowArg())
		pipe.HIncrBy(ctx, entryPrefix+id, "version", 1)
		pipe.SAdd(ctx, indexKey, id)
		if r.ttl > 0 {
			pipe.PExpire(ctx, entryPrefix+id, r.ttl)
		}
		return nil
	})
	return err
}

func (r *RedisQueryStore) nowArg() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
