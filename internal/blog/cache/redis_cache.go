package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/restfulblog/restfulblog/internal/blog"
)

// versionTTL bounds how long a version counter outlives its last write. It
// must stay far above the duration of a single store read.
const versionTTL = 24 * time.Hour

// setIfVersion stores ARGV[1] under KEYS[1] only while KEYS[2] still holds
// the version the reader saw before going to the store.
var setIfVersion = redis.NewScript(`
local v = redis.call("GET", KEYS[2]) or "0"
if v ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RedisCache stores single posts as JSON under "<prefix><id>" with a TTL.
// Every write to a post bumps "<prefix><id>:v" so that a read which started
// before the write cannot put the old post back.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a post cache. Prefix defaults to "post:".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "post:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(id string) string {
	return r.prefix + id
}

func (r *RedisCache) versionKey(id string) string {
	return r.prefix + id + ":v"
}

// GetPost returns (nil, nil) on a cache miss.
func (r *RedisCache) GetPost(ctx context.Context, id string) (*blog.Post, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var p blog.Post
	if err := json.Unmarshal(b, &p); err != nil {
		// unreadable entry, drop it so the next read repopulates
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, nil
	}
	return &p, nil
}

// Version returns the write counter of id. A post never written through the
// cache is at version 0.
func (r *RedisCache) Version(ctx context.Context, id string) (int64, error) {
	v, err := r.client.Get(ctx, r.versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// SetPostIfVersion caches p unless a write to p.ID happened after version
// was read. It reports whether the entry was stored.
func (r *RedisCache) SetPostIfVersion(ctx context.Context, p *blog.Post, version int64) (bool, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	keys := []string{r.key(p.ID), r.versionKey(p.ID)}
	n, err := setIfVersion.Run(ctx, r.client, keys, b, strconv.FormatInt(version, 10), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the cached post and bumps its version in one transaction.
func (r *RedisCache) Invalidate(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, r.versionKey(id))
		pipe.PExpire(ctx, r.versionKey(id), versionTTL)
		pipe.Del(ctx, r.key(id))
		return nil
	})
	return err
}
