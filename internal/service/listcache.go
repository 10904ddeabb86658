package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// listCache caches public discovery listings in redis. Keys embed a version
// counter that mutations bump, so invalidation is one INCR instead of a key
// scan. A nil client disables caching entirely.
type listCache struct {
	client *redis.Client
	ttl    time.Duration
	verKey string
	log    zerolog.Logger
}

func newListCache(client *redis.Client, ttl time.Duration, verKey string, log zerolog.Logger) *listCache {
	return &listCache{client: client, ttl: ttl, verKey: verKey, log: log}
}

func (c *listCache) key(ctx context.Context, parts ...any) string {
	if c.client == nil {
		return ""
	}
	ver, err := c.client.Get(ctx, c.verKey).Int64()
	if err != nil && err != redis.Nil {
		return ""
	}
	key := fmt.Sprintf("%s:%d", c.verKey, ver)
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}

func (c *listCache) get(ctx context.Context, key string, out any) bool {
	if c.client == nil || key == "" {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *listCache) put(ctx context.Context, key string, val any) {
	if c.client == nil || key == "" {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("listing cache write failed")
	}
}

// bump invalidates every cached listing by moving the version forward.
func (c *listCache) bump(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, c.verKey).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", c.verKey).Msg("listing cache bump failed")
	}
}
