package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a read-through cache decorator over another Store.
// Events are immutable once written, so cached copies only go stale on
// marker updates, which invalidate the key.
type RedisCache struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps inner with a Redis hot cache at addr.
func NewRedisCache(inner Store, addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{inner: inner, client: rdb, ttl: ttl}
}

func cacheKey(hash string) string {
	return "event:" + hash
}

func (c *RedisCache) Put(ctx context.Context, ev *Event) error {
	if err := c.inner.Put(ctx, ev); err != nil {
		return err
	}
	c.set(ctx, ev)
	return nil
}

func (c *RedisCache) Get(ctx context.Context, hash string) (*Event, error) {
	raw, err := c.client.Get(ctx, cacheKey(hash)).Bytes()
	if err == nil {
		var ev Event
		if jerr := json.Unmarshal(raw, &ev); jerr == nil {
			return &ev, nil
		}
		// Corrupt cache entry; fall through to the store.
		c.client.Del(ctx, cacheKey(hash))
	} else if err != redis.Nil {
		return nil, fmt.Errorf("eventstore: redis get: %w", err)
	}

	ev, err := c.inner.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.set(ctx, ev)
	return ev, nil
}

// GetByContentHash always hits the inner store; the cache is keyed by
// event hash only.
func (c *RedisCache) GetByContentHash(ctx context.Context, contentHash string) (*Event, error) {
	ev, err := c.inner.GetByContentHash(ctx, contentHash)
	if err != nil {
		return nil, err
	}
	c.set(ctx, ev)
	return ev, nil
}

func (c *RedisCache) MarkProcessed(ctx context.Context, hash string, projected bool) error {
	if err := c.inner.MarkProcessed(ctx, hash, projected); err != nil {
		return err
	}
	c.client.Del(ctx, cacheKey(hash))
	return nil
}

func (c *RedisCache) MarkFailed(ctx context.Context, hash, reason string) error {
	if err := c.inner.MarkFailed(ctx, hash, reason); err != nil {
		return err
	}
	c.client.Del(ctx, cacheKey(hash))
	return nil
}

func (c *RedisCache) Close() error {
	_ = c.client.Close()
	return c.inner.Close()
}

func (c *RedisCache) set(ctx context.Context, ev *Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(ev.Hash), raw, c.ttl)
}

var _ Store = (*RedisCache)(nil)
