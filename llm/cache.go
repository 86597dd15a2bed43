package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is the storage contract for response caching. Get returns ok=false
// on a miss; Set is write-through with the cache's TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CacheStats is a point-in-time counter snapshot, surfaced by the health
// endpoint.
type CacheStats struct {
	DistributedHits   int64 `json:"distributed_hits"`
	DistributedMisses int64 `json:"distributed_misses"`
	DistributedErrors int64 `json:"distributed_errors"`
	LocalHits         int64 `json:"local_hits"`
	LocalMisses       int64 `json:"local_misses"`
	Fallbacks         int64 `json:"fallbacks"`
}

// LocalCache is an in-process LRU with TTL expiry.
type LocalCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewLocalCache creates a local cache holding at most maxSize entries, each
// expiring after ttl.
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LocalCache{lru: expirable.NewLRU[string, []byte](maxSize, nil, ttl)}
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

// Len returns the current entry count.
func (c *LocalCache) Len() int { return c.lru.Len() }

// RedisCache is the distributed cache tier.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCache wraps an existing client. Keys are namespaced by keyPrefix.
func NewRedisCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, c.keyPrefix+key, value, c.ttl).Err()
}

// Ping reports distributed-tier reachability for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// TieredCache reads the distributed tier first and falls back to the local
// tier automatically when the distributed tier errors. Writes go through to
// both tiers; a distributed write failure only counts, it never fails the
// call.
type TieredCache struct {
	distributed Cache
	local       Cache
	log         *zap.Logger

	distHits   atomic.Int64
	distMisses atomic.Int64
	distErrors atomic.Int64
	localHits  atomic.Int64
	localMiss  atomic.Int64
	fallbacks  atomic.Int64
}

// NewTieredCache composes the tiers. distributed may be nil (local only);
// local must not be nil. A nil logger disables logging.
func NewTieredCache(distributed, local Cache, log *zap.Logger) *TieredCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &TieredCache{distributed: distributed, local: local, log: log}
}

func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.distributed != nil {
		v, ok, err := c.distributed.Get(ctx, key)
		switch {
		case err != nil:
			c.distErrors.Add(1)
			c.fallbacks.Add(1)
			c.log.Warn("distributed cache get failed, falling back to local", zap.Error(err))
		case ok:
			c.distHits.Add(1)
			return v, true, nil
		default:
			c.distMisses.Add(1)
		}
	}

	v, ok, _ := c.local.Get(ctx, key)
	if ok {
		c.localHits.Add(1)
		return v, true, nil
	}
	c.localMiss.Add(1)
	return nil, false, nil
}

func (c *TieredCache) Set(ctx context.Context, key string, value []byte) error {
	if c.distributed != nil {
		if err := c.distributed.Set(ctx, key, value); err != nil {
			c.distErrors.Add(1)
			c.log.Warn("distributed cache set failed", zap.Error(err))
		}
	}
	return c.local.Set(ctx, key, value)
}

// Stats snapshots the counters.
func (c *TieredCache) Stats() CacheStats {
	return CacheStats{
		DistributedHits:   c.distHits.Load(),
		DistributedMisses: c.distMisses.Load(),
		DistributedErrors: c.distErrors.Load(),
		LocalHits:         c.localHits.Load(),
		LocalMisses:       c.localMiss.Load(),
		Fallbacks:         c.fallbacks.Load(),
	}
}
