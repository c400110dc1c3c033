package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	registrycache "github.com/tessellated-ai/temporal-memory-service/internal/registry/cache"
)

const defaultTTL = time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.StatsCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: TEMPORAL_MEMORY_REDIS_URL is required")
	}
	ttl := cfg.StatsCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates a StatsCache with an explicit default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.StatsCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisStatsCache{client: client, ttl: ttl}, nil
}

type redisStatsCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func statsKey(key string) string {
	return "mem-stats:" + key
}

func (c *redisStatsCache) Available() bool {
	return true
}

func (c *redisStatsCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, statsKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *redisStatsCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, statsKey(key), value, ttl).Err()
}

func (c *redisStatsCache) Remove(ctx context.Context, key string) error {
	return c.client.Del(ctx, statsKey(key)).Err()
}

var _ registrycache.StatsCache = (*redisStatsCache)(nil)
