package noop

import (
	"context"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.StatsCache, error) {
			return &noopStatsCache{}, nil
		},
	})
}

type noopStatsCache struct{}

func (n *noopStatsCache) Available() bool { return false }
func (n *noopStatsCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}
func (n *noopStatsCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
func (n *noopStatsCache) Remove(_ context.Context, _ string) error { return nil }

var _ cache.StatsCache = (*noopStatsCache)(nil)
