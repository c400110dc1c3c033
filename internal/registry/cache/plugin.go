package cache

import (
	"context"
	"fmt"
	"time"
)

type statsCacheKey struct{}

// WithStatsCacheContext returns a new context carrying the given StatsCache.
func WithStatsCacheContext(ctx context.Context, c StatsCache) context.Context {
	return context.WithValue(ctx, statsCacheKey{}, c)
}

// StatsCacheFromContext retrieves the StatsCache from the context.
// Returns nil if none was set.
func StatsCacheFromContext(ctx context.Context) StatsCache {
	c, _ := ctx.Value(statsCacheKey{}).(StatsCache)
	return c
}

// StatsCache caches serialized admin statistics (counts, histograms) so
// repeated dashboard polls do not re-run aggregate queries. A nil result
// from Get with a nil error means a miss.
type StatsCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (StatsCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
