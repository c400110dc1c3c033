// Package migrate sequences schema migrations across the storage plugins.
// The relational schema for the six memory-item tables runs before the
// vector stores, which depend on the item tables existing.
package migrate

import (
	"context"
	"fmt"
	"sort"
)

// Migrator runs the schema migration of one storage plugin. Implementations
// consult the config in ctx and no-op when their backend is not selected or
// migrate-at-start is off.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a migrator with its position in the startup sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// RunAll executes the registered migrators in Order. The first failure
// aborts the sequence; later migrators may depend on earlier schema.
func RunAll(ctx context.Context) error {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, p := range sorted {
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
