package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/model"
)

// Scope identifies the tenant a call operates in. OrganizationID is always
// set; UserID narrows the scope to a single user when present.
type Scope struct {
	OrganizationID string
	UserID         *string
}

// Contains reports whether an item belongs to this scope. Items without a
// user id are organization-wide and visible to every user in the org.
func (s Scope) Contains(t model.TenantScope) bool {
	if t.OrganizationID != s.OrganizationID {
		return false
	}
	if s.UserID == nil || t.UserID == nil {
		return true
	}
	return *t.UserID == *s.UserID
}

// ListQuery holds parameters for paginated item listing.
type ListQuery struct {
	Kind        model.Kind
	SessionID   *string // chat only
	AfterCursor *string
	Limit       int
}

// PagedItems is a paginated list of memory items of one kind.
type PagedItems struct {
	Data        []model.MemoryItem `json:"data"`
	AfterCursor *string            `json:"afterCursor,omitempty"`
}

// LexicalHit is a single full-text search match with its raw rank score.
type LexicalHit struct {
	Item  model.MemoryItem
	Score float64
}

// SessionSummary describes one chat session within a scope.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	MessageCount int64     `json:"messageCount"`
	FirstAt      time.Time `json:"firstAt"`
	LastAt       time.Time `json:"lastAt"`
}

// DistributionField selects the column a histogram is computed over.
type DistributionField string

const (
	DistImportance  DistributionField = "importance_score"
	DistAccessCount DistributionField = "access_count"
	DistAgeDays     DistributionField = "age_days"
)

// ParseDistributionField validates a caller-supplied field name.
func ParseDistributionField(s string) (DistributionField, error) {
	switch DistributionField(s) {
	case DistImportance, DistAccessCount, DistAgeDays:
		return DistributionField(s), nil
	}
	return "", &InvariantViolationError{Field: "field", Message: fmt.Sprintf("unknown distribution field %q", s)}
}

// ScanCursor is the keyset position of a decay scan. It carries the
// column values rather than just an id so paging survives the cursor row
// being deleted by the previous batch.
type ScanCursor struct {
	CreatedAt time.Time
	ID        string
}

// HistogramBucket is one bar of an admin histogram.
type HistogramBucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int64   `json:"count"`
}

// AccessUpdate carries the counter mutation applied when an item is
// returned from retrieval. Observed is the access count the caller read;
// the store retries once on a counter conflict before falling back to an
// unconditional increment.
type AccessUpdate struct {
	Kind       model.Kind
	ID         string
	Observed   int64
	Rehearse   bool
	AccessedAt time.Time
}

// MemoryStore defines the primary data access interface for the temporal
// memory service. All scoped calls filter by organization and, when the
// scope carries one, user.
type MemoryStore interface {
	// Items
	CreateItem(ctx context.Context, item model.MemoryItem) error
	GetItem(ctx context.Context, scope Scope, kind model.Kind, id string) (model.MemoryItem, error)
	UpdateItem(ctx context.Context, scope Scope, item model.MemoryItem) (model.MemoryItem, error)
	DeleteItem(ctx context.Context, scope Scope, kind model.Kind, id string) error
	ListItems(ctx context.Context, scope Scope, query ListQuery) (*PagedItems, error)
	GetItems(ctx context.Context, scope Scope, kind model.Kind, ids []string) ([]model.MemoryItem, error)
	ListSessions(ctx context.Context, scope Scope, limit int) ([]SessionSummary, error)

	// Retrieval candidates
	SearchLexical(ctx context.Context, scope Scope, query string, kinds []model.Kind, limit int) ([]LexicalHit, error)
	SearchRecent(ctx context.Context, scope Scope, kinds []model.Kind, limit int) ([]model.MemoryItem, error)
	ApplyAccess(ctx context.Context, scope Scope, update AccessUpdate) error

	// Vector indexing
	ListUnindexed(ctx context.Context, kind model.Kind, limit int) ([]model.MemoryItem, error)
	MarkIndexed(ctx context.Context, kind model.Kind, id string, indexedAt time.Time) error

	// Decay sweep. ScanForDecay pages through one kind oldest-first,
	// resuming after the cursor, locking scanned rows against a
	// concurrent sweep. A non-nil userID restricts the sweep to that
	// user's own rows; organization-wide rows are only swept org-wide.
	// DeleteBatch returns how many rows it removed.
	ScanForDecay(ctx context.Context, organizationID string, userID *string, kind model.Kind, after *ScanCursor, limit int) ([]model.MemoryItem, error)
	DeleteBatch(ctx context.Context, organizationID string, kind model.Kind, ids []string) (int64, error)
	ListOrganizations(ctx context.Context) ([]string, error)

	// Admin statistics
	CountItems(ctx context.Context, scope Scope, kinds []model.Kind) (map[model.Kind]int64, error)
	Distribution(ctx context.Context, scope Scope, kind model.Kind, field DistributionField, buckets int) ([]HistogramBucket, error)

	// Transaction runs fn against a store bound to a single database
	// transaction. Returning an error rolls back.
	Transaction(ctx context.Context, fn func(tx MemoryStore) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
