package config

import (
	"context"
	"fmt"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Temporal holds the scoring and eviction parameters. The scoring engine
// receives this struct by value; it is never mutated after startup.
type Temporal struct {
	// Enabled turns temporal reasoning on. When false the temporal score
	// collapses to the clamped importance score and no rehearsal or
	// eviction occurs.
	Enabled bool

	// DecayLambda is the rate of the exponential decay component, per day.
	DecayLambda float64

	// DecayAlpha is the exponent of the power-law decay component.
	DecayAlpha float64

	// RehearsalThreshold is the normalized relevance at or above which a
	// retrieved item is strengthened.
	RehearsalThreshold float64

	// RehearsalBoost is the additive importance increment applied on rehearsal.
	RehearsalBoost float64

	// DeletionThreshold is the temporal score strictly below which an item
	// becomes eligible for eviction.
	DeletionThreshold float64

	// MaxAgeDays evicts items strictly older than this many days regardless
	// of their temporal score.
	MaxAgeDays float64

	// RetrievalWeightRelevance weighs normalized relevance in the combined score.
	RetrievalWeightRelevance float64

	// RetrievalWeightTemporal weighs the temporal score in the combined score.
	RetrievalWeightTemporal float64

	// MaxImportance and MinImportance clamp importance_score.
	MaxImportance float64
	MinImportance float64

	// RelevanceNormalizationScale divides raw lexical (BM25-style) scores
	// before clamping to [0,1].
	RelevanceNormalizationScale float64

	// RecencyHalvingRate is the per-day exponent inside the recency bonus.
	RecencyHalvingRate float64

	// RecencyWeight and FrequencyWeight are the additive weights of the
	// recency and frequency terms in the temporal score.
	RecencyWeight   float64
	FrequencyWeight float64

	// FrequencyScale divides log2(access_count+1).
	FrequencyScale float64
}

// Validate checks the constraints on the temporal parameters.
func (t Temporal) Validate() error {
	if t.MinImportance > t.MaxImportance {
		return fmt.Errorf("min-importance %v exceeds max-importance %v", t.MinImportance, t.MaxImportance)
	}
	for name, v := range map[string]float64{
		"rehearsal-threshold":           t.RehearsalThreshold,
		"rehearsal-boost":               t.RehearsalBoost,
		"deletion-threshold":            t.DeletionThreshold,
		"max-age-days":                  t.MaxAgeDays,
		"retrieval-weight-relevance":    t.RetrievalWeightRelevance,
		"retrieval-weight-temporal":     t.RetrievalWeightTemporal,
		"relevance-normalization-scale": t.RelevanceNormalizationScale,
		"recency-weight":                t.RecencyWeight,
		"frequency-weight":              t.FrequencyWeight,
		"frequency-scale":               t.FrequencyScale,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", name, v)
		}
	}
	if t.Enabled {
		if t.DecayLambda <= 0 {
			return fmt.Errorf("decay-lambda must be > 0 when temporal reasoning is enabled, got %v", t.DecayLambda)
		}
		if t.DecayAlpha <= 0 {
			return fmt.Errorf("decay-alpha must be > 0 when temporal reasoning is enabled, got %v", t.DecayAlpha)
		}
		if t.RecencyHalvingRate <= 0 {
			return fmt.Errorf("recency-halving-rate must be > 0 when temporal reasoning is enabled, got %v", t.RecencyHalvingRate)
		}
	}
	return nil
}

// Config holds all configuration for the temporal memory service.
type Config struct {
	// Database
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type ("postgres").
	DatastoreType string

	// Redis, used by the admin-stats cache.
	RedisURL string

	// Cache backend type: "redis" or "none".
	CacheType string

	// TTL for cached admin aggregate responses.
	StatsCacheTTL time.Duration

	// Vector store type: "pgvector", "qdrant", or "" (disabled).
	VectorType string

	// Run vector migrations on startup.
	VectorMigrateAtStart bool

	// Number of items to embed and index per background indexer tick.
	VectorIndexerBatchSize int

	// MaxEmbeddingDim is the fixed dimension embeddings are padded or
	// truncated to before storage.
	MaxEmbeddingDim int

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantCollectionPrefix string
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantStartupTimeout   time.Duration

	// Embedding type: "none", "local", or "openai".
	EmbedType string

	// OpenAI embedding provider.
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Server
	Listener  ListenerConfig
	AccessLog bool

	// PrometheusURL is the base URL of a Prometheus server the admin
	// stats endpoints query. Empty disables them.
	PrometheusURL string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Body size limit (bytes)
	MaxBodySize int64

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// DefaultRetrievalLimit applies when a query omits limit.
	DefaultRetrievalLimit int

	// CandidateStoreLimit caps the number of candidates fetched per kind.
	CandidateStoreLimit int

	// Decay
	DecayBatchSize int
	// DecayInterval is how often the background decay scheduler runs.
	// Zero disables the scheduler; cycles can still be run on demand.
	DecayInterval time.Duration

	// Temporal holds the scoring and eviction parameters.
	Temporal Temporal
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		StatsCacheTTL:           time.Minute,
		VectorType:              "",
		VectorMigrateAtStart:    true,
		VectorIndexerBatchSize:  500,
		MaxEmbeddingDim:         1536,
		EmbedType:               "local",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:            10 * 1024 * 1024,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
		DefaultRetrievalLimit:  10,
		CandidateStoreLimit:    1000,
		DecayBatchSize:         500,
		DecayInterval:          time.Hour,
		QdrantHost:             "localhost",
		QdrantPort:             6334,
		QdrantCollectionPrefix: "temporal-memory",
		QdrantStartupTimeout:   30 * time.Second,
		Temporal:               DefaultTemporal(),
	}
}

// DefaultTemporal returns the default scoring and eviction parameters.
func DefaultTemporal() Temporal {
	return Temporal{
		Enabled:                     true,
		DecayLambda:                 0.05,
		DecayAlpha:                  1.5,
		RehearsalThreshold:          0.7,
		RehearsalBoost:              0.05,
		DeletionThreshold:           0.1,
		MaxAgeDays:                  365,
		RetrievalWeightRelevance:    0.6,
		RetrievalWeightTemporal:     0.4,
		MaxImportance:               1.0,
		MinImportance:               0.0,
		RelevanceNormalizationScale: 10.0,
		RecencyHalvingRate:          0.1,
		RecencyWeight:               0.3,
		FrequencyWeight:             0.2,
		FrequencyScale:              10.0,
	}
}

// QdrantAddress returns the host:port the Qdrant grpc client dials.
func (c *Config) QdrantAddress() string {
	return fmt.Sprintf("%s:%d", c.QdrantHost, c.QdrantPort)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.DefaultRetrievalLimit < 1 {
		return fmt.Errorf("default-retrieval-limit must be >= 1, got %d", c.DefaultRetrievalLimit)
	}
	if c.DecayBatchSize < 1 {
		return fmt.Errorf("decay-batch-size must be >= 1, got %d", c.DecayBatchSize)
	}
	if c.MaxEmbeddingDim < 1 {
		return fmt.Errorf("max-embedding-dim must be >= 1, got %d", c.MaxEmbeddingDim)
	}
	return c.Temporal.Validate()
}
