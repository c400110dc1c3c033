package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	registrycache "github.com/tessellated-ai/temporal-memory-service/internal/registry/cache"
	registryembed "github.com/tessellated-ai/temporal-memory-service/internal/registry/embed"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/cache/noop"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/cache/redis"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/embed/disabled"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/embed/local"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/embed/openai"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/route/system"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/pgvector"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the temporal memory HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_ACCESS_LOG"),
			Destination: &cfg.AccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum HTTP request body size in bytes",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "stats-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_STATS_CACHE_TTL"),
			Destination: &cfg.StatsCacheTTL,
			Value:       cfg.StatsCacheTTL,
			Usage:       "TTL for cached admin aggregate responses",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Value:       cfg.VectorType,
			Usage:       "Vector store (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "vector-indexer-batch-size",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_VECTOR_INDEXER_BATCH_SIZE"),
			Destination: &cfg.VectorIndexerBatchSize,
			Value:       cfg.VectorIndexerBatchSize,
			Usage:       "Number of items to embed and index per background indexer tick",
		},
		&cli.IntFlag{
			Name:        "max-embedding-dim",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_MAX_EMBEDDING_DIM"),
			Destination: &cfg.MaxEmbeddingDim,
			Value:       cfg.MaxEmbeddingDim,
			Usage:       "Fixed dimension embeddings are padded or truncated to",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant gRPC host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_EMBEDDING_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "default-retrieval-limit",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DEFAULT_RETRIEVAL_LIMIT"),
			Destination: &cfg.DefaultRetrievalLimit,
			Value:       cfg.DefaultRetrievalLimit,
			Usage:       "Result limit applied when a retrieval omits one",
		},
		&cli.IntFlag{
			Name:        "candidate-store-limit",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_CANDIDATE_STORE_LIMIT"),
			Destination: &cfg.CandidateStoreLimit,
			Value:       cfg.CandidateStoreLimit,
			Usage:       "Maximum candidates fetched from each index per retrieval",
		},

		// ── Temporal Reasoning ────────────────────────────────────
		&cli.BoolFlag{
			Name:        "temporal-enabled",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_TEMPORAL_ENABLED"),
			Destination: &cfg.Temporal.Enabled,
			Value:       cfg.Temporal.Enabled,
			Usage:       "Enable temporal scoring, rehearsal, and decay eviction",
		},
		&cli.FloatFlag{
			Name:        "decay-lambda",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DECAY_LAMBDA"),
			Destination: &cfg.Temporal.DecayLambda,
			Value:       cfg.Temporal.DecayLambda,
			Usage:       "Exponential decay rate per day",
		},
		&cli.FloatFlag{
			Name:        "decay-alpha",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DECAY_ALPHA"),
			Destination: &cfg.Temporal.DecayAlpha,
			Value:       cfg.Temporal.DecayAlpha,
			Usage:       "Power-law decay exponent",
		},
		&cli.FloatFlag{
			Name:        "rehearsal-threshold",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_REHEARSAL_THRESHOLD"),
			Destination: &cfg.Temporal.RehearsalThreshold,
			Value:       cfg.Temporal.RehearsalThreshold,
			Usage:       "Relevance at or above which a retrieved item is strengthened",
		},
		&cli.FloatFlag{
			Name:        "rehearsal-boost",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_REHEARSAL_BOOST"),
			Destination: &cfg.Temporal.RehearsalBoost,
			Value:       cfg.Temporal.RehearsalBoost,
			Usage:       "Importance increment applied on rehearsal",
		},
		&cli.FloatFlag{
			Name:        "deletion-threshold",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DELETION_THRESHOLD"),
			Destination: &cfg.Temporal.DeletionThreshold,
			Value:       cfg.Temporal.DeletionThreshold,
			Usage:       "Temporal score below which an item becomes evictable",
		},
		&cli.FloatFlag{
			Name:        "max-age-days",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_MAX_AGE_DAYS"),
			Destination: &cfg.Temporal.MaxAgeDays,
			Value:       cfg.Temporal.MaxAgeDays,
			Usage:       "Items older than this many days are evicted regardless of score",
		},
		&cli.FloatFlag{
			Name:        "retrieval-weight-relevance",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_RETRIEVAL_WEIGHT_RELEVANCE"),
			Destination: &cfg.Temporal.RetrievalWeightRelevance,
			Value:       cfg.Temporal.RetrievalWeightRelevance,
			Usage:       "Weight of normalized relevance in the combined score",
		},
		&cli.FloatFlag{
			Name:        "retrieval-weight-temporal",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_RETRIEVAL_WEIGHT_TEMPORAL"),
			Destination: &cfg.Temporal.RetrievalWeightTemporal,
			Value:       cfg.Temporal.RetrievalWeightTemporal,
			Usage:       "Weight of the temporal score in the combined score",
		},
		&cli.FloatFlag{
			Name:        "min-importance",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_MIN_IMPORTANCE"),
			Destination: &cfg.Temporal.MinImportance,
			Value:       cfg.Temporal.MinImportance,
			Usage:       "Lower clamp applied to importance scores",
		},
		&cli.FloatFlag{
			Name:        "max-importance",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_MAX_IMPORTANCE"),
			Destination: &cfg.Temporal.MaxImportance,
			Value:       cfg.Temporal.MaxImportance,
			Usage:       "Upper clamp applied to importance scores",
		},
		&cli.FloatFlag{
			Name:        "relevance-normalization-scale",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_RELEVANCE_NORMALIZATION_SCALE"),
			Destination: &cfg.Temporal.RelevanceNormalizationScale,
			Value:       cfg.Temporal.RelevanceNormalizationScale,
			Usage:       "Divisor applied to raw lexical scores before clamping to [0,1]",
		},
		&cli.FloatFlag{
			Name:        "recency-halving-rate",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_RECENCY_HALVING_RATE"),
			Destination: &cfg.Temporal.RecencyHalvingRate,
			Value:       cfg.Temporal.RecencyHalvingRate,
			Usage:       "Per-day exponent inside the recency bonus",
		},
		&cli.FloatFlag{
			Name:        "recency-weight",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_RECENCY_WEIGHT"),
			Destination: &cfg.Temporal.RecencyWeight,
			Value:       cfg.Temporal.RecencyWeight,
			Usage:       "Additive weight of the recency bonus in the temporal score",
		},
		&cli.FloatFlag{
			Name:        "frequency-weight",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_FREQUENCY_WEIGHT"),
			Destination: &cfg.Temporal.FrequencyWeight,
			Value:       cfg.Temporal.FrequencyWeight,
			Usage:       "Additive weight of the frequency bonus in the temporal score",
		},
		&cli.FloatFlag{
			Name:        "frequency-scale",
			Category:    "Temporal Reasoning:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_FREQUENCY_SCALE"),
			Destination: &cfg.Temporal.FrequencyScale,
			Value:       cfg.Temporal.FrequencyScale,
			Usage:       "Divisor applied to log2(access_count+1) in the frequency bonus",
		},

		// ── Decay Sweep ───────────────────────────────────────────
		&cli.IntFlag{
			Name:        "decay-batch-size",
			Category:    "Decay Sweep:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DECAY_BATCH_SIZE"),
			Destination: &cfg.DecayBatchSize,
			Value:       cfg.DecayBatchSize,
			Usage:       "Rows scanned per decay sweep transaction",
		},
		&cli.DurationFlag{
			Name:        "decay-interval",
			Category:    "Decay Sweep:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_DECAY_INTERVAL"),
			Destination: &cfg.DecayInterval,
			Value:       cfg.DecayInterval,
			Usage:       "How often the background decay scheduler runs (0 disables it)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "prometheus-url",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_PROMETHEUS_URL"),
			Destination: &cfg.PrometheusURL,
			Usage:       "Prometheus base URL for admin stats (e.g. http://prometheus:9090)",
		},
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("TEMPORAL_MEMORY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=temporal-memory",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
