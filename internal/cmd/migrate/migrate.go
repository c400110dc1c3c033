package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/pgvector"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("TEMPORAL_MEMORY_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("TEMPORAL_MEMORY_DB_KIND"),
				Usage:   "Store backend (postgres)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("TEMPORAL_MEMORY_VECTOR_KIND"),
				Usage:   "Vector store whose migrations to run (pgvector|qdrant), empty for none",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("TEMPORAL_MEMORY_QDRANT_HOST"),
				Usage:   "Qdrant gRPC host",
				Value:   "localhost",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("qdrant-host")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
