package decay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/clock"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	storemetrics "github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/metrics"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/service"
	"github.com/urfave/cli/v3"

	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/store/postgres"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/pgvector"
	_ "github.com/tessellated-ai/temporal-memory-service/internal/plugin/vector/qdrant"
)

// Command returns the decay sub-command, a one-shot sweep for cron jobs and
// operators. Prints the sweep report as JSON on stdout.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var dryRun bool
	var organizationID, userID string
	return &cli.Command{
		Name:  "decay",
		Usage: "Run one decay sweep and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("TEMPORAL_MEMORY_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Store backend (postgres)",
			},
			&cli.StringFlag{
				Name:        "vector-kind",
				Sources:     cli.EnvVars("TEMPORAL_MEMORY_VECTOR_KIND"),
				Destination: &cfg.VectorType,
				Value:       cfg.VectorType,
				Usage:       "Vector store to delete orphaned embeddings from, empty for none",
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Destination: &dryRun,
				Usage:       "Report what would be deleted without deleting anything",
			},
			&cli.StringFlag{
				Name:        "organization-id",
				Destination: &organizationID,
				Usage:       "Sweep only this organization; empty sweeps all",
			},
			&cli.StringFlag{
				Name:        "user-id",
				Destination: &userID,
				Usage:       "Restrict an organization sweep to one user's own items",
			},
			&cli.IntFlag{
				Name:        "decay-batch-size",
				Sources:     cli.EnvVars("TEMPORAL_MEMORY_DECAY_BATCH_SIZE"),
				Destination: &cfg.DecayBatchSize,
				Value:       cfg.DecayBatchSize,
				Usage:       "Rows scanned per sweep transaction",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if userID != "" && organizationID == "" {
				return fmt.Errorf("--user-id requires --organization-id")
			}
			ctx = config.WithContext(ctx, &cfg)
			security.InitMetrics(nil)

			storeLoader, err := registrystore.Select(cfg.DatastoreType)
			if err != nil {
				return err
			}
			store, err := storeLoader(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()
			store = storemetrics.Wrap(store)

			var vectorStore registryvector.VectorStore
			if cfg.VectorType != "" && cfg.VectorType != "none" {
				vectorLoader, err := registryvector.Select(cfg.VectorType)
				if err != nil {
					log.Warn("Vector store not available", "err", err)
				} else if vectorStore, err = vectorLoader(ctx); err != nil {
					log.Warn("Failed to initialize vector store", "err", err)
				}
			}

			svc := service.NewDecayService(store, vectorStore, &cfg, clock.System())
			opts := service.SweepOptions{DryRun: dryRun}
			var report *service.DecayReport
			if organizationID == "" {
				report, err = svc.RunOnce(ctx, opts)
			} else {
				var user *string
				if userID != "" {
					user = &userID
				}
				report, err = svc.RunForTenant(ctx, organizationID, user, opts)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
