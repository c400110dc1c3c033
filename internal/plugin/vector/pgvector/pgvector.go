package pgvector

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/charmbracelet/log"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(pgvectorSchemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openGormDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{db: db}, nil
}

// PgvectorStore implements VectorStore using the pgvector extension.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, scope registrystore.Scope, kinds []model.Kind, limit int) ([]registryvector.SearchResult, error) {
	vec := pgvec.NewVector(embedding)

	sql := `
		SELECT item_id, kind, field,
		       1 - (embedding <=> ?::vector) AS score
		FROM item_embeddings
		WHERE organization_id = ?`
	args := []interface{}{vec, scope.OrganizationID}
	if scope.UserID != nil {
		sql += " AND (user_id IS NULL OR user_id = ?)"
		args = append(args, *scope.UserID)
	}
	if len(kinds) > 0 {
		kindStrings := make([]string, len(kinds))
		for i, k := range kinds {
			kindStrings[i] = string(k)
		}
		sql += " AND kind = ANY(?)"
		args = append(args, kindStrings)
	}
	sql += `
		ORDER BY embedding <=> ?::vector
		LIMIT ?`
	args = append(args, vec, limit)

	rows, err := s.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.SearchResult
	for rows.Next() {
		var r registryvector.SearchResult
		if err := rows.Scan(&r.ItemID, &r.Kind, &r.Field, &r.Score); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Upsert(ctx context.Context, requests []registryvector.UpsertRequest) error {
	for _, r := range requests {
		vec := pgvec.NewVector(r.Embedding)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO item_embeddings (item_id, field, kind, organization_id, user_id, model, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?::vector)
			ON CONFLICT (item_id, field)
			DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model`,
			r.ItemID, r.Field, string(r.Kind), r.OrganizationID, r.UserID, r.ModelName, vec,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *PgvectorStore) DeleteItems(ctx context.Context, kind model.Kind, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM item_embeddings WHERE kind = ? AND item_id = ANY(?)",
		string(kind), itemIDs,
	).Error
}
