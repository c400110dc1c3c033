package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &PostgresStore{db: db, cfg: cfg}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore implements MemoryStore using GORM + PostgreSQL.
type PostgresStore struct {
	db  *gorm.DB
	cfg *config.Config
}

var kindTables = map[model.Kind]string{
	model.KindChat:           model.ChatMessage{}.TableName(),
	model.KindEpisodic:       model.EpisodicEvent{}.TableName(),
	model.KindSemantic:       model.SemanticItem{}.TableName(),
	model.KindProcedural:     model.ProceduralItem{}.TableName(),
	model.KindResource:       model.ResourceItem{}.TableName(),
	model.KindKnowledgeVault: model.KnowledgeVaultItem{}.TableName(),
}

// scopeClause builds the tenant filter. Items without a user id are
// organization-wide, so a user-scoped call sees them too.
func scopeClause(scope registrystore.Scope) (string, []interface{}) {
	if scope.UserID != nil {
		return "organization_id = ? AND (user_id IS NULL OR user_id = ?)",
			[]interface{}{scope.OrganizationID, *scope.UserID}
	}
	return "organization_id = ?", []interface{}{scope.OrganizationID}
}

func scoped(tx *gorm.DB, scope registrystore.Scope) *gorm.DB {
	cond, args := scopeClause(scope)
	return tx.Where(cond, args...)
}

func findTyped[T any](tx *gorm.DB) ([]model.MemoryItem, error) {
	var rows []T
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.MemoryItem, len(rows))
	for i := range rows {
		out[i] = any(&rows[i]).(model.MemoryItem)
	}
	return out, nil
}

// find runs the prepared query against the table of the given kind.
func find(tx *gorm.DB, kind model.Kind) ([]model.MemoryItem, error) {
	switch kind {
	case model.KindChat:
		return findTyped[model.ChatMessage](tx)
	case model.KindEpisodic:
		return findTyped[model.EpisodicEvent](tx)
	case model.KindSemantic:
		return findTyped[model.SemanticItem](tx)
	case model.KindProcedural:
		return findTyped[model.ProceduralItem](tx)
	case model.KindResource:
		return findTyped[model.ResourceItem](tx)
	case model.KindKnowledgeVault:
		return findTyped[model.KnowledgeVaultItem](tx)
	}
	return nil, fmt.Errorf("unknown memory kind %q", kind)
}

func (s *PostgresStore) validate(item model.MemoryItem) error {
	if item.Tenant().OrganizationID == "" {
		return &InvariantViolationError{Field: "organizationId", Message: "must not be empty"}
	}
	tf := item.Temporal()
	if tf.ImportanceScore < 0 || tf.ImportanceScore > 1 {
		return &InvariantViolationError{Field: "importanceScore", Message: "must be within [0, 1]"}
	}
	if err := item.ValidateContent(); err != nil {
		return &InvariantViolationError{Field: "fields", Message: err.Error()}
	}
	return nil
}

// --- Items ---

func (s *PostgresStore) CreateItem(ctx context.Context, item model.MemoryItem) error {
	if err := s.validate(item); err != nil {
		return err
	}
	if item.GetID() == "" {
		item.SetID(model.NewID(item.ItemKind()))
	}
	if item.GetCreatedAt().IsZero() {
		item.SetCreatedAt(time.Now().UTC())
	}
	tf := item.Temporal()
	if tf.LastModified.Operation == "" {
		tf.LastModified = model.LastModified{Timestamp: item.GetCreatedAt(), Operation: model.OpCreated}
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &ConflictError{Message: fmt.Sprintf("item %s already exists", item.GetID())}
		}
		return wrapDBError(fmt.Sprintf("failed to create %s item", item.ItemKind()), err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, scope registrystore.Scope, kind model.Kind, id string) (model.MemoryItem, error) {
	item, err := model.NewItem(kind)
	if err != nil {
		return nil, err
	}
	result := scoped(s.db.WithContext(ctx), scope).Limit(1).Find(item, "id = ?", id)
	if result.Error != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to get %s item", kind), result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{Resource: string(kind), ID: id}
	}
	return item, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, scope registrystore.Scope, item model.MemoryItem) (model.MemoryItem, error) {
	if err := s.validate(item); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := model.NewItem(item.ItemKind())
		if err != nil {
			return err
		}
		result := scoped(tx, scope).Clauses(clause.Locking{Strength: "UPDATE"}).
			Limit(1).Find(existing, "id = ?", item.GetID())
		if result.Error != nil {
			return wrapDBError(fmt.Sprintf("failed to load %s item for update", item.ItemKind()), result.Error)
		}
		if result.RowsAffected == 0 {
			return &NotFoundError{Resource: string(item.ItemKind()), ID: item.GetID()}
		}
		// Tenancy and birth time are immutable.
		*item.Tenant() = *existing.Tenant()
		item.SetCreatedAt(existing.GetCreatedAt())
		return wrapDBError(fmt.Sprintf("failed to update %s item", item.ItemKind()), tx.Save(item).Error)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, scope registrystore.Scope, kind model.Kind, id string) error {
	item, err := model.NewItem(kind)
	if err != nil {
		return err
	}
	result := scoped(s.db.WithContext(ctx), scope).Delete(item, "id = ?", id)
	if result.Error != nil {
		return wrapDBError(fmt.Sprintf("failed to delete %s item", kind), result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Resource: string(kind), ID: id}
	}
	return nil
}

func (s *PostgresStore) ListItems(ctx context.Context, scope registrystore.Scope, query registrystore.ListQuery) (*registrystore.PagedItems, error) {
	table, ok := kindTables[query.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown memory kind %q", query.Kind)
	}
	tx := scoped(s.db.WithContext(ctx), scope)
	if query.SessionID != nil {
		if query.Kind != model.KindChat {
			return nil, &InvariantViolationError{Field: "sessionId", Message: "only chat items have sessions"}
		}
		tx = tx.Where("session_id = ?", *query.SessionID)
	}
	if query.AfterCursor != nil {
		tx = tx.Where(
			fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM %s WHERE id = ?)", table),
			*query.AfterCursor,
		)
	}
	tx = tx.Order("created_at DESC, id DESC").Limit(query.Limit + 1)

	items, err := find(tx, query.Kind)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to list %s items", query.Kind), err)
	}

	hasMore := len(items) > query.Limit
	if hasMore {
		items = items[:query.Limit]
	}
	var cursor *string
	if hasMore && len(items) > 0 {
		c := items[len(items)-1].GetID()
		cursor = &c
	}
	return &registrystore.PagedItems{Data: items, AfterCursor: cursor}, nil
}

func (s *PostgresStore) GetItems(ctx context.Context, scope registrystore.Scope, kind model.Kind, ids []string) ([]model.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx := scoped(s.db.WithContext(ctx), scope).Where("id IN ?", ids)
	items, err := find(tx, kind)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to fetch %s items", kind), err)
	}
	return items, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, scope registrystore.Scope, limit int) ([]registrystore.SessionSummary, error) {
	cond, args := scopeClause(scope)
	sql := fmt.Sprintf(`
		SELECT session_id, COUNT(*) AS message_count, MIN(created_at) AS first_at, MAX(created_at) AS last_at
		FROM chat_messages
		WHERE %s
		GROUP BY session_id
		ORDER BY last_at DESC
		LIMIT ?
	`, cond)
	var sessions []registrystore.SessionSummary
	if err := s.db.WithContext(ctx).Raw(sql, append(args, limit)...).Scan(&sessions).Error; err != nil {
		return nil, wrapDBError("failed to list sessions", err)
	}
	return sessions, nil
}

// --- Retrieval candidates ---

// toPrefixTsQuery converts a plain text query to a PostgreSQL tsquery with
// prefix matching. e.g. "dock comp" becomes "dock:* & comp:*"
func toPrefixTsQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	words := strings.Fields(query)
	parts := make([]string, 0, len(words))
	for _, word := range words {
		escaped := escapeTsQueryWord(word)
		if escaped != "" {
			parts = append(parts, escaped+":*")
		}
	}
	return strings.Join(parts, " & ")
}

// escapeTsQueryWord removes characters that have special meaning in tsquery syntax.
func escapeTsQueryWord(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch r {
		case '&', '|', '!', '(', ')', ':', '\'', '\\', '*':
			// skip tsquery special characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *PostgresStore) SearchLexical(ctx context.Context, scope registrystore.Scope, query string, kinds []model.Kind, limit int) ([]registrystore.LexicalHit, error) {
	prefixQuery := toPrefixTsQuery(query)
	if prefixQuery == "" {
		return nil, nil
	}
	if len(kinds) == 0 {
		kinds = model.AllKinds()
	}
	cond, scopeArgs := scopeClause(scope)

	type scoreRow struct {
		ID    string  `gorm:"column:id"`
		Score float64 `gorm:"column:score"`
	}
	var hits []registrystore.LexicalHit
	for _, kind := range kinds {
		table, ok := kindTables[kind]
		if !ok {
			return nil, fmt.Errorf("unknown memory kind %q", kind)
		}
		sql := fmt.Sprintf(`
			SELECT id, ts_rank(tsv, to_tsquery('english', ?)) AS score
			FROM %s
			WHERE %s AND tsv @@ to_tsquery('english', ?)
			ORDER BY score DESC, id ASC
			LIMIT ?
		`, table, cond)
		args := append([]interface{}{prefixQuery}, scopeArgs...)
		args = append(args, prefixQuery, limit)

		var rows []scoreRow
		if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
			return nil, wrapDBError(fmt.Sprintf("full-text search on %s failed", table), err)
		}
		if len(rows) == 0 {
			continue
		}
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		items, err := s.GetItems(ctx, scope, kind, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]model.MemoryItem, len(items))
		for _, item := range items {
			byID[item.GetID()] = item
		}
		for _, r := range rows {
			if item, ok := byID[r.ID]; ok {
				hits = append(hits, registrystore.LexicalHit{Item: item, Score: r.Score})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.GetID() < hits[j].Item.GetID()
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *PostgresStore) SearchRecent(ctx context.Context, scope registrystore.Scope, kinds []model.Kind, limit int) ([]model.MemoryItem, error) {
	if len(kinds) == 0 {
		kinds = model.AllKinds()
	}
	var merged []model.MemoryItem
	for _, kind := range kinds {
		tx := scoped(s.db.WithContext(ctx), scope).Order("created_at DESC, id DESC").Limit(limit)
		items, err := find(tx, kind)
		if err != nil {
			return nil, wrapDBError(fmt.Sprintf("failed to list recent %s items", kind), err)
		}
		merged = append(merged, items...)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.GetCreatedAt().Equal(b.GetCreatedAt()) {
			return a.GetCreatedAt().After(b.GetCreatedAt())
		}
		return a.GetID() < b.GetID()
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *PostgresStore) ApplyAccess(ctx context.Context, scope registrystore.Scope, update registrystore.AccessUpdate) error {
	table, ok := kindTables[update.Kind]
	if !ok {
		return fmt.Errorf("unknown memory kind %q", update.Kind)
	}
	op := model.OpAccessed
	if update.Rehearse {
		op = model.OpRehearsed
	}
	lastModified, err := json.Marshal(model.LastModified{Timestamp: update.AccessedAt, Operation: op})
	if err != nil {
		return err
	}

	set := "access_count = access_count + 1, last_accessed_at = ?, last_modified = ?"
	setArgs := []interface{}{update.AccessedAt, lastModified}
	if update.Rehearse {
		set += ", rehearsal_count = rehearsal_count + 1, importance_score = LEAST(importance_score + ?, ?)"
		setArgs = append(setArgs, s.cfg.Temporal.RehearsalBoost, s.cfg.Temporal.MaxImportance)
	}
	cond, scopeArgs := scopeClause(scope)

	// Optimistic: only touch the row if the counter still matches what the
	// caller observed. One retry against the current value, then an
	// unconditional increment so a hot item never loses its access.
	observed := update.Observed
	for attempt := 0; attempt < 2; attempt++ {
		sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND %s AND access_count = ?", table, set, cond)
		args := append(append([]interface{}{}, setArgs...), update.ID)
		args = append(args, scopeArgs...)
		args = append(args, observed)
		result := s.db.WithContext(ctx).Exec(sql, args...)
		if result.Error != nil {
			return wrapDBError(fmt.Sprintf("failed to record access on %s", table), result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		var current int64
		sel := fmt.Sprintf("SELECT access_count FROM %s WHERE id = ? AND %s", table, cond)
		row := s.db.WithContext(ctx).Raw(sel, append([]interface{}{update.ID}, scopeArgs...)...).Scan(&current)
		if row.Error != nil {
			return wrapDBError(fmt.Sprintf("failed to re-read access count on %s", table), row.Error)
		}
		if row.RowsAffected == 0 {
			// Deleted underneath us; nothing to record.
			return nil
		}
		observed = current
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND %s", table, set, cond)
	args := append(append([]interface{}{}, setArgs...), update.ID)
	args = append(args, scopeArgs...)
	if err := s.db.WithContext(ctx).Exec(sql, args...).Error; err != nil {
		return wrapDBError(fmt.Sprintf("failed to record access on %s", table), err)
	}
	return nil
}

// --- Vector indexing ---

func (s *PostgresStore) ListUnindexed(ctx context.Context, kind model.Kind, limit int) ([]model.MemoryItem, error) {
	tx := s.db.WithContext(ctx).Where("indexed_at IS NULL").Order("created_at ASC").Limit(limit)
	items, err := find(tx, kind)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to find %s items pending indexing", kind), err)
	}
	return items, nil
}

func (s *PostgresStore) MarkIndexed(ctx context.Context, kind model.Kind, id string, indexedAt time.Time) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown memory kind %q", kind)
	}
	sql := fmt.Sprintf("UPDATE %s SET indexed_at = ? WHERE id = ?", table)
	return s.db.WithContext(ctx).Exec(sql, indexedAt, id).Error
}

// --- Decay sweep ---

func (s *PostgresStore) ScanForDecay(ctx context.Context, organizationID string, userID *string, kind model.Kind, after *registrystore.ScanCursor, limit int) ([]model.MemoryItem, error) {
	if _, ok := kindTables[kind]; !ok {
		return nil, fmt.Errorf("unknown memory kind %q", kind)
	}
	tx := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID)
	if userID != nil {
		tx = tx.Where("user_id = ?", *userID)
	}
	if after != nil {
		// Value cursor rather than a row lookup: the cursor row may have
		// been deleted by the previous batch.
		tx = tx.Where("(created_at, id) > (?, ?)", after.CreatedAt, after.ID)
	}
	tx = tx.Order("created_at ASC, id ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	items, err := find(tx, kind)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("decay scan on %s failed", kind), err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, organizationID string, kind model.Kind, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	item, err := model.NewItem(kind)
	if err != nil {
		return 0, err
	}
	result := s.db.WithContext(ctx).
		Where("organization_id = ? AND id IN ?", organizationID, ids).
		Delete(item)
	if result.Error != nil {
		return 0, wrapDBError(fmt.Sprintf("batch delete on %s failed", kind), result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]string, error) {
	selects := make([]string, 0, len(kindTables))
	for _, kind := range model.AllKinds() {
		selects = append(selects, fmt.Sprintf("SELECT organization_id FROM %s", kindTables[kind]))
	}
	sql := fmt.Sprintf("SELECT DISTINCT organization_id FROM (%s) AS orgs ORDER BY organization_id", strings.Join(selects, " UNION ALL "))
	var orgs []string
	if err := s.db.WithContext(ctx).Raw(sql).Scan(&orgs).Error; err != nil {
		return nil, wrapDBError("failed to list organizations", err)
	}
	return orgs, nil
}

// --- Admin statistics ---

func (s *PostgresStore) CountItems(ctx context.Context, scope registrystore.Scope, kinds []model.Kind) (map[model.Kind]int64, error) {
	if len(kinds) == 0 {
		kinds = model.AllKinds()
	}
	counts := make(map[model.Kind]int64, len(kinds))
	for _, kind := range kinds {
		item, err := model.NewItem(kind)
		if err != nil {
			return nil, err
		}
		var count int64
		if err := scoped(s.db.WithContext(ctx).Model(item), scope).Count(&count).Error; err != nil {
			return nil, wrapDBError(fmt.Sprintf("failed to count %s items", kind), err)
		}
		counts[kind] = count
	}
	return counts, nil
}

// Distribution computes a fixed-bucket histogram over one of the stored
// temporal attributes. importance_score uses the fixed [0,1] domain;
// access_count and age_days size their domain from the scoped min/max.
func (s *PostgresStore) Distribution(ctx context.Context, scope registrystore.Scope, kind model.Kind, field registrystore.DistributionField, buckets int) ([]registrystore.HistogramBucket, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown memory kind %q", kind)
	}
	if buckets <= 0 {
		buckets = 10
	}
	var expr string
	switch field {
	case registrystore.DistImportance:
		expr = "importance_score"
	case registrystore.DistAccessCount:
		expr = "access_count::double precision"
	case registrystore.DistAgeDays:
		expr = "EXTRACT(EPOCH FROM (NOW() - created_at)) / 86400.0"
	default:
		return nil, &registrystore.InvariantViolationError{Field: "field", Message: fmt.Sprintf("unknown distribution field %q", field)}
	}
	cond, scopeArgs := scopeClause(scope)

	lo, hi := 0.0, 1.0
	if field != registrystore.DistImportance {
		var bounds struct {
			Lo *float64 `gorm:"column:lo"`
			Hi *float64 `gorm:"column:hi"`
		}
		boundsSQL := fmt.Sprintf("SELECT MIN(%s) AS lo, MAX(%s) AS hi FROM %s WHERE %s", expr, expr, table, cond)
		if err := s.db.WithContext(ctx).Raw(boundsSQL, scopeArgs...).Scan(&bounds).Error; err != nil {
			return nil, wrapDBError(fmt.Sprintf("failed to compute %s bounds", field), err)
		}
		if bounds.Lo == nil || bounds.Hi == nil {
			return emptyHistogram(0, 1, buckets), nil
		}
		lo, hi = *bounds.Lo, *bounds.Hi
		if hi <= lo {
			hi = lo + 1
		}
	}

	sql := fmt.Sprintf(`
		SELECT width_bucket(%s, ?, ?, ?) AS bucket, COUNT(*) AS count
		FROM %s
		WHERE %s
		GROUP BY bucket
	`, expr, table, cond)
	type bucketRow struct {
		Bucket int   `gorm:"column:bucket"`
		Count  int64 `gorm:"column:count"`
	}
	var rows []bucketRow
	args := append([]interface{}{lo, hi, buckets}, scopeArgs...)
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, wrapDBError(fmt.Sprintf("failed to compute %s distribution", field), err)
	}

	out := emptyHistogram(lo, hi, buckets)
	for _, r := range rows {
		idx := r.Bucket - 1
		// width_bucket reports values equal to the upper bound in the
		// overflow bucket.
		if r.Bucket > buckets {
			idx = buckets - 1
		}
		if idx >= 0 && idx < buckets {
			out[idx].Count += r.Count
		}
	}
	return out, nil
}

func emptyHistogram(lo, hi float64, buckets int) []registrystore.HistogramBucket {
	width := (hi - lo) / float64(buckets)
	out := make([]registrystore.HistogramBucket, buckets)
	for i := range out {
		out[i] = registrystore.HistogramBucket{Low: lo + float64(i)*width, High: lo + float64(i+1)*width}
	}
	return out
}

// --- Infrastructure ---

func (s *PostgresStore) Transaction(ctx context.Context, fn func(tx registrystore.MemoryStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, cfg: s.cfg})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return wrapDBError("ping failed", sqlDB.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
