package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/clock"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"github.com/tessellated-ai/temporal-memory-service/internal/security"
	"github.com/tessellated-ai/temporal-memory-service/internal/temporal"
)

const maxSamplesPerKind = 20

// DecaySample describes one deleted (or deletable, in dry-run) item kept in
// the sweep report for operator inspection.
type DecaySample struct {
	ID       string  `json:"id"`
	Reason   string  `json:"reason"`
	Temporal float64 `json:"temporalScore"`
	AgeDays  float64 `json:"ageDays"`
}

// KindStats counts one kind's sweep progress. A batch that fails leaves
// its rows unscanned and bumps Errors; committed batches stay committed.
type KindStats struct {
	Scanned  int64         `json:"scanned"`
	ToDelete int64         `json:"toDelete"`
	Deleted  int64         `json:"deleted"`
	Errors   int64         `json:"errors"`
	Samples  []DecaySample `json:"samples,omitempty"`
}

// DecayReport summarizes one sweep.
type DecayReport struct {
	StartedAt     time.Time                 `json:"startedAt"`
	FinishedAt    time.Time                 `json:"finishedAt"`
	Organizations int                       `json:"organizations"`
	Kinds         map[model.Kind]*KindStats `json:"kinds"`
	// ByReason groups the doomed items by deletion reason; in a dry run
	// these are the would-be deletions.
	ByReason map[string]int64 `json:"byReason"`
	DryRun   bool             `json:"dryRun"`
}

func newDecayReport(startedAt time.Time, dryRun bool) *DecayReport {
	return &DecayReport{
		StartedAt: startedAt,
		Kinds:     map[model.Kind]*KindStats{},
		ByReason:  map[string]int64{},
		DryRun:    dryRun,
	}
}

func (r *DecayReport) kind(kind model.Kind) *KindStats {
	stats := r.Kinds[kind]
	if stats == nil {
		stats = &KindStats{}
		r.Kinds[kind] = stats
	}
	return stats
}

// Scanned sums the per-kind scan counts.
func (r *DecayReport) Scanned() int64 {
	var n int64
	for _, stats := range r.Kinds {
		n += stats.Scanned
	}
	return n
}

// Deleted sums the per-kind delete counts.
func (r *DecayReport) Deleted() int64 {
	var n int64
	for _, stats := range r.Kinds {
		n += stats.Deleted
	}
	return n
}

// Partial reports whether any batch failed during the sweep.
func (r *DecayReport) Partial() bool {
	for _, stats := range r.Kinds {
		if stats.Errors > 0 {
			return true
		}
	}
	return false
}

// DecayService sweeps stored items, scoring each against a single
// evaluation instant and deleting the ones past their useful life.
type DecayService struct {
	store  registrystore.MemoryStore
	vector registryvector.VectorStore
	engine temporal.Engine
	clock  clock.Clock
	cfg    *config.Config
}

func NewDecayService(store registrystore.MemoryStore, vector registryvector.VectorStore, cfg *config.Config, clk clock.Clock) *DecayService {
	if clk == nil {
		clk = clock.System()
	}
	return &DecayService{
		store:  store,
		vector: vector,
		engine: temporal.NewEngine(cfg.Temporal),
		clock:  clk,
		cfg:    cfg,
	}
}

// SweepOptions tunes one sweep.
type SweepOptions struct {
	// DryRun scores and reports without deleting anything.
	DryRun bool
	// BatchSize overrides the configured DecayBatchSize when positive.
	BatchSize int
}

func (d *DecayService) batchSize(opts SweepOptions) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return d.cfg.DecayBatchSize
}

// Start begins the periodic sweep loop. Returns when ctx is cancelled.
func (d *DecayService) Start(ctx context.Context) {
	if !d.cfg.Temporal.Enabled {
		log.Info("Decay sweeps disabled")
		return
	}
	if d.cfg.DecayInterval <= 0 {
		log.Info("Decay scheduler disabled", "interval", d.cfg.DecayInterval)
		return
	}
	ticker := time.NewTicker(d.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.RunOnce(ctx, SweepOptions{})
			if err != nil {
				log.Error("Decay sweep failed", "err", err)
				continue
			}
			log.Info("Decay sweep complete",
				"organizations", report.Organizations,
				"scanned", report.Scanned(),
				"deleted", report.Deleted(),
				"partial", report.Partial(),
				"duration", report.FinishedAt.Sub(report.StartedAt),
			)
		}
	}
}

// RunOnce walks all organizations and kinds. Every item is scored against
// the same instant so a long sweep cannot shift decisions mid-run.
func (d *DecayService) RunOnce(ctx context.Context, opts SweepOptions) (*DecayReport, error) {
	report := newDecayReport(d.clock.Now(), opts.DryRun)

	orgs, err := d.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	report.Organizations = len(orgs)

	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, kind := range model.AllKinds() {
			d.sweepKind(ctx, org, nil, kind, report.StartedAt, d.batchSize(opts), report)
		}
	}

	report.FinishedAt = d.clock.Now()
	return report, nil
}

// RunForTenant sweeps a single organization, or a single user's own items
// when userID is set. Organization-wide items are never deleted by a
// user-scoped sweep.
func (d *DecayService) RunForTenant(ctx context.Context, organizationID string, userID *string, opts SweepOptions) (*DecayReport, error) {
	if organizationID == "" {
		return nil, &registrystore.InvariantViolationError{Field: "organizationId", Message: "organizationId is required"}
	}
	report := newDecayReport(d.clock.Now(), opts.DryRun)
	report.Organizations = 1

	for _, kind := range model.AllKinds() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.sweepKind(ctx, organizationID, userID, kind, report.StartedAt, d.batchSize(opts), report)
	}

	report.FinishedAt = d.clock.Now()
	return report, nil
}

// sweepKind pages through one kind oldest-first. Scan and delete ride the
// same transaction so the row locks taken by the scan cover the deletes; a
// failed batch is counted and ends this kind's sweep without touching the
// batches already committed.
func (d *DecayService) sweepKind(ctx context.Context, org string, userID *string, kind model.Kind, now time.Time, batchSize int, report *DecayReport) {
	stats := report.kind(kind)

	var after *registrystore.ScanCursor
	for {
		// Batch results stay in locals until the transaction commits, so a
		// failed or retried batch never shows up in the report.
		var scanned, deleted int64
		var doomed []string
		var samples []DecaySample
		var doomedReasons map[string]string

		err := d.store.Transaction(ctx, func(tx registrystore.MemoryStore) error {
			scanned, deleted = 0, 0
			doomed, samples = nil, nil
			doomedReasons = map[string]string{}

			items, err := tx.ScanForDecay(ctx, org, userID, kind, after, batchSize)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				after = nil
				return nil
			}
			last := items[len(items)-1]
			after = &registrystore.ScanCursor{CreatedAt: last.GetCreatedAt(), ID: last.GetID()}
			scanned = int64(len(items))

			for _, item := range items {
				ti := temporal.FromModel(item)
				del, reason := d.engine.ShouldDelete(ti, now)
				if !del {
					continue
				}
				doomed = append(doomed, item.GetID())
				doomedReasons[item.GetID()] = reason
				if len(stats.Samples)+len(samples) < maxSamplesPerKind {
					samples = append(samples, DecaySample{
						ID:       item.GetID(),
						Reason:   reason,
						Temporal: d.engine.TemporalScore(ti, now),
						AgeDays:  d.engine.AgeDays(ti, now),
					})
				}
			}
			if report.DryRun || len(doomed) == 0 {
				return nil
			}
			n, err := tx.DeleteBatch(ctx, org, kind, doomed)
			if err != nil {
				return err
			}
			deleted = n
			return nil
		})
		if err != nil {
			stats.Errors++
			log.Error("Decay batch failed", "organization", org, "kind", kind, "err", err)
			return
		}

		stats.Scanned += scanned
		stats.Deleted += deleted
		stats.Samples = append(stats.Samples, samples...)
		stats.ToDelete += int64(len(doomed))
		for _, id := range doomed {
			report.ByReason[doomedReasons[id]]++
		}
		if !report.DryRun && len(doomed) > 0 {
			if security.DecayDeletedTotal != nil {
				for _, id := range doomed {
					security.DecayDeletedTotal.WithLabelValues(doomedReasons[id]).Inc()
				}
			}
			// Embeddings go after the commit; a failure here leaves
			// orphans the next upsert or sweep cleans up.
			if d.vector != nil && d.vector.IsEnabled() {
				if err := d.vector.DeleteItems(ctx, kind, doomed); err != nil {
					log.Error("Decay: vector delete failed", "kind", kind, "err", err)
				}
			}
		}

		if after == nil {
			return
		}
	}
}
