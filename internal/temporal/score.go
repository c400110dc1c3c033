// Package temporal implements the scoring arithmetic that turns stored
// attributes (age, access history, importance) into the scores used for
// ranking, rehearsal, and eviction. The engine does no I/O: time arrives
// as a parameter and every function returns a value in [0,1] for all
// well-typed inputs.
package temporal

import (
	"math"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
)

const secondsPerDay = 86400.0

// Deletion reasons reported by ShouldDelete.
const (
	ReasonMaxAge   = "exceeded max age"
	ReasonLowScore = "temporal score below threshold"
)

// Item is the minimal view of a memory item the engine scores.
type Item struct {
	ImportanceScore float64
	AccessCount     int64
	CreatedAt       time.Time
	LastAccessedAt  *time.Time
}

// FromModel projects a stored item onto the engine's view. BirthTime is
// used as the creation instant, so episodic events age from occurred_at.
func FromModel(m model.MemoryItem) Item {
	tf := m.Temporal()
	return Item{
		ImportanceScore: tf.ImportanceScore,
		AccessCount:     tf.AccessCount,
		CreatedAt:       m.BirthTime(),
		LastAccessedAt:  tf.LastAccessedAt,
	}
}

// Engine evaluates the temporal scoring formulas for a fixed parameter set.
type Engine struct {
	cfg config.Temporal
}

// NewEngine returns an engine bound to the given parameters.
func NewEngine(cfg config.Temporal) Engine {
	return Engine{cfg: cfg}
}

// Params returns the engine's frozen parameter set.
func (e Engine) Params() config.Temporal { return e.cfg }

// AgeDays returns the item's age in days, never negative.
func (e Engine) AgeDays(item Item, now time.Time) float64 {
	return math.Max(0, now.Sub(item.CreatedAt).Seconds()/secondsPerDay)
}

// DecayFactor blends exponential and power-law decay, weighted by the
// clamped importance: low-importance items forget fast on the exponential
// branch, high-importance items retain on the power-law long tail.
func (e Engine) DecayFactor(item Item, now time.Time) float64 {
	t := e.AgeDays(item, now)
	w := clamp(item.ImportanceScore, e.cfg.MinImportance, e.cfg.MaxImportance)

	expTerm := math.Exp(-e.cfg.DecayLambda * t)
	powerTerm := math.Pow(1+t, -e.cfg.DecayAlpha)
	return clamp((1-w)*expTerm+w*powerTerm, 0, 1)
}

// RecencyBonus rewards recent access. Items never accessed score zero.
func (e Engine) RecencyBonus(item Item, now time.Time) float64 {
	if item.LastAccessedAt == nil {
		return 0
	}
	delta := math.Max(0, now.Sub(*item.LastAccessedAt).Seconds()/secondsPerDay)
	return clamp(math.Exp(-e.cfg.RecencyHalvingRate*delta), 0, 1)
}

// FrequencyScore rewards repeated access with logarithmic diminishing
// returns. A never-accessed item scores exactly zero.
func (e Engine) FrequencyScore(item Item) float64 {
	if item.AccessCount <= 0 {
		return 0
	}
	return math.Min(1, math.Log2(float64(item.AccessCount)+1)/e.cfg.FrequencyScale)
}

// TemporalScore combines importance-weighted decay with the recency and
// frequency bonuses. With temporal reasoning disabled, it collapses to
// the clamped importance score.
func (e Engine) TemporalScore(item Item, now time.Time) float64 {
	if !e.cfg.Enabled {
		return clamp(item.ImportanceScore, 0, 1)
	}
	score := item.ImportanceScore*e.DecayFactor(item, now) +
		e.cfg.RecencyWeight*e.RecencyBonus(item, now) +
		e.cfg.FrequencyWeight*e.FrequencyScore(item)
	return clamp(score, 0, 1)
}

// NormalizeLexical maps a raw BM25-style score onto [0,1].
func (e Engine) NormalizeLexical(raw float64) float64 {
	if e.cfg.RelevanceNormalizationScale <= 0 {
		return clamp(raw, 0, 1)
	}
	return clamp(raw/e.cfg.RelevanceNormalizationScale, 0, 1)
}

// NormalizeVector maps a cosine similarity onto [0,1]. Negative
// similarity counts as no relevance.
func (e Engine) NormalizeVector(similarity float64) float64 {
	return clamp(similarity, 0, 1)
}

// CombinedScore blends normalized relevance with the temporal score using
// the configured retrieval weights.
func (e Engine) CombinedScore(relevance, temporal float64) float64 {
	return e.CombinedScoreWeighted(relevance, temporal,
		e.cfg.RetrievalWeightRelevance, e.cfg.RetrievalWeightTemporal)
}

// CombinedScoreWeighted is CombinedScore with per-query weight overrides.
func (e Engine) CombinedScoreWeighted(relevance, temporal, wRel, wTmp float64) float64 {
	if !e.cfg.Enabled {
		return clamp(relevance, 0, 1)
	}
	return clamp(wRel*relevance+wTmp*temporal, 0, 1)
}

// ShouldRehearse reports whether a retrieved item is strengthened.
func (e Engine) ShouldRehearse(relevance float64) bool {
	if !e.cfg.Enabled {
		return false
	}
	return relevance >= e.cfg.RehearsalThreshold
}

// Rehearse applies the strengthening effect to the item's temporal fields.
// Callers persist the change atomically with the access bump.
func (e Engine) Rehearse(tf *model.TemporalFields, now time.Time) {
	tf.ImportanceScore = math.Min(e.cfg.MaxImportance, tf.ImportanceScore+e.cfg.RehearsalBoost)
	tf.RehearsalCount++
	tf.LastModified = model.LastModified{Timestamp: now, Operation: model.OpRehearsed}
}

// TrackAccess records one retrieval of the item.
func (e Engine) TrackAccess(tf *model.TemporalFields, now time.Time) {
	tf.AccessCount++
	tf.LastAccessedAt = &now
}

// ShouldDelete evaluates the deletion predicate. The age limit is checked
// first; importance alone never forces deletion.
func (e Engine) ShouldDelete(item Item, now time.Time) (bool, string) {
	if !e.cfg.Enabled {
		return false, ""
	}
	if e.AgeDays(item, now) > e.cfg.MaxAgeDays {
		return true, ReasonMaxAge
	}
	if e.TemporalScore(item, now) < e.cfg.DeletionThreshold {
		return true, ReasonLowScore
	}
	return false, ""
}

// Ranked carries the scores of one candidate through sorting.
type Ranked struct {
	ID        string
	CreatedAt time.Time
	Relevance float64
	Temporal  float64
	Combined  float64
}

// Less orders candidates best-first: higher combined score, then higher
// relevance, then more recent creation, then lexicographically smaller id.
// The full rule makes ranking deterministic for identical inputs.
func Less(a, b Ranked) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
