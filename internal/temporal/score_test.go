package temporal

import (
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func defaultEngine() Engine {
	return NewEngine(config.DefaultTemporal())
}

func itemAged(days float64, importance float64) Item {
	return Item{
		ImportanceScore: importance,
		CreatedAt:       testNow.Add(-time.Duration(days * 24 * float64(time.Hour))),
	}
}

func TestDecayLowImportance(t *testing.T) {
	e := defaultEngine()
	item := itemAged(30, 0.2)

	decay := e.DecayFactor(item, testNow)
	// 0.8*e^-1.5 + 0.2*31^-1.5
	assert.InDelta(t, 0.8*math.Exp(-1.5)+0.2*math.Pow(31, -1.5), decay, 1e-9)
	assert.InDelta(t, 0.1797, decay, 0.0005)

	assert.Zero(t, e.RecencyBonus(item, testNow))
	assert.Zero(t, e.FrequencyScore(item))

	temporal := e.TemporalScore(item, testNow)
	assert.InDelta(t, 0.2*decay, temporal, 1e-9)

	del, reason := e.ShouldDelete(item, testNow)
	assert.True(t, del)
	assert.Equal(t, ReasonLowScore, reason)
}

func TestDecayHighImportance(t *testing.T) {
	e := defaultEngine()
	item := itemAged(30, 0.9)

	decay := e.DecayFactor(item, testNow)
	assert.InDelta(t, 0.1*math.Exp(-1.5)+0.9*math.Pow(31, -1.5), decay, 1e-9)

	temporal := e.TemporalScore(item, testNow)
	assert.InDelta(t, 0.9*decay, temporal, 1e-9)
	assert.Less(t, temporal, 0.1, "still below the deletion threshold")

	del, _ := e.ShouldDelete(item, testNow)
	assert.True(t, del)
}

func TestRecentAccessSavesOldItem(t *testing.T) {
	e := defaultEngine()
	item := itemAged(200, 0.5)
	item.AccessCount = 10
	lastAccess := testNow.Add(-48 * time.Hour)
	item.LastAccessedAt = &lastAccess

	assert.InDelta(t, math.Exp(-0.2), e.RecencyBonus(item, testNow), 1e-9)
	assert.InDelta(t, math.Log2(11)/10, e.FrequencyScore(item), 1e-9)

	temporal := e.TemporalScore(item, testNow)
	assert.InDelta(t, 0.3149, temporal, 0.0005)

	del, _ := e.ShouldDelete(item, testNow)
	assert.False(t, del, "recent access keeps the item above threshold and under max age")
}

func TestMaxAgeOverridesHighScore(t *testing.T) {
	e := defaultEngine()
	item := itemAged(400, 0.95)
	item.AccessCount = 500
	lastAccess := testNow.Add(-time.Hour)
	item.LastAccessedAt = &lastAccess

	require.Greater(t, e.TemporalScore(item, testNow), e.Params().DeletionThreshold)

	del, reason := e.ShouldDelete(item, testNow)
	assert.True(t, del)
	assert.Equal(t, ReasonMaxAge, reason)
}

func TestMaxAgeBoundaryIsStrict(t *testing.T) {
	e := defaultEngine()

	// Kept alive by access so only the age check matters.
	item := itemAged(365, 0.9)
	item.AccessCount = 100
	lastAccess := testNow
	item.LastAccessedAt = &lastAccess

	del, _ := e.ShouldDelete(item, testNow)
	assert.False(t, del, "age exactly at max-age-days is retained")

	item.CreatedAt = item.CreatedAt.Add(-time.Hour)
	del, reason := e.ShouldDelete(item, testNow)
	assert.True(t, del)
	assert.Equal(t, ReasonMaxAge, reason)
}

func TestDeletionThresholdIsStrict(t *testing.T) {
	cfg := config.DefaultTemporal()
	e := NewEngine(cfg)
	item := itemAged(30, 0.2)
	score := e.TemporalScore(item, testNow)

	cfg.DeletionThreshold = score
	del, _ := NewEngine(cfg).ShouldDelete(item, testNow)
	assert.False(t, del, "score exactly at the threshold is retained")

	cfg.DeletionThreshold = score + 1e-9
	del, reason := NewEngine(cfg).ShouldDelete(item, testNow)
	assert.True(t, del)
	assert.Equal(t, ReasonLowScore, reason)
}

func TestZeroAgeBoundaries(t *testing.T) {
	e := defaultEngine()

	item := itemAged(0, 0.5)
	assert.InDelta(t, 1.0, e.DecayFactor(item, testNow), 1e-9)
	assert.Zero(t, e.RecencyBonus(item, testNow), "never accessed")
	assert.Zero(t, e.FrequencyScore(item))

	item.LastAccessedAt = &testNow
	assert.InDelta(t, 1.0, e.RecencyBonus(item, testNow), 1e-9)

	// Clock skew must not produce a negative age.
	future := itemAged(-1, 0.5)
	assert.Zero(t, e.AgeDays(future, testNow))
	assert.InDelta(t, 1.0, e.DecayFactor(future, testNow), 1e-9)
}

func TestImportanceExtremesSelectPureBranches(t *testing.T) {
	e := defaultEngine()

	exponential := itemAged(42, 0.0)
	assert.InDelta(t, math.Exp(-0.05*42), e.DecayFactor(exponential, testNow), 1e-9)

	powerLaw := itemAged(42, 1.0)
	assert.InDelta(t, math.Pow(43, -1.5), e.DecayFactor(powerLaw, testNow), 1e-9)
}

func TestScoresStayBounded(t *testing.T) {
	e := defaultEngine()
	for _, days := range []float64{0, 0.5, 1, 7, 30, 365, 10000} {
		for _, importance := range []float64{0, 0.25, 0.5, 0.75, 1, 1.5, -0.5} {
			for _, access := range []int64{0, 1, 10, 1 << 40} {
				item := itemAged(days, importance)
				item.AccessCount = access
				if access > 0 {
					la := testNow.Add(-time.Duration(days/2*24) * time.Hour)
					item.LastAccessedAt = &la
				}
				name := fmt.Sprintf("d=%v w=%v n=%v", days, importance, access)
				for _, score := range []float64{
					e.DecayFactor(item, testNow),
					e.RecencyBonus(item, testNow),
					e.FrequencyScore(item),
					e.TemporalScore(item, testNow),
					e.CombinedScore(1, e.TemporalScore(item, testNow)),
				} {
					assert.GreaterOrEqual(t, score, 0.0, name)
					assert.LessOrEqual(t, score, 1.0, name)
				}
			}
		}
	}
}

func TestDecayMonotoneInAge(t *testing.T) {
	e := defaultEngine()
	for _, importance := range []float64{0, 0.3, 0.7, 1} {
		prev := math.Inf(1)
		for days := 0.0; days <= 1000; days += 13 {
			d := e.DecayFactor(itemAged(days, importance), testNow)
			assert.LessOrEqual(t, d, prev, "w=%v days=%v", importance, days)
			prev = d
		}
	}
}

func TestRecencyHelps(t *testing.T) {
	e := defaultEngine()
	base := itemAged(100, 0.5)
	base.AccessCount = 5

	prev := -1.0
	for _, daysAgo := range []float64{90, 30, 7, 1, 0} {
		la := testNow.Add(-time.Duration(daysAgo * 24 * float64(time.Hour)))
		item := base
		item.LastAccessedAt = &la
		score := e.TemporalScore(item, testNow)
		assert.GreaterOrEqual(t, score, prev, "daysAgo=%v", daysAgo)
		prev = score
	}
}

func TestFrequencyDiminishingReturns(t *testing.T) {
	e := defaultEngine()
	item := itemAged(10, 0.5)

	prevScore := -1.0
	prevGain := math.Inf(1)
	for n := int64(0); n < 64; n++ {
		item.AccessCount = n
		score := e.FrequencyScore(item)
		assert.GreaterOrEqual(t, score, prevScore, "n=%d", n)
		if n > 1 {
			gain := score - prevScore
			assert.LessOrEqual(t, gain, prevGain+1e-12, "n=%d", n)
			prevGain = gain
		}
		prevScore = score
	}
}

func TestImportanceHelpsAtBirth(t *testing.T) {
	e := defaultEngine()
	prev := -1.0
	for w := 0.0; w <= 1.0; w += 0.05 {
		score := e.TemporalScore(itemAged(0, w), testNow)
		assert.GreaterOrEqual(t, score, prev, "w=%v", w)
		prev = score
	}
}

func TestDisabledEngineCollapsesToImportance(t *testing.T) {
	cfg := config.DefaultTemporal()
	cfg.Enabled = false
	e := NewEngine(cfg)

	item := itemAged(1000, 0.42)
	assert.InDelta(t, 0.42, e.TemporalScore(item, testNow), 1e-9)
	assert.False(t, e.ShouldRehearse(1.0))

	del, _ := e.ShouldDelete(item, testNow)
	assert.False(t, del)

	assert.InDelta(t, 0.9, e.CombinedScore(0.9, 0.1), 1e-9, "combined score ignores temporal when disabled")
}

func TestRelevanceNormalization(t *testing.T) {
	e := defaultEngine()

	assert.InDelta(t, 0.5, e.NormalizeLexical(5), 1e-9)
	assert.InDelta(t, 1.0, e.NormalizeLexical(25), 1e-9)
	assert.Zero(t, e.NormalizeLexical(-1))

	assert.InDelta(t, 0.73, e.NormalizeVector(0.73), 1e-9)
	assert.Zero(t, e.NormalizeVector(-0.4))
	assert.InDelta(t, 1.0, e.NormalizeVector(1.2), 1e-9)
}

func TestCombinedScoreClamped(t *testing.T) {
	cfg := config.DefaultTemporal()
	cfg.RetrievalWeightRelevance = 0.9
	cfg.RetrievalWeightTemporal = 0.9
	e := NewEngine(cfg)

	assert.InDelta(t, 1.0, e.CombinedScore(1, 1), 1e-9, "weights exceeding 1 still clamp")
	assert.InDelta(t, 0.9*0.5+0.9*0.2, e.CombinedScore(0.5, 0.2), 1e-9)
}

func TestRehearsal(t *testing.T) {
	e := defaultEngine()
	assert.False(t, e.ShouldRehearse(0.69))
	assert.True(t, e.ShouldRehearse(0.7))
	assert.True(t, e.ShouldRehearse(0.9))

	tf := &model.TemporalFields{ImportanceScore: 0.5, RehearsalCount: 2}
	e.Rehearse(tf, testNow)
	assert.InDelta(t, 0.55, tf.ImportanceScore, 1e-9)
	assert.Equal(t, int64(3), tf.RehearsalCount)
	assert.Equal(t, model.OpRehearsed, tf.LastModified.Operation)
	assert.Equal(t, testNow, tf.LastModified.Timestamp)

	// Importance clamps at the maximum.
	tf.ImportanceScore = 0.98
	e.Rehearse(tf, testNow)
	assert.InDelta(t, 1.0, tf.ImportanceScore, 1e-9)
}

func TestTrackAccess(t *testing.T) {
	e := defaultEngine()
	tf := &model.TemporalFields{AccessCount: 7}
	e.TrackAccess(tf, testNow)
	assert.Equal(t, int64(8), tf.AccessCount)
	require.NotNil(t, tf.LastAccessedAt)
	assert.Equal(t, testNow, *tf.LastAccessedAt)
}

func TestRankingDeterministic(t *testing.T) {
	early := testNow.Add(-time.Hour)
	ranked := []Ranked{
		{ID: "b", CreatedAt: testNow, Relevance: 0.5, Combined: 0.5},
		{ID: "a", CreatedAt: testNow, Relevance: 0.5, Combined: 0.5},
		{ID: "c", CreatedAt: early, Relevance: 0.5, Combined: 0.5},
		{ID: "d", CreatedAt: early, Relevance: 0.9, Combined: 0.5},
		{ID: "e", CreatedAt: early, Relevance: 0.1, Combined: 0.8},
	}

	for range 10 {
		shuffled := append([]Ranked(nil), ranked...)
		sort.Slice(shuffled, func(i, j int) bool { return Less(shuffled[i], shuffled[j]) })
		ids := make([]string, len(shuffled))
		for i, r := range shuffled {
			ids[i] = r.ID
		}
		// Combined desc, then relevance desc, then created desc, then id asc.
		assert.Equal(t, []string{"e", "d", "a", "b", "c"}, ids)
	}
}

func TestDeletionPredicateStable(t *testing.T) {
	e := defaultEngine()
	item := itemAged(100, 0.8)
	item.AccessCount = 20
	la := testNow.Add(-24 * time.Hour)
	item.LastAccessedAt = &la

	del, _ := e.ShouldDelete(item, testNow)
	require.False(t, del)

	// A small step forward must not flip the decision.
	del, _ = e.ShouldDelete(item, testNow.Add(time.Second))
	assert.False(t, del)
}
