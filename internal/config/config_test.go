package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestDefaultTemporalValues(t *testing.T) {
	tmp := DefaultTemporal()
	assert.True(t, tmp.Enabled)
	assert.Equal(t, 0.05, tmp.DecayLambda)
	assert.Equal(t, 1.5, tmp.DecayAlpha)
	assert.Equal(t, 0.7, tmp.RehearsalThreshold)
	assert.Equal(t, 0.1, tmp.DeletionThreshold)
	assert.Equal(t, 365.0, tmp.MaxAgeDays)
	assert.Equal(t, 0.6, tmp.RetrievalWeightRelevance)
	assert.Equal(t, 0.4, tmp.RetrievalWeightTemporal)
}

func TestTemporalValidateRejectsZeroRates(t *testing.T) {
	tmp := DefaultTemporal()
	tmp.DecayLambda = 0
	assert.Error(t, tmp.Validate())

	tmp = DefaultTemporal()
	tmp.DecayAlpha = 0
	assert.Error(t, tmp.Validate())

	tmp = DefaultTemporal()
	tmp.RecencyHalvingRate = 0
	assert.Error(t, tmp.Validate())

	// Disabled temporal reasoning relaxes the positivity requirements.
	tmp = DefaultTemporal()
	tmp.Enabled = false
	tmp.DecayLambda = 0
	tmp.DecayAlpha = 0
	tmp.RecencyHalvingRate = 0
	assert.NoError(t, tmp.Validate())
}

func TestTemporalValidateRejectsNegativeWeights(t *testing.T) {
	tmp := DefaultTemporal()
	tmp.RecencyWeight = -0.1
	assert.Error(t, tmp.Validate())

	tmp = DefaultTemporal()
	tmp.MinImportance = 0.9
	tmp.MaxImportance = 0.1
	assert.Error(t, tmp.Validate())
}

func TestConfigContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, &cfg, got)

	assert.Nil(t, FromContext(context.Background()))
}
