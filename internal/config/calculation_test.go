package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadCalculationConfigDefaultsWhenFileMissing(t *testing.T) {
	holder, err := LoadCalculationConfig(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Zero(t, cfg.DefaultMinFarmSizeHectares)
	assert.Equal(t, "rainfed_upland", cfg.FallbackFarmType)
	assert.Equal(t, "registered_owner", cfg.FallbackTenureType)
	assert.Equal(t, []float64{0.5, 1, 2, 3, 5, 10}, cfg.PreviewSampleHectares)
}

func TestLoadCalculationConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`calculation:
  defaultMinFarmSizeHectares: 0.25
  fallbackFarmType: irrigated
  fallbackTenureType: tenant
  previewSampleHectares: [4, 1, 2]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calculation.yml"), body, 0o600))

	holder, err := LoadCalculationConfig(zap.NewNop(), dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 0.25, cfg.DefaultMinFarmSizeHectares)
	assert.Equal(t, "irrigated", cfg.FallbackFarmType)
	assert.Equal(t, "tenant", cfg.FallbackTenureType)
	assert.Equal(t, []float64{1, 2, 4}, cfg.PreviewSampleHectares)
}

func TestLoadCalculationConfigMergesPartialFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`calculation:
  fallbackFarmType: irrigated
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calculation.yml"), body, 0o600))

	holder, err := LoadCalculationConfig(zap.NewNop(), dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "irrigated", cfg.FallbackFarmType)
	assert.Equal(t, "registered_owner", cfg.FallbackTenureType)
	assert.Zero(t, cfg.DefaultMinFarmSizeHectares)
}

func TestLoadCalculationConfigRejectsInvalidSamples(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`calculation:
  previewSampleHectares: [0, 1]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calculation.yml"), body, 0o600))

	_, err := LoadCalculationConfig(zap.NewNop(), dir)
	assert.Error(t, err)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *CalculationConfigHolder
	assert.Equal(t, DefaultCalculationConfig(), holder.Get())
}
