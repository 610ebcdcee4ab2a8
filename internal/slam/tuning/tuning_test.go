package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMapperTuningMatchesGetters(t *testing.T) {
	empty := EmptyMapperTuning()
	def := DefaultMapperTuning()

	assert.Equal(t, empty.GetDescriptorDistanceHigh(), def.GetDescriptorDistanceHigh())
	assert.Equal(t, empty.GetForwardMotionThreshold(), def.GetForwardMotionThreshold())
	assert.Equal(t, empty.GetCovisibilityMinSharedObservations(), def.GetCovisibilityMinSharedObservations())
	assert.Equal(t, 100, def.GetDescriptorDistanceHigh())
	assert.Equal(t, 50, def.GetDescriptorDistanceLow())
	assert.Equal(t, 40.0, def.GetForwardMotionThreshold())
}

func TestWithBuildersOverrideWithoutMutatingReceiver(t *testing.T) {
	base := DefaultMapperTuning()
	overridden := base.WithForwardMotionThreshold(20)

	assert.Equal(t, 40.0, base.GetForwardMotionThreshold())
	assert.Equal(t, 20.0, overridden.GetForwardMotionThreshold())

	overridden2 := base.WithCovisibilityThreshold(5)
	assert.Equal(t, 15, base.GetCovisibilityMinSharedObservations())
	assert.Equal(t, 5, overridden2.GetCovisibilityMinSharedObservations())
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := EmptyMapperTuning().WithDescriptorDistanceThresholds(100, 50)
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeRatio(t *testing.T) {
	cfg := EmptyMapperTuning()
	bad := 1.5
	cfg.MapPointCullingMinFoundRatio = &bad
	require.Error(t, cfg.Validate())
}

func TestLoadMapperTuningFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"forward_motion_threshold": 25}`), 0o644))

	cfg, err := LoadMapperTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.GetForwardMotionThreshold())
	assert.Equal(t, 100, cfg.GetDescriptorDistanceHigh())
}

func TestLoadMapperTuningRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	_, err := LoadMapperTuning(path)
	require.Error(t, err)
}
