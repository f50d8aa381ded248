package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhlegarreta/dwi-ml/pkg/signal"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

func TestNewSHStrategyRejectsOddOrder(t *testing.T) {
	_, err := NewSHStrategy(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SH order must be one of [2,4,6,8], got 5")

	for _, order := range []int{2, 4, 6, 8} {
		s, err := NewSHStrategy(order)
		require.NoError(t, err)
		assert.Equal(t, order, s.Order)
	}
}

func TestNewFODFStrategiesValidateParameters(t *testing.T) {
	_, err := NewFODFSHStrategy(7, nil, nil)
	require.Error(t, err)

	_, err = NewFODFPeaksStrategy(6, 0, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n_peaks must be one of [1,2,3], got 0")

	_, err = NewFODFPeaksStrategy(6, 4, nil, nil)
	require.Error(t, err)

	s, err := NewFODFPeaksStrategy(6, 2, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NPeaks)
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "dwi", NewRawStrategy(false).Name())

	sh, err := NewSHStrategy(6)
	require.NoError(t, err)
	assert.Equal(t, "dwi_sh", sh.Name())

	fodf, err := NewFODFSHStrategy(6, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fodf_sh", fodf.Name())

	peaks, err := NewFODFPeaksStrategy(6, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fodf_peaks", peaks.Name())
}

func TestStrategyStateDicts(t *testing.T) {
	assert.Equal(t, map[string]any{"resample": true}, NewRawStrategy(true).StateDict())

	sh, err := NewSHStrategy(4)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sh_order": 4}, sh.StateDict())

	peaks, err := NewFODFPeaksStrategy(6, 3, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sh_order": 6, "n_peaks": 3}, peaks.StateDict())
}

func TestRawStrategyPassthrough(t *testing.T) {
	gtab := testGradients()
	dwi := volume.New([3]int{2, 2, 2}, gtab.Len(), [3]float64{1, 1, 1})
	for i := 0; i < gtab.Len(); i++ {
		dwi.Set(1, 1, 1, i, float64(10+i))
	}

	features, err := NewRawStrategy(false).Process(dwi, gtab, nil, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, dwi.Dims, features.Dims)
	assert.Equal(t, gtab.Len(), features.FeatureSize)
	got := features.At(1, 1, 1)
	require.Len(t, got, gtab.Len())
	assert.Equal(t, 10.0, got[0])
	assert.Equal(t, float64(10+gtab.Len()-1), got[len(got)-1])
}

func TestSHStrategyFeatureSize(t *testing.T) {
	gtab := testGradients()
	dwi := volume.New([3]int{2, 2, 2}, gtab.Len(), [3]float64{1, 1, 1})
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				for i := 0; i < gtab.Len(); i++ {
					v := 100.0
					if !gtab.IsB0(i) {
						v = 60
					}
					dwi.Set(x, y, z, i, v)
				}
			}
		}
	}

	s, err := NewSHStrategy(2)
	require.NoError(t, err)
	features, err := s.Process(dwi, gtab, nil, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, signal.NumSHCoefficients(2), features.FeatureSize)
}
