package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

func TestTensorFitRecoversEigenvalues(t *testing.T) {
	gtab := testGradientTable(32, 1000)
	fitter, err := newTensorFitter(gtab)
	require.NoError(t, err)

	sig := tensorSignal(gtab, singleFiberEvals, 100)
	evals, ok := fitter.fit(sig, 100)
	require.True(t, ok)

	assert.InDelta(t, singleFiberEvals[0], evals[0], 1e-5)
	assert.InDelta(t, singleFiberEvals[1], evals[1], 1e-5)
	assert.InDelta(t, singleFiberEvals[2], evals[2], 1e-5)
}

func TestFractionalAnisotropy(t *testing.T) {
	// Isotropic diffusion has zero FA.
	assert.InDelta(t, 0.0, FractionalAnisotropy([3]float64{1e-3, 1e-3, 1e-3}), 1e-12)

	// A coherent single fiber sits well above the strictest threshold.
	fa := FractionalAnisotropy(singleFiberEvals)
	assert.Greater(t, fa, 0.7)

	// Degenerate tensor.
	assert.Equal(t, 0.0, FractionalAnisotropy([3]float64{}))
}

func TestTensorDetectorFindsSingleFiberVoxels(t *testing.T) {
	gtab := testGradientTable(32, 1000)
	dwi := singleFiberVolume(5, gtab, singleFiberEvals, 100)

	resp, ratio, nvox, err := TensorDetector{}.Detect(dwi, gtab, nil, 2, 0.7)
	require.NoError(t, err)

	assert.Equal(t, 125, nvox)
	assert.InDelta(t, singleFiberEvals[0], resp.Eigenvalues[0], 1e-5)
	assert.InDelta(t, singleFiberEvals[1], resp.Eigenvalues[1], 1e-5)
	assert.InDelta(t, 100.0, resp.MeanB0, 1e-6)
	assert.InDelta(t, resp.Eigenvalues[1]/resp.Eigenvalues[0], ratio, 1e-12)
}

func TestTensorDetectorRespectsFAThreshold(t *testing.T) {
	gtab := testGradientTable(32, 1000)
	dwi := singleFiberVolume(5, gtab, isotropicEvals, 100)

	_, _, nvox, err := TensorDetector{}.Detect(dwi, gtab, nil, 2, 0.7)
	require.NoError(t, err)
	assert.Zero(t, nvox)
}

func TestTensorDetectorRespectsMask(t *testing.T) {
	gtab := testGradientTable(32, 1000)
	dwi := singleFiberVolume(3, gtab, singleFiberEvals, 100)

	mask := volume.New([3]int{3, 3, 3}, 1, [3]float64{1, 1, 1})
	mask.Set(1, 1, 1, 0, 1)

	_, _, nvox, err := TensorDetector{}.Detect(dwi, gtab, mask, 2, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 1, nvox)
}

func TestFilterShell(t *testing.T) {
	gtab := testGradientTable(32, 1000)
	// Push half the directions onto a different shell.
	for i := 17; i < gtab.Len(); i++ {
		gtab.BValues[i] = 2000
	}
	dwi := singleFiberVolume(2, gtab, singleFiberEvals, 100)

	filtered, filteredTab, err := FilterShell(dwi, gtab, 2000)
	require.NoError(t, err)
	// 1 b0 + 16 directions on the b=2000 shell.
	assert.Equal(t, 17, filteredTab.Len())
	assert.Equal(t, 17, filtered.NumVolumes)
	assert.True(t, filteredTab.IsB0(0))

	_, _, err = FilterShell(dwi, gtab, 3000)
	require.Error(t, err)
}
