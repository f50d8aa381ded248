package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumSHCoefficients(t *testing.T) {
	assert.Equal(t, 1, NumSHCoefficients(0))
	assert.Equal(t, 6, NumSHCoefficients(2))
	assert.Equal(t, 15, NumSHCoefficients(4))
	assert.Equal(t, 28, NumSHCoefficients(6))
	assert.Equal(t, 45, NumSHCoefficients(8))
}

// A band-limited signal must survive a fit/eval round trip through the
// basis almost exactly.
func TestSHFitEvalRoundTrip(t *testing.T) {
	dirs := testDirections(64)
	fitter, err := newSHFitter(4, dirs)
	require.NoError(t, err)

	// Signal built from the basis itself is exactly representable.
	coeffs := make([]float64, NumSHCoefficients(4))
	coeffs[0] = 1.0
	coeffs[3] = 0.4
	coeffs[10] = -0.2
	samples := fitter.eval(coeffs)

	got := fitter.fit(samples)
	for i := range coeffs {
		assert.InDelta(t, coeffs[i], got[i], 1e-9)
	}
}

func TestSHFitterRejectsTooFewDirections(t *testing.T) {
	_, err := newSHFitter(8, testDirections(20))
	require.Error(t, err)
}

func TestComputeSHCoefficientsShape(t *testing.T) {
	gtab := testGradientTable(45, 1000)
	dwi := singleFiberVolume(3, gtab, singleFiberEvals, 100)

	coeffs, err := ComputeSHCoefficients(dwi, gtab, 6)
	require.NoError(t, err)
	assert.Equal(t, NumSHCoefficients(6), coeffs.NumVolumes)
	assert.Equal(t, dwi.Dims, coeffs.Dims)

	// A symmetric tensor signal carries most of its energy in the
	// even low-order bands; the mean (l=0) coefficient dominates.
	assert.Greater(t, coeffs.At(1, 1, 1, 0), 0.0)
}

func TestComputeSHCoefficientsGradientMismatch(t *testing.T) {
	gtab := testGradientTable(45, 1000)
	dwi := singleFiberVolume(2, gtab, singleFiberEvals, 100)
	dwi.NumVolumes = 3 // desync

	_, err := ComputeSHCoefficients(dwi, gtab, 6)
	require.Error(t, err)
}

func TestResampleDWIPreservesShapeAndB0(t *testing.T) {
	gtab := testGradientTable(45, 1000)
	dwi := singleFiberVolume(3, gtab, singleFiberEvals, 100)

	out, err := ResampleDWI(dwi, gtab)
	require.NoError(t, err)
	assert.Equal(t, dwi.Dims, out.Dims)
	assert.Equal(t, dwi.NumVolumes, out.NumVolumes)

	// b0 acquisitions pass through unchanged.
	assert.Equal(t, dwi.At(1, 1, 1, 0), out.At(1, 1, 1, 0))

	// The smoothed diffusion signal stays close to the original for a
	// clean band-limited input.
	for i := 1; i < gtab.Len(); i++ {
		assert.InDelta(t, dwi.At(1, 1, 1, i), out.At(1, 1, 1, i),
			0.05*dwi.At(1, 1, 1, 0))
	}
}
