package signal

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// testDirections generates n well-spread unit directions.
func testDirections(n int) []r3.Vector {
	golden := math.Pi * (3 - math.Sqrt(5))
	dirs := make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(i)
		dirs[i] = r3.Vector{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
	}
	return dirs
}

// testGradientTable builds a table with one b0 followed by n diffusion
// directions at the given b-value.
func testGradientTable(n int, bValue float64) *GradientTable {
	dirs := append([]r3.Vector{{}}, testDirections(n)...)
	bvals := make([]float64, n+1)
	for i := 1; i <= n; i++ {
		bvals[i] = bValue
	}
	gtab, err := NewGradientTable(bvals, dirs)
	if err != nil {
		panic(err)
	}
	return gtab
}

// tensorSignal evaluates the single-tensor signal model for a diagonal
// tensor aligned with the coordinate axes.
func tensorSignal(gtab *GradientTable, evals [3]float64, s0 float64) []float64 {
	out := make([]float64, gtab.Len())
	for i := range out {
		if gtab.IsB0(i) {
			out[i] = s0
			continue
		}
		d := gtab.Directions[i]
		adc := evals[0]*d.X*d.X + evals[1]*d.Y*d.Y + evals[2]*d.Z*d.Z
		out[i] = s0 * math.Exp(-gtab.BValues[i]*adc)
	}
	return out
}

// singleFiberVolume fills a cubic volume with the same single-fiber
// signal in every voxel.
func singleFiberVolume(size int, gtab *GradientTable, evals [3]float64, s0 float64) *volume.Volume {
	v := volume.New([3]int{size, size, size}, gtab.Len(), [3]float64{1, 1, 1})
	sig := tensorSignal(gtab, evals, s0)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				for t, s := range sig {
					v.Set(x, y, z, t, s)
				}
			}
		}
	}
	return v
}

// prolate eigenvalues of a coherent single-fiber population, in mm²/s.
var singleFiberEvals = [3]float64{1.7e-3, 0.3e-3, 0.3e-3}

// isotropicEvals model free water, far below any FA threshold.
var isotropicEvals = [3]float64{1.0e-3, 1.0e-3, 1.0e-3}
