package signal

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// ResampleSHOrder is the fixed harmonic order used when regularizing a
// raw DWI volume by projecting it through the SH basis and back.
const ResampleSHOrder = 6

// NumSHCoefficients returns the number of coefficients of the even
// symmetric SH basis at the given order.
func NumSHCoefficients(order int) int {
	return (order + 1) * (order + 2) / 2
}

// legendreP evaluates the associated Legendre polynomial P_l^m at x for
// m >= 0, including the Condon-Shortley phase.
func legendreP(l, m int, x float64) float64 {
	pmm := 1.0
	somx2 := math.Sqrt((1 - x) * (1 + x))
	fact := 1.0
	for i := 1; i <= m; i++ {
		pmm *= -fact * somx2
		fact += 2
	}
	if l == m {
		return pmm
	}
	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm = pmmp1
		pmmp1 = pll
	}
	return pll
}

func factorial(n int) float64 {
	out := 1.0
	for i := 2; i <= n; i++ {
		out *= float64(i)
	}
	return out
}

// realSH evaluates the real symmetric SH basis function of degree l and
// order m at spherical angles theta (polar) and phi (azimuth).
func realSH(l, m int, theta, phi float64) float64 {
	absM := m
	if absM < 0 {
		absM = -absM
	}
	norm := math.Sqrt(float64(2*l+1) / (4 * math.Pi) *
		factorial(l-absM) / factorial(l+absM))
	p := legendreP(l, absM, math.Cos(theta))
	switch {
	case m > 0:
		return math.Sqrt2 * norm * p * math.Cos(float64(m)*phi)
	case m < 0:
		return math.Sqrt2 * norm * p * math.Sin(float64(absM)*phi)
	default:
		return norm * p
	}
}

// sphericalAngles converts a unit direction to (theta, phi).
func sphericalAngles(d r3.Vector) (theta, phi float64) {
	theta = math.Acos(math.Max(-1, math.Min(1, d.Z)))
	phi = math.Atan2(d.Y, d.X)
	return theta, phi
}

// SHBasisMatrix builds the design matrix of the even symmetric basis:
// one row per direction, one column per (l, m) pair with l even.
func SHBasisMatrix(order int, dirs []r3.Vector) *mat.Dense {
	cols := NumSHCoefficients(order)
	b := mat.NewDense(len(dirs), cols, nil)
	for i, d := range dirs {
		theta, phi := sphericalAngles(d)
		j := 0
		for l := 0; l <= order; l += 2 {
			for m := -l; m <= l; m++ {
				b.Set(i, j, realSH(l, m, theta, phi))
				j++
			}
		}
	}
	return b
}

// shFitter solves least-squares SH fits against a fixed direction set.
type shFitter struct {
	basis *mat.Dense
	pinv  *mat.Dense
}

// newSHFitter precomputes the pseudo-inverse of the basis matrix so the
// per-voxel fit reduces to one matrix-vector product.
func newSHFitter(order int, dirs []r3.Vector) (*shFitter, error) {
	if len(dirs) < NumSHCoefficients(order) {
		return nil, errors.Errorf(
			"cannot fit SH order %d: %d directions for %d coefficients",
			order, len(dirs), NumSHCoefficients(order))
	}
	basis := SHBasisMatrix(order, dirs)
	var bTb mat.Dense
	bTb.Mul(basis.T(), basis)
	var pinv mat.Dense
	if err := pinv.Solve(&bTb, basis.T()); err != nil {
		return nil, errors.Wrap(err, "SH basis is rank deficient")
	}
	return &shFitter{basis: basis, pinv: &pinv}, nil
}

// fit returns the SH coefficients of one voxel's signal samples.
func (f *shFitter) fit(samples []float64) []float64 {
	s := mat.NewVecDense(len(samples), samples)
	var c mat.VecDense
	c.MulVec(f.pinv, s)
	return c.RawVector().Data
}

// eval reconstructs the sampled signal from SH coefficients.
func (f *shFitter) eval(coeffs []float64) []float64 {
	c := mat.NewVecDense(len(coeffs), coeffs)
	var s mat.VecDense
	s.MulVec(f.basis, c)
	return s.RawVector().Data
}

// ComputeSHCoefficients fits the even symmetric SH basis to the
// diffusion-weighted signal of every voxel, after normalization by the
// voxel's mean b0, and returns the coefficient volume.
func ComputeSHCoefficients(dwi *volume.Volume, gtab *GradientTable, order int) (*volume.Volume, error) {
	if dwi.NumVolumes != gtab.Len() {
		return nil, errors.Errorf("volume has %d acquisitions but gradient table has %d",
			dwi.NumVolumes, gtab.Len())
	}
	dwiIdx := gtab.DWIIndices()
	dirs := make([]r3.Vector, len(dwiIdx))
	for j, i := range dwiIdx {
		dirs[j] = gtab.Directions[i]
	}
	fitter, err := newSHFitter(order, dirs)
	if err != nil {
		return nil, err
	}

	out := volume.New(dwi.Dims, NumSHCoefficients(order), dwi.VoxelSize)
	samples := make([]float64, len(dwiIdx))
	for z := 0; z < dwi.Dims[2]; z++ {
		for y := 0; y < dwi.Dims[1]; y++ {
			for x := 0; x < dwi.Dims[0]; x++ {
				sig := dwi.Signal(x, y, z)
				b0 := gtab.MeanB0(sig)
				if b0 <= 0 {
					continue
				}
				for j, i := range dwiIdx {
					samples[j] = sig[i] / b0
				}
				for j, c := range fitter.fit(samples) {
					out.Set(x, y, z, j, c)
				}
			}
		}
	}
	return out, nil
}

// ResampleDWI regularizes a raw DWI volume by projecting the diffusion
// signal onto the SH basis of order ResampleSHOrder and evaluating it
// back at the original gradient directions. The output keeps the input
// shape; b0 acquisitions pass through unchanged.
func ResampleDWI(dwi *volume.Volume, gtab *GradientTable) (*volume.Volume, error) {
	if dwi.NumVolumes != gtab.Len() {
		return nil, errors.Errorf("volume has %d acquisitions but gradient table has %d",
			dwi.NumVolumes, gtab.Len())
	}
	dwiIdx := gtab.DWIIndices()
	dirs := make([]r3.Vector, len(dwiIdx))
	for j, i := range dwiIdx {
		dirs[j] = gtab.Directions[i]
	}
	fitter, err := newSHFitter(ResampleSHOrder, dirs)
	if err != nil {
		return nil, err
	}

	out := volume.New(dwi.Dims, dwi.NumVolumes, dwi.VoxelSize)
	copy(out.Data, dwi.Data)
	samples := make([]float64, len(dwiIdx))
	for z := 0; z < dwi.Dims[2]; z++ {
		for y := 0; y < dwi.Dims[1]; y++ {
			for x := 0; x < dwi.Dims[0]; x++ {
				sig := dwi.Signal(x, y, z)
				b0 := gtab.MeanB0(sig)
				if b0 <= 0 {
					continue
				}
				for j, i := range dwiIdx {
					samples[j] = sig[i] / b0
				}
				smoothed := fitter.eval(fitter.fit(samples))
				for j, i := range dwiIdx {
					out.Set(x, y, z, i, smoothed[j]*b0)
				}
			}
		}
	}
	return out, nil
}
