package signal

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// Response is a fiber response function: the prolate tensor eigenvalues
// of the canonical single-fiber signal and the mean b0 it was measured
// against.
type Response struct {
	Eigenvalues [3]float64
	MeanB0      float64
}

// Ratio returns the second-to-first eigenvalue ratio, the usual quality
// measure of a response function.
func (r Response) Ratio() float64 {
	if r.Eigenvalues[0] == 0 {
		return 0
	}
	return r.Eigenvalues[1] / r.Eigenvalues[0]
}

// tensorFitter solves the log-linear diffusion tensor fit against a
// fixed gradient scheme.
type tensorFitter struct {
	gtab   *GradientTable
	dwiIdx []int
	pinv   *mat.Dense
}

func newTensorFitter(gtab *GradientTable) (*tensorFitter, error) {
	dwiIdx := gtab.DWIIndices()
	if len(dwiIdx) < 6 {
		return nil, errors.Errorf(
			"tensor fit needs at least 6 diffusion directions, got %d", len(dwiIdx))
	}
	design := mat.NewDense(len(dwiIdx), 6, nil)
	for row, i := range dwiIdx {
		b := gtab.BValues[i]
		d := gtab.Directions[i]
		design.Set(row, 0, b*d.X*d.X)
		design.Set(row, 1, b*d.Y*d.Y)
		design.Set(row, 2, b*d.Z*d.Z)
		design.Set(row, 3, 2*b*d.X*d.Y)
		design.Set(row, 4, 2*b*d.X*d.Z)
		design.Set(row, 5, 2*b*d.Y*d.Z)
	}
	var dTd mat.Dense
	dTd.Mul(design.T(), design)
	var pinv mat.Dense
	if err := pinv.Solve(&dTd, design.T()); err != nil {
		return nil, errors.Wrap(err, "gradient scheme is rank deficient")
	}
	return &tensorFitter{gtab: gtab, dwiIdx: dwiIdx, pinv: &pinv}, nil
}

// fit returns the tensor eigenvalues of one voxel, sorted descending.
func (f *tensorFitter) fit(signal []float64, b0 float64) ([3]float64, bool) {
	y := make([]float64, len(f.dwiIdx))
	for row, i := range f.dwiIdx {
		s := signal[i]
		if s <= 0 {
			s = 1e-6 * b0
		}
		y[row] = math.Log(b0 / s)
	}
	var d mat.VecDense
	d.MulVec(f.pinv, mat.NewVecDense(len(y), y))

	tensor := mat.NewSymDense(3, []float64{
		d.AtVec(0), d.AtVec(3), d.AtVec(4),
		d.AtVec(3), d.AtVec(1), d.AtVec(5),
		d.AtVec(4), d.AtVec(5), d.AtVec(2),
	})
	var eig mat.EigenSym
	if !eig.Factorize(tensor, false) {
		return [3]float64{}, false
	}
	vals := eig.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	return [3]float64{vals[0], vals[1], vals[2]}, true
}

// FractionalAnisotropy computes FA from tensor eigenvalues.
func FractionalAnisotropy(evals [3]float64) float64 {
	l1, l2, l3 := evals[0], evals[1], evals[2]
	den := l1*l1 + l2*l2 + l3*l3
	if den == 0 {
		return 0
	}
	num := (l1-l2)*(l1-l2) + (l2-l3)*(l2-l3) + (l1-l3)*(l1-l3)
	return math.Sqrt(num / (2 * den))
}

// TensorDetector finds single-fiber voxels by tensor fit: voxels inside
// a cubic ROI whose FA exceeds a threshold. It is the default backend of
// the fiber response function estimator.
type TensorDetector struct{}

// Detect fits tensors inside a cubic ROI of the given half-width (in
// voxels, centered on the volume) and reduces the voxels whose FA meets
// the threshold into a Response. It returns the response, the eigenvalue
// ratio and the number of qualifying voxels; a count of zero with a nil
// error means no voxel qualified.
func (TensorDetector) Detect(dwi *volume.Volume, gtab *GradientTable, mask *volume.Volume,
	roiRadius int, faThreshold float64) (Response, float64, int, error) {

	if dwi.NumVolumes != gtab.Len() {
		return Response{}, 0, 0, errors.Errorf(
			"volume has %d acquisitions but gradient table has %d", dwi.NumVolumes, gtab.Len())
	}
	fitter, err := newTensorFitter(gtab)
	if err != nil {
		return Response{}, 0, 0, err
	}

	cx, cy, cz := dwi.Dims[0]/2, dwi.Dims[1]/2, dwi.Dims[2]/2
	lo := func(c int) int {
		if c-roiRadius > 0 {
			return c - roiRadius
		}
		return 0
	}
	hi := func(c, dim int) int {
		if c+roiRadius < dim {
			return c + roiRadius
		}
		return dim - 1
	}

	var sumL1, sumL23, sumB0 float64
	nvox := 0
	for z := lo(cz); z <= hi(cz, dwi.Dims[2]); z++ {
		for y := lo(cy); y <= hi(cy, dwi.Dims[1]); y++ {
			for x := lo(cx); x <= hi(cx, dwi.Dims[0]); x++ {
				if mask != nil && mask.At(x, y, z, 0) <= 0 {
					continue
				}
				sig := dwi.Signal(x, y, z)
				b0 := gtab.MeanB0(sig)
				if b0 <= 0 {
					continue
				}
				evals, ok := fitter.fit(sig, b0)
				if !ok || FractionalAnisotropy(evals) < faThreshold {
					continue
				}
				sumL1 += evals[0]
				sumL23 += (evals[1] + evals[2]) / 2
				sumB0 += b0
				nvox++
			}
		}
	}
	if nvox == 0 {
		return Response{}, 0, 0, nil
	}

	n := float64(nvox)
	resp := Response{
		Eigenvalues: [3]float64{sumL1 / n, sumL23 / n, sumL23 / n},
		MeanB0:      sumB0 / n,
	}
	return resp, resp.Ratio(), nvox, nil
}
