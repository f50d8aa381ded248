package signal

import (
	"math"
	"runtime"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

const (
	// RelativePeakThreshold discards peaks whose amplitude is below
	// this fraction of the voxel's largest peak.
	RelativePeakThreshold = 0.5

	// MinSeparationAngleDeg is the minimum angle between two retained
	// peaks of one voxel.
	MinSeparationAngleDeg = 25.0

	// regSphereSize and peakSphereSize are the direction counts of the
	// spheres used for the non-negativity constraint and for peak
	// search.
	regSphereSize  = 362
	peakSphereSize = 724

	// csdIterations is the number of clip-and-refit rounds applied to
	// enforce a non-negative ODF.
	csdIterations = 3
)

// fibonacciHemisphere generates n near-uniform unit directions on the
// upper hemisphere. The ODF is antipodally symmetric, so one hemisphere
// covers every orientation.
func fibonacciHemisphere(n int) []r3.Vector {
	golden := math.Pi * (3 - math.Sqrt(5))
	dirs := make([]r3.Vector, 0, n)
	for i := 0; i < 2*n; i++ {
		z := 1 - 2*float64(i)/float64(2*n-1)
		if z < 0 {
			break
		}
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(i)
		dirs = append(dirs, r3.Vector{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z})
	}
	return dirs
}

// responseHarmonics computes the rotational harmonic coefficients of a
// single-fiber response aligned with z, one per even degree, by sampling
// the prolate tensor signal model and fitting the SH basis.
func responseHarmonics(resp Response, meanBValue float64, order int) ([]float64, error) {
	dirs := fibonacciHemisphere(regSphereSize)
	fitter, err := newSHFitter(order, dirs)
	if err != nil {
		return nil, err
	}
	samples := make([]float64, len(dirs))
	l1 := resp.Eigenvalues[0]
	l23 := (resp.Eigenvalues[1] + resp.Eigenvalues[2]) / 2
	for i, d := range dirs {
		cos2 := d.Z * d.Z
		samples[i] = math.Exp(-meanBValue * (l23 + (l1-l23)*cos2))
	}
	coeffs := fitter.fit(samples)

	// Zonal signal: keep the m == 0 coefficient of each degree.
	out := make([]float64, order/2+1)
	j := 0
	for l := 0; l <= order; l += 2 {
		for m := -l; m <= l; m++ {
			if m == 0 {
				out[l/2] = coeffs[j]
			}
			j++
		}
	}
	return out, nil
}

// FitFODF deconvolves the fiber response from the diffusion signal and
// returns the fiber ODF as SH coefficients, restricted to voxels inside
// the mask (every voxel when mask is nil).
func FitFODF(dwi *volume.Volume, gtab *GradientTable, resp Response, order int,
	mask *volume.Volume) (*volume.Volume, error) {

	if resp.Eigenvalues[0] <= 0 || resp.MeanB0 <= 0 {
		return nil, errors.New("invalid fiber response function")
	}
	dwiIdx := gtab.DWIIndices()
	dirs := make([]r3.Vector, len(dwiIdx))
	var meanB float64
	for j, i := range dwiIdx {
		dirs[j] = gtab.Directions[i]
		meanB += gtab.BValues[i]
	}
	meanB /= float64(len(dwiIdx))

	sigFitter, err := newSHFitter(order, dirs)
	if err != nil {
		return nil, err
	}
	kernel, err := responseHarmonics(resp, meanB, order)
	if err != nil {
		return nil, err
	}
	regFitter, err := newSHFitter(order, fibonacciHemisphere(regSphereSize))
	if err != nil {
		return nil, err
	}

	// Spherical convolution theorem: each degree of the signal SH is
	// the fODF SH scaled by sqrt(4π/(2l+1)) times the kernel's zonal
	// coefficient.
	ncoef := NumSHCoefficients(order)
	scale := make([]float64, ncoef)
	j := 0
	for l := 0; l <= order; l += 2 {
		s := math.Sqrt(4*math.Pi/float64(2*l+1)) * kernel[l/2]
		for m := -l; m <= l; m++ {
			scale[j] = s
			j++
		}
	}

	out := volume.New(dwi.Dims, ncoef, dwi.VoxelSize)
	samples := make([]float64, len(dwiIdx))
	for z := 0; z < dwi.Dims[2]; z++ {
		for y := 0; y < dwi.Dims[1]; y++ {
			for x := 0; x < dwi.Dims[0]; x++ {
				if mask != nil && mask.At(x, y, z, 0) <= 0 {
					continue
				}
				sig := dwi.Signal(x, y, z)
				b0 := gtab.MeanB0(sig)
				if b0 <= 0 {
					continue
				}
				for j, i := range dwiIdx {
					samples[j] = sig[i] / b0
				}
				coeffs := sigFitter.fit(samples)
				for j := range coeffs {
					if math.Abs(scale[j]) < 1e-8 {
						coeffs[j] = 0
						continue
					}
					coeffs[j] /= scale[j]
				}
				// Clip negative ODF amplitudes and refit.
				for it := 0; it < csdIterations; it++ {
					amps := regFitter.eval(coeffs)
					clipped := false
					for i, a := range amps {
						if a < 0 {
							amps[i] = 0
							clipped = true
						}
					}
					if !clipped {
						break
					}
					coeffs = regFitter.fit(amps)
				}
				for j, c := range coeffs {
					out.Set(x, y, z, j, c)
				}
			}
		}
	}
	return out, nil
}

// Peak is one dominant fiber orientation of a voxel: a unit direction
// and its ODF amplitude.
type Peak struct {
	Direction r3.Vector
	Amplitude float64
}

// peaksFromAmplitudes finds up to nPeaks local maxima among sphere
// amplitudes, honoring the relative threshold and minimum separation.
// Amplitudes of returned peaks are normalized by the largest one.
func peaksFromAmplitudes(dirs []r3.Vector, amps []float64, nPeaks int) []Peak {
	minSep := math.Cos(MinSeparationAngleDeg * math.Pi / 180)

	order := make([]int, len(amps))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return amps[order[a]] > amps[order[b]] })

	maxAmp := amps[order[0]]
	if maxAmp <= 0 {
		return nil
	}

	var peaks []Peak
	for _, i := range order {
		if amps[i] < RelativePeakThreshold*maxAmp {
			break
		}
		tooClose := false
		for _, p := range peaks {
			// Antipodally symmetric: compare absolute dot product.
			if math.Abs(dirs[i].Dot(p.Direction)) > minSep {
				tooClose = true
				break
			}
		}
		if tooClose {
			continue
		}
		peaks = append(peaks, Peak{Direction: dirs[i], Amplitude: amps[i] / maxAmp})
		if len(peaks) == nPeaks {
			break
		}
	}
	return peaks
}

// ExtractPeaks evaluates the fODF SH volume on a dense sphere and
// extracts up to nPeaks dominant orientations per voxel, each scaled by
// its normalized amplitude and flattened into a 3*nPeaks feature vector.
// Voxels outside the mask produce zero vectors.
//
// Voxel rows are processed by a worker pool sized to the available CPUs;
// workers write disjoint output regions and share no mutable state.
func ExtractPeaks(fodf *volume.Volume, order, nPeaks int, mask *volume.Volume) (*volume.Volume, error) {
	if NumSHCoefficients(order) != fodf.NumVolumes {
		return nil, errors.Errorf("fODF volume carries %d coefficients, order %d needs %d",
			fodf.NumVolumes, order, NumSHCoefficients(order))
	}
	dirs := fibonacciHemisphere(peakSphereSize)
	basis := SHBasisMatrix(order, dirs)

	out := volume.New(fodf.Dims, 3*nPeaks, fodf.VoxelSize)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for z := 0; z < fodf.Dims[2]; z++ {
		z := z
		g.Go(func() error {
			amps := make([]float64, len(dirs))
			for y := 0; y < fodf.Dims[1]; y++ {
				for x := 0; x < fodf.Dims[0]; x++ {
					if mask != nil && mask.At(x, y, z, 0) <= 0 {
						continue
					}
					coeffs := fodf.Signal(x, y, z)
					nonzero := false
					for i := range amps {
						var a float64
						for j, c := range coeffs {
							a += basis.At(i, j) * c
						}
						amps[i] = a
						if a > 0 {
							nonzero = true
						}
					}
					if !nonzero {
						continue
					}
					for p, peak := range peaksFromAmplitudes(dirs, amps, nPeaks) {
						scaled := peak.Direction.Mul(peak.Amplitude)
						out.Set(x, y, z, 3*p, scaled.X)
						out.Set(x, y, z, 3*p+1, scaled.Y)
						out.Set(x, y, z, 3*p+2, scaled.Z)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
