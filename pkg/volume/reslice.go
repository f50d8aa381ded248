package volume

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Interp selects the interpolation used when resampling a volume.
type Interp int

const (
	// InterpNearest picks the nearest voxel value.
	InterpNearest Interp = iota

	// InterpLinear interpolates trilinearly between the eight
	// surrounding voxels.
	InterpLinear
)

// Sample evaluates the volume at a continuous voxel coordinate for one
// acquisition volume. Out-of-bounds coordinates return 0.
func (v *Volume) Sample(p r3.Vector, t int, interp Interp) float64 {
	if interp == InterpNearest {
		x := int(math.Round(p.X))
		y := int(math.Round(p.Y))
		z := int(math.Round(p.Z))
		if x < 0 || x >= v.Dims[0] || y < 0 || y >= v.Dims[1] || z < 0 || z >= v.Dims[2] {
			return 0
		}
		return v.At(x, y, z, t)
	}

	x0 := int(math.Floor(p.X))
	y0 := int(math.Floor(p.Y))
	z0 := int(math.Floor(p.Z))
	fx := p.X - float64(x0)
	fy := p.Y - float64(y0)
	fz := p.Z - float64(z0)

	var acc float64
	for dz := 0; dz <= 1; dz++ {
		for dy := 0; dy <= 1; dy++ {
			for dx := 0; dx <= 1; dx++ {
				x, y, z := x0+dx, y0+dy, z0+dz
				if x < 0 || x >= v.Dims[0] || y < 0 || y >= v.Dims[1] || z < 0 || z >= v.Dims[2] {
					continue
				}
				wx := fx
				if dx == 0 {
					wx = 1 - fx
				}
				wy := fy
				if dy == 0 {
					wy = 1 - fy
				}
				wz := fz
				if dz == 0 {
					wz = 1 - fz
				}
				acc += wx * wy * wz * v.At(x, y, z, t)
			}
		}
	}
	return acc
}

// Reslice resamples the volume onto the grid of ref, interpolating in
// world space. Used to bring masks acquired at a different resolution
// onto the diffusion grid.
func (v *Volume) Reslice(ref *Volume, interp Interp) (*Volume, error) {
	if ref.Dims[0] <= 0 || ref.Dims[1] <= 0 || ref.Dims[2] <= 0 {
		return nil, errors.New("reference volume has degenerate dimensions")
	}

	// Compose the ref-voxel → world → source-voxel transform once.
	var srcInv mat.Dense
	if err := srcInv.Inverse(v.Affine()); err != nil {
		return nil, errors.Wrap(err, "volume affine is not invertible")
	}
	var xform mat.Dense
	xform.Mul(&srcInv, ref.Affine())

	out := New(ref.Dims, v.NumVolumes, ref.VoxelSize)
	for t := 0; t < v.NumVolumes; t++ {
		for z := 0; z < ref.Dims[2]; z++ {
			for y := 0; y < ref.Dims[1]; y++ {
				for x := 0; x < ref.Dims[0]; x++ {
					src := applyAffine(&xform, r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)})
					out.Set(x, y, z, t, v.Sample(src, t, interp))
				}
			}
		}
	}
	return out, nil
}

// applyAffine maps a point through a 4x4 homogeneous transform.
func applyAffine(a *mat.Dense, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: a.At(0, 0)*p.X + a.At(0, 1)*p.Y + a.At(0, 2)*p.Z + a.At(0, 3),
		Y: a.At(1, 0)*p.X + a.At(1, 1)*p.Y + a.At(1, 2)*p.Z + a.At(1, 3),
		Z: a.At(2, 0)*p.X + a.At(2, 1)*p.Y + a.At(2, 2)*p.Z + a.At(2, 3),
	}
}
