// Package volume provides the in-memory representation of diffusion MRI
// volumes, NIfTI file loading and reference-grid resampling.
package volume

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Volume is a 3D or 4D image on a voxel grid. Data is stored as a flat
// float64 array, x fastest, then y, z and finally the acquisition axis.
type Volume struct {
	// Data holds the voxel values.
	Data []float64

	// Dims are the spatial dimensions in voxels.
	Dims [3]int

	// NumVolumes is the size of the acquisition axis: 1 for scalar
	// maps and masks, one per gradient direction for DWI data.
	NumVolumes int

	// VoxelSize is the physical voxel extent in mm along each axis.
	VoxelSize [3]float64
}

// New allocates a zero-filled volume with the given geometry.
func New(dims [3]int, numVolumes int, voxelSize [3]float64) *Volume {
	return &Volume{
		Data:       make([]float64, dims[0]*dims[1]*dims[2]*numVolumes),
		Dims:       dims,
		NumVolumes: numVolumes,
		VoxelSize:  voxelSize,
	}
}

func (v *Volume) index(x, y, z, t int) int {
	return ((t*v.Dims[2]+z)*v.Dims[1]+y)*v.Dims[0] + x
}

// At returns the value at voxel (x, y, z) of acquisition volume t.
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[v.index(x, y, z, t)]
}

// Set stores a value at voxel (x, y, z) of acquisition volume t.
func (v *Volume) Set(x, y, z, t int, value float64) {
	v.Data[v.index(x, y, z, t)] = value
}

// Signal returns the per-acquisition signal vector of one voxel.
func (v *Volume) Signal(x, y, z int) []float64 {
	out := make([]float64, v.NumVolumes)
	for t := 0; t < v.NumVolumes; t++ {
		out[t] = v.At(x, y, z, t)
	}
	return out
}

// VoxelCount returns the number of spatial voxels.
func (v *Volume) VoxelCount() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// InBounds reports whether the continuous voxel coordinate p lies inside
// the volume grid.
func (v *Volume) InBounds(p r3.Vector) bool {
	return p.X >= 0 && p.X < float64(v.Dims[0]) &&
		p.Y >= 0 && p.Y < float64(v.Dims[1]) &&
		p.Z >= 0 && p.Z < float64(v.Dims[2])
}

// Affine returns the 4x4 voxel-to-world matrix of the volume grid. The
// grid is axis aligned, so the matrix is the voxel-size diagonal.
func (v *Volume) Affine() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	a.Set(0, 0, v.VoxelSize[0])
	a.Set(1, 1, v.VoxelSize[1])
	a.Set(2, 2, v.VoxelSize[2])
	a.Set(3, 3, 1)
	return a
}

// WorldToVoxel maps a point from world (RAS mm) coordinates onto the
// continuous voxel grid.
func (v *Volume) WorldToVoxel(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.X / v.VoxelSize[0],
		Y: p.Y / v.VoxelSize[1],
		Z: p.Z / v.VoxelSize[2],
	}
}

// VoxelToWorld maps a continuous voxel coordinate to world (RAS mm).
func (v *Volume) VoxelToWorld(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.X * v.VoxelSize[0],
		Y: p.Y * v.VoxelSize[1],
		Z: p.Z * v.VoxelSize[2],
	}
}

// SelectVolumes returns a new volume keeping only the given acquisition
// indices, in the given order.
func (v *Volume) SelectVolumes(indices []int) *Volume {
	out := New(v.Dims, len(indices), v.VoxelSize)
	for ti, t := range indices {
		n := v.VoxelCount()
		copy(out.Data[ti*n:(ti+1)*n], v.Data[t*n:(t+1)*n])
	}
	return out
}

// SameGrid reports whether two volumes share dimensions and voxel size.
func (v *Volume) SameGrid(other *Volume) bool {
	return v.Dims == other.Dims && v.VoxelSize == other.VoxelSize
}
