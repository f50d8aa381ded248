package models

import "github.com/jhlegarreta/dwi-ml/pkg/tractogram"

// FeatureVolume is one subject's processed diffusion feature volume.
// Data is stored as a 1D array in x-fastest order; the last axis holds
// the per-voxel feature vector (gradient directions, SH coefficients or
// flattened peaks depending on the strategy that produced it).
type FeatureVolume struct {
	// Data is the feature volume as a flat array, voxel-major.
	Data []float64

	// Dims holds the three spatial dimensions in voxels.
	Dims [3]int

	// FeatureSize is the length of the per-voxel feature vector.
	FeatureSize int
}

// At returns the feature vector of the voxel at (x, y, z). The returned
// slice aliases the underlying array.
func (f *FeatureVolume) At(x, y, z int) []float64 {
	idx := ((z*f.Dims[1]+y)*f.Dims[0] + x) * f.FeatureSize
	return f.Data[idx : idx+f.FeatureSize]
}

// SubjectRecord is the per-subject output handed to the persistence
// layer: the processed feature volume, the merged voxel-space tractogram
// identifier, per-streamline lengths and the provenance state.
type SubjectRecord struct {
	// SubjectID is the subject folder name.
	SubjectID string

	// Features is the processed diffusion feature volume.
	Features *FeatureVolume

	// Tractogram holds the merged streamlines in voxel space with the
	// center-of-voxel origin convention.
	Tractogram *tractogram.Tractogram

	// StreamlineLengths holds the euclidean arc length in mm of every
	// streamline in the merged tractogram, in merge order.
	StreamlineLengths []float64

	// StreamlineCount is the final number of streamlines after all
	// filtering and validation.
	StreamlineCount int

	// OriginalStreamlineCount is the total number of streamlines read
	// from disk before any filtering, for attrition reporting.
	OriginalStreamlineCount int

	// State is the provenance record: dataset configuration merged with
	// the volume strategy's own non-default parameters.
	State map[string]any
}
