package tractogram

import (
	"log/slog"

	"github.com/jhlegarreta/dwi-ml/pkg/config"
)

// compressionTolerance is the maximum deviation in mm allowed when
// removing near-collinear points from uncompressed streamlines.
const compressionTolerance = 0.1

// FilterStats records the streamline count after every pipeline stage,
// for attrition diagnostics.
type FilterStats struct {
	Loaded         int
	AfterMinLength int
	AfterSubsample int
	Final          int
}

// FilterPipeline applies the ordered per-bundle filtering stages:
// minimum-length pruning, then optional centroid subsampling, then
// either fixed-step resampling or compression.
type FilterPipeline struct {
	// MinimumLengthMM drops streamlines shorter than this length.
	MinimumLengthMM float64

	// StepSizeMM, when positive, resamples every streamline to this
	// step size; otherwise streamlines are compressed instead.
	StepSizeMM float64

	logger *slog.Logger
}

// NewFilterPipeline builds a pipeline with the dataset-wide length and
// step-size parameters. A nil logger selects slog.Default().
func NewFilterPipeline(minimumLengthMM, stepSizeMM float64, logger *slog.Logger) *FilterPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilterPipeline{
		MinimumLengthMM: minimumLengthMM,
		StepSizeMM:      stepSizeMM,
		logger:          logger,
	}
}

// Apply runs the filter stages on a loaded bundle in place. Subsampling
// runs only when the spec carries both of its thresholds, so wholebrain
// bundles are never subsampled. Exactly one of resampling or
// compression always runs last.
func (p *FilterPipeline) Apply(bundle *LoadedBundle, spec config.BundleSpec) FilterStats {
	stats := FilterStats{Loaded: bundle.Tractogram.Len()}

	kept := bundle.Tractogram.Streamlines[:0]
	for _, s := range bundle.Tractogram.Streamlines {
		if s.Length() >= p.MinimumLengthMM {
			kept = append(kept, s)
		}
	}
	bundle.Tractogram.Streamlines = kept
	stats.AfterMinLength = len(kept)
	p.logger.Debug("removed short streamlines",
		"bundle", bundle.Name, "min_length_mm", p.MinimumLengthMM, "remaining", len(kept))

	if spec.Subsampled() {
		bundle.Tractogram.Streamlines = Subsample(bundle.Tractogram.Streamlines,
			*spec.ClusteringThresholdMM, *spec.RemovalDistanceMM)
		p.logger.Debug("subsampled bundle",
			"bundle", bundle.Name,
			"clustering_threshold_mm", *spec.ClusteringThresholdMM,
			"removal_distance_mm", *spec.RemovalDistanceMM,
			"remaining", bundle.Tractogram.Len())
	}
	stats.AfterSubsample = bundle.Tractogram.Len()

	if p.StepSizeMM > 0 {
		for i, s := range bundle.Tractogram.Streamlines {
			bundle.Tractogram.Streamlines[i] = s.Resample(p.StepSizeMM)
		}
		p.logger.Debug("resampled streamlines",
			"bundle", bundle.Name, "step_size_mm", p.StepSizeMM)
	} else {
		for i, s := range bundle.Tractogram.Streamlines {
			bundle.Tractogram.Streamlines[i] = s.Compress(compressionTolerance)
		}
		p.logger.Debug("compressed streamlines", "bundle", bundle.Name)
	}
	stats.Final = bundle.Tractogram.Len()

	return stats
}
