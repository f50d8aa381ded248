// Package frf estimates the single-fiber response function of a subject
// through an adaptive search over FA threshold and ROI radius.
package frf

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/jhlegarreta/dwi-ml/pkg/signal"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

const (
	// StartFAThreshold is the first, strictest FA threshold probed.
	StartFAThreshold = 0.7

	// MinFAThreshold is the lowest FA threshold the search may reach.
	MinFAThreshold = 0.5

	// FAThresholdStep is subtracted from the threshold between probes.
	FAThresholdStep = 0.05

	// faEpsilon guards the threshold floor comparison against the
	// accumulation error of repeated subtraction.
	faEpsilon = 1e-5

	// StartROIRadius and MaxROIRadius bound the cubic search region
	// half-width, in voxels.
	StartROIRadius = 10
	MaxROIRadius   = 15

	// MinVoxelCount is the number of single-fiber voxels required for
	// a usable response function.
	MinVoxelCount = 300
)

// Detector finds single-fiber voxels for one (radius, threshold) probe.
// signal.TensorDetector is the default backend; tests may substitute
// their own.
type Detector interface {
	Detect(dwi *volume.Volume, gtab *signal.GradientTable, mask *volume.Volume,
		roiRadius int, faThreshold float64) (signal.Response, float64, int, error)
}

// InsufficientVoxelsError reports that no probe of the full search grid
// reached MinVoxelCount voxels. It is fatal for the current subject's
// FRF-dependent feature only.
type InsufficientVoxelsError struct {
	Required  int
	BestCount int
}

func (e *InsufficientVoxelsError) Error() string {
	return fmt.Sprintf(
		"could not find at least %d voxels with sufficient FA to estimate the FRF (best probe found %d)",
		e.Required, e.BestCount)
}

// Result is a successful response function estimate.
type Result struct {
	// Eigenvalues are the prolate response tensor eigenvalues.
	Eigenvalues [3]float64

	// MeanB0 is the mean b0 signal over the qualifying voxels.
	MeanB0 float64

	// VoxelCount is the number of qualifying voxels; always at least
	// MinVoxelCount.
	VoxelCount int

	// FAThresholdUsed and ROIRadiusUsed are the probe parameters that
	// produced the estimate.
	FAThresholdUsed float64
	ROIRadiusUsed   int
}

// Response converts the result to the signal-model response type.
func (r *Result) Response() signal.Response {
	return signal.Response{Eigenvalues: r.Eigenvalues, MeanB0: r.MeanB0}
}

// ProbeObserver receives the voxel count of every (radius, threshold)
// probe, letting callers record the search trajectory.
type ProbeObserver func(roiRadius int, faThreshold float64, voxelCount int)

// Estimator runs the adaptive response function search.
type Estimator struct {
	detector Detector
	logger   *slog.Logger
	observer ProbeObserver
}

// NewEstimator builds an estimator around the given detector backend.
// A nil detector selects the tensor-based default; a nil logger selects
// slog.Default().
func NewEstimator(detector Detector, logger *slog.Logger) *Estimator {
	if detector == nil {
		detector = signal.TensorDetector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{detector: detector, logger: logger}
}

// Observe installs a probe observer. Passing nil removes it.
func (e *Estimator) Observe(fn ProbeObserver) { e.observer = fn }

// Estimate searches for a response function supported by at least
// MinVoxelCount single-fiber voxels.
//
// The FA threshold is relaxed first (quality over breadth): for a fixed
// ROI radius the threshold walks from StartFAThreshold down to
// MinFAThreshold; only when the whole threshold range fails is the
// radius widened and the threshold reset. The search is deterministic
// and is not a retry mechanism: every probe is part of the designed
// grid walk.
func (e *Estimator) Estimate(dwi *volume.Volume, gtab *signal.GradientTable,
	mask *volume.Volume) (*Result, error) {

	best := 0
	for radius := StartROIRadius; radius <= MaxROIRadius; radius++ {
		for fa := StartFAThreshold; fa >= MinFAThreshold-faEpsilon; fa -= FAThresholdStep {
			resp, ratio, nvox, err := e.detector.Detect(dwi, gtab, mask, radius, fa)
			if err != nil {
				return nil, errors.Wrap(err, "single-fiber detection failed")
			}
			e.logger.Debug("FRF probe",
				"voxels", nvox, "fa_threshold", fa, "roi_radius_vox", radius)
			if e.observer != nil {
				e.observer(radius, fa, nvox)
			}
			if nvox > best {
				best = nvox
			}
			if nvox >= MinVoxelCount {
				e.logger.Debug("FRF estimated",
					"voxels", nvox, "eigenvalues", resp.Eigenvalues,
					"ratio", ratio, "mean_b0", resp.MeanB0)
				return &Result{
					Eigenvalues:     resp.Eigenvalues,
					MeanB0:          resp.MeanB0,
					VoxelCount:      nvox,
					FAThresholdUsed: fa,
					ROIRadiusUsed:   radius,
				}, nil
			}
		}
	}
	return nil, &InsufficientVoxelsError{Required: MinVoxelCount, BestCount: best}
}

// WriteResult persists a response function as a four-value text file
// (three eigenvalues and the mean b0), one value per line.
func WriteResult(result *Result, dir string) error {
	path := filepath.Join(dir, "frf.txt")
	content := fmt.Sprintf("%.18e\n%.18e\n%.18e\n%.18e\n",
		result.Eigenvalues[0], result.Eigenvalues[1], result.Eigenvalues[2],
		result.MeanB0)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrap(err, "writing response function file")
	}
	return nil
}
