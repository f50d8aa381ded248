// Package dataset assembles training-ready tractography datasets: it
// reconciles subject lists, derives a processed feature volume per
// subject through a pluggable strategy, and loads, filters and merges
// each subject's streamline bundles into one voxel-space tractogram.
package dataset

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/jhlegarreta/dwi-ml/internal/models"
	"github.com/jhlegarreta/dwi-ml/pkg/frf"
	"github.com/jhlegarreta/dwi-ml/pkg/signal"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// Strategy derives one processed feature volume from a subject's raw
// DWI data. Each variant validates its parameters at construction and
// exposes its non-default parameters for the provenance record.
type Strategy interface {
	// Name identifies the strategy in logs and provenance.
	Name() string

	// Process turns the raw DWI volume into the feature volume.
	// outputDir receives side artifacts such as the response function
	// file.
	Process(dwi *volume.Volume, gtab *signal.GradientTable, mask *volume.Volume,
		outputDir string) (*models.FeatureVolume, error)

	// StateDict returns the strategy's own parameters for the
	// dataset provenance record.
	StateDict() map[string]any
}

func validSHOrder(order int) bool {
	return order == 2 || order == 4 || order == 6 || order == 8
}

// featureFromVolume reorders an acquisition-major volume into the
// voxel-major feature layout.
func featureFromVolume(v *volume.Volume) *models.FeatureVolume {
	out := &models.FeatureVolume{
		Data:        make([]float64, len(v.Data)),
		Dims:        v.Dims,
		FeatureSize: v.NumVolumes,
	}
	for z := 0; z < v.Dims[2]; z++ {
		for y := 0; y < v.Dims[1]; y++ {
			for x := 0; x < v.Dims[0]; x++ {
				copy(out.At(x, y, z), v.Signal(x, y, z))
			}
		}
	}
	return out
}

// RawStrategy passes the DWI signal through unchanged, or, when
// Resample is set, regularizes it by projecting through the order-6 SH
// basis and back to the original gradient directions.
type RawStrategy struct {
	Resample bool
}

// NewRawStrategy builds the raw DWI strategy.
func NewRawStrategy(resample bool) *RawStrategy {
	return &RawStrategy{Resample: resample}
}

func (s *RawStrategy) Name() string { return "dwi" }

func (s *RawStrategy) Process(dwi *volume.Volume, gtab *signal.GradientTable,
	_ *volume.Volume, _ string) (*models.FeatureVolume, error) {

	if s.Resample {
		resampled, err := signal.ResampleDWI(dwi, gtab)
		if err != nil {
			return nil, err
		}
		return featureFromVolume(resampled), nil
	}
	return featureFromVolume(dwi), nil
}

func (s *RawStrategy) StateDict() map[string]any {
	return map[string]any{"resample": s.Resample}
}

// SHStrategy fits spherical harmonic coefficients to the diffusion
// signal at a caller-chosen even order.
type SHStrategy struct {
	Order int
}

// NewSHStrategy validates the harmonic order before any volume is
// touched.
func NewSHStrategy(order int) (*SHStrategy, error) {
	if !validSHOrder(order) {
		return nil, errors.Errorf("SH order must be one of [2,4,6,8], got %d", order)
	}
	return &SHStrategy{Order: order}, nil
}

func (s *SHStrategy) Name() string { return "dwi_sh" }

func (s *SHStrategy) Process(dwi *volume.Volume, gtab *signal.GradientTable,
	_ *volume.Volume, _ string) (*models.FeatureVolume, error) {

	coeffs, err := signal.ComputeSHCoefficients(dwi, gtab, s.Order)
	if err != nil {
		return nil, err
	}
	return featureFromVolume(coeffs), nil
}

func (s *SHStrategy) StateDict() map[string]any {
	return map[string]any{"sh_order": s.Order}
}

// computeFRF runs the adaptive response function search without an
// anatomical mask (the FA threshold search takes its place) and
// persists the result for provenance.
func computeFRF(estimator *frf.Estimator, dwi *volume.Volume,
	gtab *signal.GradientTable, outputDir string) (*frf.Result, error) {

	result, err := estimator.Estimate(dwi, gtab, nil)
	if err != nil {
		return nil, err
	}
	if err := frf.WriteResult(result, outputDir); err != nil {
		return nil, err
	}
	return result, nil
}

// FODFSHStrategy estimates a fiber response function, deconvolves the
// fiber ODF and returns its SH coefficients restricted to the mask.
type FODFSHStrategy struct {
	Order int

	estimator *frf.Estimator
}

// NewFODFSHStrategy validates the harmonic order. A nil estimator
// selects the tensor-backed default.
func NewFODFSHStrategy(order int, estimator *frf.Estimator, logger *slog.Logger) (*FODFSHStrategy, error) {
	if !validSHOrder(order) {
		return nil, errors.Errorf("SH order must be one of [2,4,6,8], got %d", order)
	}
	if estimator == nil {
		estimator = frf.NewEstimator(nil, logger)
	}
	return &FODFSHStrategy{Order: order, estimator: estimator}, nil
}

func (s *FODFSHStrategy) Name() string { return "fodf_sh" }

func (s *FODFSHStrategy) Process(dwi *volume.Volume, gtab *signal.GradientTable,
	mask *volume.Volume, outputDir string) (*models.FeatureVolume, error) {

	result, err := computeFRF(s.estimator, dwi, gtab, outputDir)
	if err != nil {
		return nil, err
	}
	fodf, err := signal.FitFODF(dwi, gtab, result.Response(), s.Order, mask)
	if err != nil {
		return nil, err
	}
	return featureFromVolume(fodf), nil
}

func (s *FODFSHStrategy) StateDict() map[string]any {
	return map[string]any{"sh_order": s.Order}
}

// FODFPeaksStrategy estimates a response function, deconvolves the
// fiber ODF and extracts the dominant orientation peaks per voxel, each
// scaled by its relative amplitude and flattened into one feature
// vector.
type FODFPeaksStrategy struct {
	Order  int
	NPeaks int

	estimator *frf.Estimator
}

// NewFODFPeaksStrategy validates the harmonic order and peak count.
// A nil estimator selects the tensor-backed default.
func NewFODFPeaksStrategy(order, nPeaks int, estimator *frf.Estimator, logger *slog.Logger) (*FODFPeaksStrategy, error) {
	if !validSHOrder(order) {
		return nil, errors.Errorf("SH order must be one of [2,4,6,8], got %d", order)
	}
	if nPeaks < 1 || nPeaks > 3 {
		return nil, errors.Errorf("n_peaks must be one of [1,2,3], got %d", nPeaks)
	}
	if estimator == nil {
		estimator = frf.NewEstimator(nil, logger)
	}
	return &FODFPeaksStrategy{Order: order, NPeaks: nPeaks, estimator: estimator}, nil
}

func (s *FODFPeaksStrategy) Name() string { return "fodf_peaks" }

func (s *FODFPeaksStrategy) Process(dwi *volume.Volume, gtab *signal.GradientTable,
	mask *volume.Volume, outputDir string) (*models.FeatureVolume, error) {

	result, err := computeFRF(s.estimator, dwi, gtab, outputDir)
	if err != nil {
		return nil, err
	}
	fodf, err := signal.FitFODF(dwi, gtab, result.Response(), s.Order, mask)
	if err != nil {
		return nil, err
	}
	peaks, err := signal.ExtractPeaks(fodf, s.Order, s.NPeaks, mask)
	if err != nil {
		return nil, err
	}
	return featureFromVolume(peaks), nil
}

func (s *FODFPeaksStrategy) StateDict() map[string]any {
	return map[string]any{"sh_order": s.Order, "n_peaks": s.NPeaks}
}
