package dataset

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/jhlegarreta/dwi-ml/internal/models"
	"github.com/jhlegarreta/dwi-ml/pkg/config"
	"github.com/jhlegarreta/dwi-ml/pkg/signal"
	"github.com/jhlegarreta/dwi-ml/pkg/tractogram"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// Creator drives the dataset assembly: one subject reconciliation up
// front, then per subject a feature volume through the configured
// strategy and a bundle merge into voxel space.
type Creator struct {
	cfg      *config.DatasetConfig
	strategy Strategy

	rawPath    string
	outputPath string
	subjects   []string

	loader *tractogram.Loader
	filter *tractogram.FilterPipeline
	logger *slog.Logger
}

// NewCreator reconciles the subject list and builds the pipeline.
// rawPath is the directory of per-subject folders; callerSubjects is
// the optional caller-chosen subject list. Reconciliation failures are
// ConfigErrors and abort before any subject is processed.
func NewCreator(cfg *config.DatasetConfig, strategy Strategy, rawPath, outputPath string,
	callerSubjects []string, logger *slog.Logger) (*Creator, error) {

	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(rawPath)
	if err != nil {
		return nil, errors.Wrapf(err, "listing subject folders in %s", rawPath)
	}
	var onDisk []string
	for _, e := range entries {
		if e.IsDir() {
			onDisk = append(onDisk, e.Name())
		}
	}

	configSubjects := cfg.SubjectIDs
	if len(configSubjects) == 0 {
		configSubjects = nil
	}
	subjects, err := config.ReconcileSubjects(onDisk, configSubjects, callerSubjects, logger)
	if err != nil {
		return nil, err
	}

	return &Creator{
		cfg:        cfg,
		strategy:   strategy,
		rawPath:    rawPath,
		outputPath: outputPath,
		subjects:   subjects,
		loader:     tractogram.NewLoader(logger),
		filter:     tractogram.NewFilterPipeline(cfg.MinimumLengthMM, cfg.StepSizeMM, logger),
		logger:     logger,
	}, nil
}

// Subjects returns the reconciled subject list.
func (c *Creator) Subjects() []string {
	return append([]string(nil), c.subjects...)
}

// StateDict returns the dataset provenance record: configuration merged
// with the strategy's own parameters.
func (c *Creator) StateDict() map[string]any {
	state := c.cfg.StateDict(c.subjects)
	state["volume_type"] = c.strategy.Name()
	for k, v := range c.strategy.StateDict() {
		state[k] = v
	}
	return state
}

// findFirst returns the first existing path among candidate file names
// inside dir.
func findFirst(dir string, names ...string) (string, bool) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// CreateSubject processes one subject end to end and returns its
// record. Per-subject data problems surface as errors; the caller
// decides whether they abort the batch.
func (c *Creator) CreateSubject(subjectID string) (*models.SubjectRecord, error) {
	subjectDir := filepath.Join(c.rawPath, subjectID)

	dwiPath, ok := findFirst(subjectDir, "dwi.nii.gz", "dwi.nii")
	if !ok {
		return nil, errors.Errorf("subject %s has no dwi.nii[.gz]", subjectID)
	}
	dwi, err := volume.LoadNifti(dwiPath)
	if err != nil {
		return nil, err
	}

	bvalPath, ok := findFirst(subjectDir, "dwi.bval", "bvals")
	if !ok {
		return nil, errors.Errorf("subject %s has no bval file", subjectID)
	}
	bvecPath, ok := findFirst(subjectDir, "dwi.bvec", "bvecs")
	if !ok {
		return nil, errors.Errorf("subject %s has no bvec file", subjectID)
	}
	gtab, err := signal.LoadGradientTable(bvalPath, bvecPath)
	if err != nil {
		return nil, err
	}

	if c.cfg.BValueFilter != nil {
		dwi, gtab, err = signal.FilterShell(dwi, gtab, *c.cfg.BValueFilter)
		if err != nil {
			return nil, err
		}
	}

	var mask *volume.Volume
	if maskPath, ok := findFirst(subjectDir, "wm_mask.nii.gz", "wm_mask.nii", "mask.nii.gz", "mask.nii"); ok {
		mask, err = volume.LoadNifti(maskPath)
		if err != nil {
			return nil, err
		}
		if !mask.SameGrid(dwi) {
			mask, err = mask.Reslice(dwi, volume.InterpNearest)
			if err != nil {
				return nil, err
			}
		}
	}

	outputDir := filepath.Join(c.outputPath, subjectID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating subject output directory")
	}

	features, err := c.strategy.Process(dwi, gtab, mask, outputDir)
	if err != nil {
		return nil, err
	}

	tract, lengths, originalCount, err := c.mergeBundles(filepath.Join(subjectDir, "bundles"), dwi)
	if err != nil {
		return nil, err
	}

	return &models.SubjectRecord{
		SubjectID:               subjectID,
		Features:                features,
		Tractogram:              tract,
		StreamlineLengths:       lengths,
		StreamlineCount:         tract.Len(),
		OriginalStreamlineCount: originalCount,
		State:                   c.StateDict(),
	}, nil
}

// mergeBundles loads, filters and merges every configured bundle of one
// subject. In wholebrain mode every tractogram file in the bundle
// directory becomes one unnamed bundle with no subsampling.
func (c *Creator) mergeBundles(bundlesDir string, ref *volume.Volume) (
	*tractogram.Tractogram, []float64, int, error) {

	entries, err := os.ReadDir(bundlesDir)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "listing bundles in %s", bundlesDir)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(bundlesDir, e.Name()))
		}
	}

	merger := tractogram.NewMerger(ref, c.logger)

	if c.cfg.Wholebrain() {
		var found bool
		for _, path := range files {
			if !tractogram.IsBundleFile(path) {
				continue
			}
			found = true
			base := filepath.Base(path)
			name := strings.TrimSuffix(base, filepath.Ext(base))
			if err := c.processBundle(merger, path, name, config.BundleSpec{Name: name}, ref); err != nil {
				return nil, nil, 0, err
			}
		}
		if !found {
			return nil, nil, 0, errors.Errorf("no bundles found in %s", bundlesDir)
		}
	} else {
		for _, spec := range c.cfg.Bundles {
			path, found, err := tractogram.Locate(spec.Name, files)
			if err != nil {
				return nil, nil, 0, err
			}
			if !found {
				c.logger.Warn("bundle was not found",
					"bundle", spec.Name, "path", bundlesDir)
				continue
			}
			if err := c.processBundle(merger, path, spec.Name, spec, ref); err != nil {
				return nil, nil, 0, err
			}
		}
	}

	tract, lengths := merger.Finalize()
	return tract, lengths, merger.OriginalCount(), nil
}

// processBundle loads one bundle file, runs the filter pipeline and
// adds the result to the merger. A nil loaded bundle (missing or empty)
// is a skip, not an error.
func (c *Creator) processBundle(merger *tractogram.Merger, path, name string,
	spec config.BundleSpec, ref *volume.Volume) error {

	c.logger.Info("processing bundle", "path", path)
	bundle, err := c.loader.Load(path, name, ref)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}
	stats := c.filter.Apply(bundle, spec)
	c.logger.Debug("bundle filtered",
		"bundle", name, "loaded", stats.Loaded,
		"after_min_length", stats.AfterMinLength,
		"after_subsample", stats.AfterSubsample,
		"final", stats.Final)
	return merger.Add(bundle)
}

// Run processes every reconciled subject in order. Subjects that fail
// on their own data are logged and excluded; the batch continues. Only
// configuration errors abort the run, and they surface before the first
// subject is touched (at construction).
func (c *Creator) Run() ([]*models.SubjectRecord, error) {
	records := make([]*models.SubjectRecord, 0, len(c.subjects))
	var failed []string
	for _, id := range c.subjects {
		c.logger.Info("processing subject", "subject", id)
		record, err := c.CreateSubject(id)
		if err != nil {
			c.logger.Error("subject failed, excluding from dataset",
				"subject", id, "error", err)
			failed = append(failed, id)
			continue
		}
		records = append(records, record)
	}
	if len(failed) > 0 {
		c.logger.Warn("run completed with excluded subjects", "subjects", failed)
	}
	return records, nil
}
