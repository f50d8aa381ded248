// Package config provides configuration loading and validation for
// tractography dataset creation. It handles loading dataset descriptions
// from YAML or JSON documents and reconciling subject lists across their
// three possible sources (disk, configuration document, caller).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigError reports malformed or inconsistent configuration. It is
// always fatal: the run aborts before any subject is processed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// BundleSpec holds the processing parameters of one named bundle.
//
// Both thresholds must be present together: centroid subsampling needs
// the clustering threshold and the removal distance as a pair. A spec
// with neither (wholebrain mode) is filtered by length and resampled
// only.
type BundleSpec struct {
	// Name is the bundle name, matched against file names ending in
	// _<name>.trk or _<name>.tck.
	Name string

	// ClusteringThresholdMM is the centroid clustering threshold in mm
	// applied before removing near-duplicate streamlines. Nil when the
	// bundle is not subsampled.
	ClusteringThresholdMM *float64

	// RemovalDistanceMM is the distance in mm under which streamlines
	// close to a cluster representative are dropped. Nil when the
	// bundle is not subsampled.
	RemovalDistanceMM *float64
}

// Subsampled reports whether this bundle carries subsampling parameters.
func (b BundleSpec) Subsampled() bool {
	return b.ClusteringThresholdMM != nil && b.RemovalDistanceMM != nil
}

// rawBundle is the on-disk shape of one bundle entry. Pointer fields let
// validation distinguish a missing key from a zero value.
type rawBundle struct {
	ClusteringThresholdMM *float64 `yaml:"clustering_threshold_mm" json:"clustering_threshold_mm"`
	RemovalDistanceMM     *float64 `yaml:"removal_distance_mm" json:"removal_distance_mm"`
}

// rawConfig is the on-disk shape of the dataset configuration document.
type rawConfig struct {
	BValueFilter    *int                 `yaml:"b_value_filter" json:"b_value_filter"`
	MinimumLengthMM *float64             `yaml:"minimum_length_mm" json:"minimum_length_mm"`
	StepSizeMM      *float64             `yaml:"step_size_mm" json:"step_size_mm"`
	SubjectIDs      []string             `yaml:"subject_ids" json:"subject_ids"`
	Bundles         map[string]rawBundle `yaml:"bundles" json:"bundles"`
}

// DatasetConfig is the validated, read-only dataset configuration.
type DatasetConfig struct {
	// BValueFilter keeps only this b-value shell (plus b0s) of the
	// diffusion signal. Nil means the full acquisition is used.
	BValueFilter *int

	// MinimumLengthMM removes streamlines shorter than this length.
	// Zero disables the pruning stage lower bound.
	MinimumLengthMM float64

	// StepSizeMM resamples streamlines to this step size. Zero means
	// streamlines are compressed instead.
	StepSizeMM float64

	// SubjectIDs is the subject list named in the configuration
	// document, in document order. May be empty when the caller
	// supplies the list instead.
	SubjectIDs []string

	// Bundles holds the per-bundle processing parameters in a stable
	// (sorted) order. Empty means wholebrain mode: every bundle file
	// found on disk is processed without subsampling.
	Bundles []BundleSpec
}

// Wholebrain reports whether the configuration carries no bundle
// definitions, in which case every tractogram file found per subject is
// treated as one unnamed bundle.
func (c *DatasetConfig) Wholebrain() bool {
	return len(c.Bundles) == 0
}

// Load reads a dataset configuration document from path. The format is
// chosen by extension: .json is decoded as JSON, anything else as YAML.
func Load(path string) (*DatasetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var raw rawConfig
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, configErrorf("parsing %s: %v", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, configErrorf("parsing %s: %v", path, err)
		}
	}

	return fromRaw(&raw)
}

// fromRaw validates a decoded document and builds the immutable config.
func fromRaw(raw *rawConfig) (*DatasetConfig, error) {
	cfg := &DatasetConfig{
		BValueFilter: raw.BValueFilter,
		SubjectIDs:   raw.SubjectIDs,
	}
	if raw.MinimumLengthMM != nil {
		cfg.MinimumLengthMM = *raw.MinimumLengthMM
	}
	if raw.StepSizeMM != nil {
		cfg.StepSizeMM = *raw.StepSizeMM
	}

	seen := make(map[string]bool, len(raw.SubjectIDs))
	for _, id := range raw.SubjectIDs {
		if seen[id] {
			return nil, configErrorf("duplicate subject id %q", id)
		}
		seen[id] = true
	}

	// Sort bundle names so processing order is reproducible across runs.
	names := make([]string, 0, len(raw.Bundles))
	for name := range raw.Bundles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := raw.Bundles[name]
		if entry.ClusteringThresholdMM == nil {
			return nil, configErrorf(
				"bundle %s is missing configuration parameter clustering_threshold_mm", name)
		}
		if entry.RemovalDistanceMM == nil {
			return nil, configErrorf(
				"bundle %s is missing configuration parameter removal_distance_mm", name)
		}
		cfg.Bundles = append(cfg.Bundles, BundleSpec{
			Name:                  name,
			ClusteringThresholdMM: entry.ClusteringThresholdMM,
			RemovalDistanceMM:     entry.RemovalDistanceMM,
		})
	}

	return cfg, nil
}

// StateDict returns the configuration as a flat provenance record.
// Unset optional values are stored as empty strings so the record always
// carries every key.
func (c *DatasetConfig) StateDict(finalSubjects []string) map[string]any {
	state := map[string]any{
		"b_value_filter":    "",
		"minimum_length_mm": "",
		"step_size_mm":      "",
		"subject_ids":       "",
		"bundles":           "",
	}
	if c.BValueFilter != nil {
		state["b_value_filter"] = *c.BValueFilter
	}
	if c.MinimumLengthMM > 0 {
		state["minimum_length_mm"] = c.MinimumLengthMM
	}
	if c.StepSizeMM > 0 {
		state["step_size_mm"] = c.StepSizeMM
	}
	if len(finalSubjects) > 0 {
		state["subject_ids"] = append([]string(nil), finalSubjects...)
	}
	if len(c.Bundles) > 0 {
		names := make([]string, len(c.Bundles))
		for i, b := range c.Bundles {
			names[i] = b.Name
		}
		state["bundles"] = names
	}
	return state
}
