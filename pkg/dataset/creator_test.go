package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhlegarreta/dwi-ml/pkg/config"
	"github.com/jhlegarreta/dwi-ml/pkg/tractogram"
)

const creatorConfigYAML = `minimum_length_mm: 20
step_size_mm: 2
bundles:
  AF_L:
    clustering_threshold_mm: 6
    removal_distance_mm: 2
`

// xLine builds a straight streamline along X of the given length,
// starting at (2, y, z), with points every millimeter.
func xLine(length float64, y, z float64) tractogram.Streamline {
	n := int(length) + 1
	s := make(tractogram.Streamline, n)
	for i := range s {
		s[i] = r3.Vector{X: 2 + float64(i), Y: y, Z: z}
	}
	return s
}

// writeSubjectFixture lays out a complete raw subject: DWI volume,
// gradient files and one AF_L bundle with 40 long and 10 short
// streamlines.
func writeSubjectFixture(t *testing.T, rawDir, subjectID string) {
	t.Helper()

	subjectDir := filepath.Join(rawDir, subjectID)
	bundlesDir := filepath.Join(subjectDir, "bundles")
	require.NoError(t, os.MkdirAll(bundlesDir, 0755))

	writeSubjectDWI(t, subjectDir, [3]int{40, 48, 40}, testGradients())

	var streamlines []tractogram.Streamline
	for i := 0; i < 40; i++ {
		y := 2 + float64(i%8)*5
		z := 2 + float64(i/8)*6
		streamlines = append(streamlines, xLine(30, y, z))
	}
	for i := 0; i < 10; i++ {
		streamlines = append(streamlines, xLine(10, 2+float64(i)*4, 36))
	}
	require.NoError(t, tractogram.WriteTRK(
		filepath.Join(bundlesDir, subjectID+"_AF_L.trk"),
		streamlines, [3]int{40, 48, 40}, [3]float64{1, 1, 1}))
}

func loadCreatorConfig(t *testing.T) *config.DatasetConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(creatorConfigYAML), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestCreateSubjectEndToEnd(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")
	cfg := loadCreatorConfig(t)

	creator, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, []string{"sub01"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"sub01"}, creator.Subjects())

	record, err := creator.CreateSubject("sub01")
	require.NoError(t, err)

	// The 10 short streamlines fall under the minimum length; the 40
	// long ones are far enough apart to survive subsampling.
	assert.Equal(t, 50, record.OriginalStreamlineCount)
	assert.Equal(t, 40, record.StreamlineCount)
	require.Len(t, record.StreamlineLengths, 40)
	for _, l := range record.StreamlineLengths {
		assert.InDelta(t, 30.0, l, 1e-6)
	}

	tract := record.Tractogram
	assert.Equal(t, tractogram.SpaceVoxel, tract.Space)
	assert.Equal(t, tractogram.OriginCenter, tract.Origin)
	for _, s := range tract.Streamlines {
		// Resampled to a uniform step covering the full arc.
		require.Len(t, s, 15)
		spacing := s[1].Sub(s[0]).Norm()
		for i := 2; i < len(s); i++ {
			assert.InDelta(t, spacing, s[i].Sub(s[i-1]).Norm(), 1e-5)
		}
	}

	// Raw features keep the acquisition as the per-voxel vector.
	assert.Equal(t, [3]int{40, 48, 40}, record.Features.Dims)
	assert.Equal(t, testGradients().Len(), record.Features.FeatureSize)
	assert.InDelta(t, 100, record.Features.At(3, 3, 3)[0], 1e-4)

	state := record.State
	assert.Equal(t, "dwi", state["volume_type"])
	assert.Equal(t, []string{"AF_L"}, state["bundles"])
	assert.Equal(t, 20.0, state["minimum_length_mm"])
	assert.Equal(t, []string{"sub01"}, state["subject_ids"])
}

func TestRunExcludesFailingSubject(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")
	// sub02 exists on disk but has no data files.
	require.NoError(t, os.MkdirAll(filepath.Join(rawDir, "sub02"), 0755))
	cfg := loadCreatorConfig(t)

	creator, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir,
		[]string{"sub01", "sub02"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"sub01", "sub02"}, creator.Subjects())

	records, err := creator.Run()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sub01", records[0].SubjectID)
}

func TestNewCreatorConfigErrorBeforeProcessing(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")
	cfg := loadCreatorConfig(t)
	cfg.SubjectIDs = []string{"sub01", "sub99"}

	_, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, nil, nil)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	// Nothing was written before the reconciliation failure.
	entries, readErr := os.ReadDir(outDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestNewCreatorRequiresSubjectList(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")
	cfg := loadCreatorConfig(t)

	// Disk alone is never an authoritative subject source: the list must
	// come from the config document or the caller.
	_, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, nil, nil)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "no subject list given")
}

func TestCreateSubjectAmbiguousBundleFails(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")
	// A second file matching the same bundle name.
	bundlesDir := filepath.Join(rawDir, "sub01", "bundles")
	require.NoError(t, tractogram.WriteTRK(
		filepath.Join(bundlesDir, "track_AF_L.trk"),
		[]tractogram.Streamline{xLine(30, 2, 2)}, [3]int{40, 48, 40}, [3]float64{1, 1, 1}))
	cfg := loadCreatorConfig(t)

	creator, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, []string{"sub01"}, nil)
	require.NoError(t, err)

	_, err = creator.CreateSubject("sub01")
	require.Error(t, err)

	var ambiguous *tractogram.AmbiguousBundleError
	assert.ErrorAs(t, err, &ambiguous)
}

func TestCreateSubjectMissingBundleIsSkipped(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")

	path := filepath.Join(t.TempDir(), "dataset.yaml")
	doc := creatorConfigYAML + `  IFOF_R:
    clustering_threshold_mm: 6
    removal_distance_mm: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	creator, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, []string{"sub01"}, nil)
	require.NoError(t, err)

	record, err := creator.CreateSubject("sub01")
	require.NoError(t, err)
	// Only the present bundle contributes.
	assert.Equal(t, 40, record.StreamlineCount)
}

func TestCreateSubjectWholebrain(t *testing.T) {
	rawDir, outDir := t.TempDir(), t.TempDir()
	writeSubjectFixture(t, rawDir, "sub01")

	cfg := &config.DatasetConfig{
		MinimumLengthMM: 20,
		StepSizeMM:      2,
		SubjectIDs:      []string{"sub01"},
	}
	creator, err := NewCreator(cfg, NewRawStrategy(false), rawDir, outDir, nil, nil)
	require.NoError(t, err)

	record, err := creator.CreateSubject("sub01")
	require.NoError(t, err)
	// Wholebrain mode never subsamples; only the length filter runs.
	assert.Equal(t, 40, record.StreamlineCount)
	assert.Equal(t, 50, record.OriginalStreamlineCount)
}
