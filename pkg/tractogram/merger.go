package tractogram

import (
	"log/slog"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// Merger accumulates filtered bundles into one tractogram, enforcing
// that every bundle occupies the same geometric space, and finalizes the
// result into voxel space with the center-of-voxel origin convention.
type Merger struct {
	ref    *volume.Volume
	logger *slog.Logger

	accumulated   *Tractogram
	lengths       []float64
	originalCount int
}

// NewMerger builds a merger anchored to the reference volume. A nil
// logger selects slog.Default().
func NewMerger(ref *volume.Volume, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{ref: ref, logger: logger}
}

// Add concatenates a filtered bundle into the accumulator. The bundle's
// space is verified against the accumulator before any streamline is
// appended; on mismatch nothing is concatenated and a
// SpaceMismatchError is returned.
func (m *Merger) Add(bundle *LoadedBundle) error {
	if m.accumulated != nil && !m.accumulated.SameSpace(bundle.Tractogram) {
		return &SpaceMismatchError{
			Have:   bundle.Tractogram.Space,
			Want:   m.accumulated.Space,
			Bundle: bundle.Name,
		}
	}

	m.originalCount += bundle.OriginalCount
	for _, s := range bundle.Tractogram.Streamlines {
		m.lengths = append(m.lengths, s.Length())
	}

	if m.accumulated == nil {
		m.accumulated = bundle.Tractogram
		return nil
	}
	m.accumulated.Streamlines = append(m.accumulated.Streamlines,
		bundle.Tractogram.Streamlines...)
	return nil
}

// OriginalCount returns the pre-filter streamline tally across all
// added bundles.
func (m *Merger) OriginalCount() int { return m.originalCount }

// Finalize re-anchors the accumulated streamlines to the reference
// volume, sends them to voxel space with the origin at the voxel
// center, and purges invalid geometry. When no bundle contributed any
// streamlines the result is an empty tractogram, not an error: callers
// decide whether an empty subject is acceptable.
//
// It returns the final tractogram and the per-streamline euclidean
// lengths in mm, measured before the space transform.
func (m *Merger) Finalize() (*Tractogram, []float64) {
	var streamlines []Streamline
	if m.accumulated != nil {
		streamlines = m.accumulated.Streamlines
	}
	// Streamlines may have been tracked against a different reference;
	// re-anchoring keeps the output grid authoritative.
	out := NewTractogram(streamlines, m.ref)

	out.ToVoxel()
	out.ToCenter()

	// Purge invalid geometry, keeping the length list in lockstep so it
	// stays one entry per surviving streamline.
	keptLengths, removed := out.RemoveInvalid(m.lengths)
	if removed > 0 {
		m.logger.Debug("removed invalid streamlines", "count", removed)
	}

	m.logger.Info("final number of streamlines",
		"final", out.Len(), "original", m.originalCount)
	return out, keptLengths
}
