package tractogram

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// Space identifies the coordinate space streamline points live in.
type Space int

const (
	// SpaceWorld is the scanner/world space in RAS millimeters.
	SpaceWorld Space = iota

	// SpaceVoxel is the continuous voxel-index space of the reference
	// volume grid.
	SpaceVoxel
)

func (s Space) String() string {
	switch s {
	case SpaceWorld:
		return "world"
	case SpaceVoxel:
		return "voxel"
	default:
		return fmt.Sprintf("Space(%d)", int(s))
	}
}

// Origin identifies where coordinate (0,0,0) sits inside voxel (0,0,0).
type Origin int

const (
	// OriginCorner places the origin at the voxel corner.
	OriginCorner Origin = iota

	// OriginCenter places the origin at the voxel center. Downstream
	// interpolation assumes this half-voxel convention.
	OriginCenter
)

func (o Origin) String() string {
	if o == OriginCenter {
		return "center"
	}
	return "corner"
}

// SpaceMismatchError reports an attempt to concatenate tractograms that
// occupy different geometric spaces. It indicates a configuration or
// reference error and is fatal for the current subject.
type SpaceMismatchError struct {
	Have, Want Space
	Bundle     string
}

func (e *SpaceMismatchError) Error() string {
	return fmt.Sprintf("inconsistent tractogram space for bundle %s: %s, accumulator holds %s",
		e.Bundle, e.Have, e.Want)
}

// Tractogram is a collection of streamlines anchored to a reference
// volume in a known space and origin convention.
type Tractogram struct {
	Streamlines []Streamline
	Space       Space
	Origin      Origin

	// Reference is the volume whose grid defines the voxel space.
	Reference *volume.Volume
}

// NewTractogram anchors streamlines to a reference in world space with
// the corner origin convention.
func NewTractogram(streamlines []Streamline, ref *volume.Volume) *Tractogram {
	return &Tractogram{
		Streamlines: streamlines,
		Space:       SpaceWorld,
		Origin:      OriginCorner,
		Reference:   ref,
	}
}

// Len returns the number of streamlines.
func (t *Tractogram) Len() int { return len(t.Streamlines) }

// SameSpace reports whether two tractograms share space, origin and
// reference grid, making their streamlines safe to concatenate.
func (t *Tractogram) SameSpace(other *Tractogram) bool {
	return t.Space == other.Space && t.Origin == other.Origin &&
		t.Reference.SameGrid(other.Reference)
}

// ToVoxel maps every point from world coordinates onto the continuous
// voxel grid of the reference. A no-op when already in voxel space.
func (t *Tractogram) ToVoxel() {
	if t.Space == SpaceVoxel {
		return
	}
	for _, s := range t.Streamlines {
		for i, p := range s {
			s[i] = t.Reference.WorldToVoxel(p)
		}
	}
	t.Space = SpaceVoxel
}

// ToCenter moves the origin from the voxel corner to the voxel center.
// The half-voxel shift is mandatory before interpolation; without it,
// sampling is off by half a voxel. A no-op when already centered.
func (t *Tractogram) ToCenter() {
	if t.Origin == OriginCenter {
		return
	}
	shift := r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}
	for _, s := range t.Streamlines {
		for i, p := range s {
			s[i] = p.Sub(shift)
		}
	}
	t.Origin = OriginCenter
}

// RemoveInvalid purges streamlines with non-finite coordinates or with
// points outside the reference volume bounds. Bounds are evaluated in
// voxel space under the tractogram's current origin convention.
//
// lengths, when non-nil, must carry one entry per streamline and is
// filtered in lockstep so it keeps one entry per survivor. It returns
// the filtered lengths and the number of streamlines removed.
func (t *Tractogram) RemoveInvalid(lengths []float64) ([]float64, int) {
	kept := t.Streamlines[:0]
	keptLengths := lengths[:0]
	removed := 0
	for i, s := range t.Streamlines {
		if len(s) < 2 || !s.Finite() || !t.inBounds(s) {
			removed++
			continue
		}
		kept = append(kept, s)
		if lengths != nil {
			keptLengths = append(keptLengths, lengths[i])
		}
	}
	t.Streamlines = kept
	if lengths == nil {
		return nil, removed
	}
	return keptLengths, removed
}

func (t *Tractogram) inBounds(s Streamline) bool {
	var shift float64
	if t.Origin == OriginCenter {
		shift = 0.5
	}
	for _, p := range s {
		q := p
		if t.Space == SpaceWorld {
			q = t.Reference.WorldToVoxel(p)
		} else {
			q = q.Add(r3.Vector{X: shift, Y: shift, Z: shift})
		}
		if !t.Reference.InBounds(q) {
			return false
		}
	}
	return true
}
