// Package tractogram handles streamline bundles: loading them from
// TrackVis and MRtrix files, filtering them, and merging them into one
// voxel-space tractogram anchored to a diffusion reference volume.
package tractogram

import (
	"math"

	"github.com/golang/geo/r3"
)

// Streamline is one reconstructed fiber pathway: an ordered sequence of
// 3D points.
type Streamline []r3.Vector

// Length returns the euclidean arc length of the streamline.
func (s Streamline) Length() float64 {
	var total float64
	for i := 1; i < len(s); i++ {
		total += s[i].Sub(s[i-1]).Norm()
	}
	return total
}

// Finite reports whether every coordinate of the streamline is finite.
func (s Streamline) Finite() bool {
	for _, p := range s {
		if math.IsNaN(p.X) || math.IsInf(p.X, 0) ||
			math.IsNaN(p.Y) || math.IsInf(p.Y, 0) ||
			math.IsNaN(p.Z) || math.IsInf(p.Z, 0) {
			return false
		}
	}
	return true
}

// pointAt returns the point at arc-length distance d from the start,
// interpolating linearly along the polyline.
func (s Streamline) pointAt(d float64) r3.Vector {
	if d <= 0 {
		return s[0]
	}
	var walked float64
	for i := 1; i < len(s); i++ {
		seg := s[i].Sub(s[i-1])
		segLen := seg.Norm()
		if walked+segLen >= d && segLen > 0 {
			t := (d - walked) / segLen
			return s[i-1].Add(seg.Mul(t))
		}
		walked += segLen
	}
	return s[len(s)-1]
}

// Resample returns the streamline resampled to a uniform step size. The
// resulting point count is ceil(length/step), floored at two so the
// endpoints survive.
func (s Streamline) Resample(step float64) Streamline {
	if len(s) < 2 || step <= 0 {
		return s
	}
	length := s.Length()
	n := int(math.Ceil(length / step))
	if n < 2 {
		n = 2
	}
	out := make(Streamline, n)
	for i := 0; i < n; i++ {
		out[i] = s.pointAt(length * float64(i) / float64(n-1))
	}
	return out
}

// Compress removes near-collinear interior points: any point closer
// than tol to the segment joining its surviving neighbors is dropped
// (Ramer-Douglas-Peucker).
func (s Streamline) Compress(tol float64) Streamline {
	if len(s) <= 2 {
		return s
	}
	keep := make([]bool, len(s))
	keep[0], keep[len(s)-1] = true, true
	compressRange(s, 0, len(s)-1, tol, keep)

	out := make(Streamline, 0, len(s))
	for i, k := range keep {
		if k {
			out = append(out, s[i])
		}
	}
	return out
}

func compressRange(s Streamline, lo, hi int, tol float64, keep []bool) {
	if hi-lo < 2 {
		return
	}
	var maxDist float64
	maxIdx := -1
	for i := lo + 1; i < hi; i++ {
		d := pointSegmentDistance(s[i], s[lo], s[hi])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist <= tol {
		return
	}
	keep[maxIdx] = true
	compressRange(s, lo, maxIdx, tol, keep)
	compressRange(s, maxIdx, hi, tol, keep)
}

func pointSegmentDistance(p, a, b r3.Vector) float64 {
	ab := b.Sub(a)
	den := ab.Dot(ab)
	if den == 0 {
		return p.Sub(a).Norm()
	}
	t := p.Sub(a).Dot(ab) / den
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Sub(a.Add(ab.Mul(t))).Norm()
}

// representationPoints is the fixed point count used when comparing
// streamline shapes for clustering.
const representationPoints = 12

// mdf computes the minimum average direct-flip distance between two
// streamlines resampled to representationPoints points.
func mdf(a, b Streamline) float64 {
	var direct, flipped float64
	n := len(a)
	for i := 0; i < n; i++ {
		direct += a[i].Sub(b[i]).Norm()
		flipped += a[i].Sub(b[n-1-i]).Norm()
	}
	return math.Min(direct, flipped) / float64(n)
}

// representation resamples a streamline to the fixed comparison length.
func representation(s Streamline) Streamline {
	if len(s) < 2 {
		return s
	}
	length := s.Length()
	out := make(Streamline, representationPoints)
	for i := 0; i < representationPoints; i++ {
		out[i] = s.pointAt(length * float64(i) / float64(representationPoints-1))
	}
	return out
}

// Subsample clusters streamlines by centroid proximity and removes
// near-duplicates: streamlines within removalDistance of their cluster's
// representative (the member closest to the centroid) are dropped, the
// representative itself always survives.
func Subsample(streamlines []Streamline, clusteringThreshold, removalDistance float64) []Streamline {
	if len(streamlines) == 0 {
		return streamlines
	}

	reps := make([]Streamline, len(streamlines))
	for i, s := range streamlines {
		reps[i] = representation(s)
	}

	// Incremental centroid clustering: each streamline joins the first
	// cluster whose centroid lies within the threshold.
	type cluster struct {
		centroid Streamline
		members  []int
	}
	var clusters []*cluster
	for i, rep := range reps {
		if len(rep) < representationPoints {
			continue
		}
		assigned := false
		for _, c := range clusters {
			if mdf(rep, c.centroid) <= clusteringThreshold {
				c.members = append(c.members, i)
				for j := range c.centroid {
					w := float64(len(c.members))
					c.centroid[j] = c.centroid[j].Mul((w - 1) / w).Add(rep[j].Mul(1 / w))
				}
				assigned = true
				break
			}
		}
		if !assigned {
			centroid := make(Streamline, representationPoints)
			copy(centroid, rep)
			clusters = append(clusters, &cluster{centroid: centroid, members: []int{i}})
		}
	}

	var out []Streamline
	for _, c := range clusters {
		repIdx := c.members[0]
		bestDist := math.Inf(1)
		for _, i := range c.members {
			if d := mdf(reps[i], c.centroid); d < bestDist {
				bestDist = d
				repIdx = i
			}
		}
		out = append(out, streamlines[repIdx])
		for _, i := range c.members {
			if i == repIdx {
				continue
			}
			if mdf(reps[i], reps[repIdx]) > removalDistance {
				out = append(out, streamlines[i])
			}
		}
	}
	return out
}
