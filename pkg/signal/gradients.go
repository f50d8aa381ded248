// Package signal implements the diffusion signal processing used to
// build feature volumes: gradient table handling, spherical harmonic
// fitting, tensor fitting and fiber ODF deconvolution.
package signal

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// B0Threshold is the b-value under which an acquisition is considered a
// b0 (non diffusion weighted) image.
const B0Threshold = 50.0

// shellTolerance is the b-value distance within which an acquisition is
// considered part of a requested shell.
const shellTolerance = 20.0

// GradientTable holds the diffusion gradient scheme of an acquisition:
// one b-value and one unit direction per volume.
type GradientTable struct {
	BValues    []float64
	Directions []r3.Vector
}

// NewGradientTable builds a table from parallel b-value and direction
// slices. Directions are normalized; b0 directions may be zero vectors.
func NewGradientTable(bvals []float64, dirs []r3.Vector) (*GradientTable, error) {
	if len(bvals) != len(dirs) {
		return nil, errors.Errorf("gradient table mismatch: %d b-values, %d directions",
			len(bvals), len(dirs))
	}
	if len(bvals) == 0 {
		return nil, errors.New("empty gradient table")
	}
	normed := make([]r3.Vector, len(dirs))
	for i, d := range dirs {
		if n := d.Norm(); n > 0 {
			normed[i] = d.Mul(1 / n)
		}
	}
	return &GradientTable{BValues: bvals, Directions: normed}, nil
}

// Len returns the number of acquisitions in the table.
func (g *GradientTable) Len() int { return len(g.BValues) }

// IsB0 reports whether acquisition i is a b0 image.
func (g *GradientTable) IsB0(i int) bool { return g.BValues[i] < B0Threshold }

// B0Indices returns the indices of the b0 acquisitions.
func (g *GradientTable) B0Indices() []int {
	var out []int
	for i := range g.BValues {
		if g.IsB0(i) {
			out = append(out, i)
		}
	}
	return out
}

// DWIIndices returns the indices of the diffusion weighted acquisitions.
func (g *GradientTable) DWIIndices() []int {
	var out []int
	for i := range g.BValues {
		if !g.IsB0(i) {
			out = append(out, i)
		}
	}
	return out
}

// MeanB0 computes the mean b0 signal of one voxel.
func (g *GradientTable) MeanB0(signal []float64) float64 {
	b0s := g.B0Indices()
	if len(b0s) == 0 {
		return 0
	}
	var sum float64
	for _, i := range b0s {
		sum += signal[i]
	}
	return sum / float64(len(b0s))
}

// FilterShell keeps only the b0 acquisitions and the acquisitions on the
// requested b-value shell, returning the filtered volume and table.
func FilterShell(dwi *volume.Volume, g *GradientTable, bValue int) (*volume.Volume, *GradientTable, error) {
	if dwi.NumVolumes != g.Len() {
		return nil, nil, errors.Errorf("volume has %d acquisitions but gradient table has %d",
			dwi.NumVolumes, g.Len())
	}
	var keep []int
	for i, b := range g.BValues {
		if g.IsB0(i) || math.Abs(b-float64(bValue)) <= shellTolerance {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(g.B0Indices()) {
		return nil, nil, errors.Errorf("no acquisitions found on shell b=%d", bValue)
	}
	bvals := make([]float64, len(keep))
	dirs := make([]r3.Vector, len(keep))
	for j, i := range keep {
		bvals[j] = g.BValues[i]
		dirs[j] = g.Directions[i]
	}
	table, err := NewGradientTable(bvals, dirs)
	if err != nil {
		return nil, nil, err
	}
	return dwi.SelectVolumes(keep), table, nil
}

// LoadGradientTable reads FSL-style bval and bvec text files: bvals as
// one whitespace-separated row, bvecs as three rows of x, y and z
// components.
func LoadGradientTable(bvalPath, bvecPath string) (*GradientTable, error) {
	bvals, err := readFloatRows(bvalPath, 1)
	if err != nil {
		return nil, errors.Wrap(err, "reading bvals")
	}
	bvecs, err := readFloatRows(bvecPath, 3)
	if err != nil {
		return nil, errors.Wrap(err, "reading bvecs")
	}
	n := len(bvals[0])
	if len(bvecs[0]) != n || len(bvecs[1]) != n || len(bvecs[2]) != n {
		return nil, errors.Errorf("bvals carry %d entries but bvecs carry %d",
			n, len(bvecs[0]))
	}
	dirs := make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		dirs[i] = r3.Vector{X: bvecs[0][i], Y: bvecs[1][i], Z: bvecs[2][i]}
	}
	return NewGradientTable(bvals[0], dirs)
}

func readFloatRows(path string, wantRows int) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, field := range fields {
			row[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", path)
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) != wantRows {
		return nil, errors.Errorf("%s: expected %d rows, got %d", path, wantRows, len(rows))
	}
	return rows, nil
}
