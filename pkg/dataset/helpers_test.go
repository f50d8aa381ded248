package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"github.com/jhlegarreta/dwi-ml/pkg/signal"
	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// testGradients builds a small single-shell acquisition: one b0 plus
// eight spread-out b=1000 directions.
func testGradients() *signal.GradientTable {
	n := 8
	bvals := make([]float64, n+1)
	dirs := make([]r3.Vector, n+1)
	phi := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - float64(i)/float64(n)
		r := math.Sqrt(1 - z*z)
		th := phi * float64(i)
		bvals[i+1] = 1000
		dirs[i+1] = r3.Vector{X: r * math.Cos(th), Y: r * math.Sin(th), Z: z}
	}
	gtab, err := signal.NewGradientTable(bvals, dirs)
	if err != nil {
		panic(err)
	}
	return gtab
}

// writeGradientFiles writes FSL-style bval/bvec files for a gradient
// table into a subject directory.
func writeGradientFiles(t *testing.T, dir string, gtab *signal.GradientTable) {
	t.Helper()

	var bval, x, y, z string
	for i := 0; i < gtab.Len(); i++ {
		bval += fmt.Sprintf("%g ", gtab.BValues[i])
		x += fmt.Sprintf("%g ", gtab.Directions[i].X)
		y += fmt.Sprintf("%g ", gtab.Directions[i].Y)
		z += fmt.Sprintf("%g ", gtab.Directions[i].Z)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dwi.bval"), []byte(bval+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dwi.bvec"),
		[]byte(x+"\n"+y+"\n"+z+"\n"), 0644))
}

// writeSubjectDWI writes a constant-signal DWI volume and its gradient
// files into a subject directory.
func writeSubjectDWI(t *testing.T, dir string, dims [3]int, gtab *signal.GradientTable) *volume.Volume {
	t.Helper()

	dwi := volume.New(dims, gtab.Len(), [3]float64{1, 1, 1})
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				for i := 0; i < gtab.Len(); i++ {
					v := 100.0
					if !gtab.IsB0(i) {
						v = 60
					}
					dwi.Set(x, y, z, i, v)
				}
			}
		}
	}
	require.NoError(t, volume.WriteNifti(filepath.Join(dir, "dwi.nii"), dwi))
	writeGradientFiles(t, dir, gtab)
	return dwi
}
