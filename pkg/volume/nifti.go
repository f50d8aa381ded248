package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/henghuang/nifti"
	"github.com/pkg/errors"
)

// loadNiftiImage wraps the nifti library's LoadImage, which panics on
// malformed files, and turns those panics into recoverable errors.
func loadNiftiImage(path string) (img nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()
	img.LoadImage(path, true)
	return img, nil
}

// loadNiftiHeader wraps LoadHeader the same way.
func loadNiftiHeader(path string) (hdr nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()
	hdr.LoadHeader(path)
	return hdr, nil
}

// LoadNifti reads a .nii or .nii.gz file into a Volume. 3D images are
// returned with NumVolumes == 1.
func LoadNifti(path string) (*Volume, error) {
	img, err := loadNiftiImage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading nifti image %s", path)
	}
	hdr, err := loadNiftiHeader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading nifti header %s", path)
	}

	dims := img.GetDims()
	xm, ym, zm, tm := dims[0], dims[1], dims[2], dims[3]
	if tm < 1 {
		tm = 1
	}
	if xm < 1 || ym < 1 || zm < 1 {
		return nil, errors.Errorf("nifti image %s has degenerate dimensions %v", path, dims)
	}

	vol := New([3]int{xm, ym, zm}, tm, [3]float64{
		float64(hdr.Pixdim[1]),
		float64(hdr.Pixdim[2]),
		float64(hdr.Pixdim[3]),
	})
	for t := 0; t < tm; t++ {
		for z := 0; z < zm; z++ {
			for y := 0; y < ym; y++ {
				for x := 0; x < xm; x++ {
					vol.Set(x, y, z, t, float64(img.GetAt(x, y, z, t)))
				}
			}
		}
	}
	return vol, nil
}

// nifti1Header is the fixed 348-byte NIfTI-1 header written by
// WriteNifti.
type nifti1Header struct {
	SizeofHdr      int32
	DataType       [10]byte
	DbName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XyztUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// WriteNifti writes the volume as an uncompressed single-file NIfTI-1
// image (.nii) with float32 data.
func WriteNifti(path string, v *Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating nifti file")
	}
	defer f.Close()

	var hdr nifti1Header
	hdr.SizeofHdr = 348
	ndim := int16(3)
	if v.NumVolumes > 1 {
		ndim = 4
	}
	hdr.Dim = [8]int16{ndim,
		int16(v.Dims[0]), int16(v.Dims[1]), int16(v.Dims[2]),
		int16(v.NumVolumes), 1, 1, 1}
	hdr.Datatype = 16 // float32
	hdr.Bitpix = 32
	hdr.Pixdim = [8]float32{1,
		float32(v.VoxelSize[0]), float32(v.VoxelSize[1]), float32(v.VoxelSize[2]),
		1, 1, 1, 1}
	hdr.VoxOffset = 352
	hdr.SclSlope = 1
	hdr.XyztUnits = 2 | 8 // mm, seconds
	hdr.SformCode = 1
	hdr.SrowX = [4]float32{float32(v.VoxelSize[0]), 0, 0, 0}
	hdr.SrowY = [4]float32{0, float32(v.VoxelSize[1]), 0, 0}
	hdr.SrowZ = [4]float32{0, 0, float32(v.VoxelSize[2]), 0}
	copy(hdr.Magic[:], "n+1\x00")

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "writing nifti header")
	}
	// 4 bytes of extension padding between header and data.
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return errors.Wrap(err, "writing nifti extension flag")
	}
	data := make([]float32, len(v.Data))
	for i, val := range v.Data {
		data[i] = float32(val)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return errors.Wrap(err, "writing nifti data")
	}
	return w.Flush()
}
