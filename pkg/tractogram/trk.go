package tractogram

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// trkHeader is the 1000-byte TrackVis file header.
type trkHeader struct {
	Magic         [6]byte
	Dim           [3]int16
	VoxelSize     [3]float32
	Origin        [3]float32
	NScalars      int16
	ScalarNames   [200]byte
	NProperties   int16
	PropertyNames [200]byte
	VoxToRAS      [4][4]float32
	Reserved      [444]byte
	VoxelOrder    [4]byte
	Pad2          [4]byte
	ImageOrient   [6]float32
	Pad1          [2]byte
	InvertFlags   [6]byte
	NCount        int32
	Version       int32
	HdrSize       int32
}

const trkHeaderSize = 1000

// ReadTRK reads a TrackVis .trk file. Point coordinates are returned in
// millimeter space.
func ReadTRK(path string) ([]Streamline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening trk file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr trkHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading trk header")
	}
	if string(hdr.Magic[:5]) != "TRACK" {
		return nil, errors.Errorf("%s is not a TrackVis file", path)
	}
	if hdr.HdrSize != trkHeaderSize {
		return nil, errors.Errorf("%s has unsupported trk header size %d", path, hdr.HdrSize)
	}

	var streamlines []Streamline
	for {
		var npts int32
		err := binary.Read(r, binary.LittleEndian, &npts)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading trk track length")
		}
		if npts < 0 {
			return nil, errors.Errorf("negative point count %d in %s", npts, path)
		}
		values := make([]float32, int(npts)*(3+int(hdr.NScalars)))
		if err := binary.Read(r, binary.LittleEndian, values); err != nil {
			return nil, errors.Wrap(err, "reading trk track points")
		}
		if hdr.NProperties > 0 {
			props := make([]float32, hdr.NProperties)
			if err := binary.Read(r, binary.LittleEndian, props); err != nil {
				return nil, errors.Wrap(err, "reading trk track properties")
			}
		}
		stride := 3 + int(hdr.NScalars)
		s := make(Streamline, npts)
		for i := 0; i < int(npts); i++ {
			s[i] = r3.Vector{
				X: float64(values[i*stride]),
				Y: float64(values[i*stride+1]),
				Z: float64(values[i*stride+2]),
			}
		}
		streamlines = append(streamlines, s)
	}
	return streamlines, nil
}

// WriteTRK writes streamlines (millimeter coordinates) as a TrackVis
// file on the given grid geometry.
func WriteTRK(path string, streamlines []Streamline, dims [3]int, voxelSize [3]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating trk file")
	}
	defer f.Close()

	var hdr trkHeader
	copy(hdr.Magic[:], "TRACK")
	for i := 0; i < 3; i++ {
		hdr.Dim[i] = int16(dims[i])
		hdr.VoxelSize[i] = float32(voxelSize[i])
		hdr.VoxToRAS[i][i] = float32(voxelSize[i])
	}
	hdr.VoxToRAS[3][3] = 1
	copy(hdr.VoxelOrder[:], "RAS")
	hdr.NCount = int32(len(streamlines))
	hdr.Version = 2
	hdr.HdrSize = trkHeaderSize

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "writing trk header")
	}
	for _, s := range streamlines {
		if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
			return errors.Wrap(err, "writing trk track length")
		}
		values := make([]float32, len(s)*3)
		for i, p := range s {
			values[i*3] = float32(p.X)
			values[i*3+1] = float32(p.Y)
			values[i*3+2] = float32(p.Z)
		}
		if err := binary.Write(w, binary.LittleEndian, values); err != nil {
			return errors.Wrap(err, "writing trk track points")
		}
	}
	return w.Flush()
}

// ReadTCK reads an MRtrix .tck file. Point coordinates are returned in
// millimeter space.
func ReadTCK(path string) ([]Streamline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening tck file")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	first, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "reading tck header")
	}
	if !strings.HasPrefix(first, "mrtrix tracks") {
		return nil, errors.Errorf("%s is not an MRtrix track file", path)
	}

	var offset int64 = -1
	datatype := "Float32LE"
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading tck header")
		}
		line = strings.TrimSpace(line)
		if line == "END" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "file":
			fields := strings.Fields(value)
			if len(fields) != 2 {
				return nil, errors.Errorf("%s has malformed file entry %q", path, value)
			}
			offset, err = strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s has malformed file offset", path)
			}
		case "datatype":
			datatype = value
		}
	}
	if offset < 0 {
		return nil, errors.Errorf("%s is missing the file offset entry", path)
	}
	if datatype != "Float32LE" {
		return nil, errors.Errorf("%s uses unsupported datatype %s", path, datatype)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seeking tck data")
	}
	data := bufio.NewReader(f)

	var streamlines []Streamline
	var current Streamline
	for {
		var triple [3]float32
		err := binary.Read(data, binary.LittleEndian, &triple)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading tck points")
		}
		x, y, z := float64(triple[0]), float64(triple[1]), float64(triple[2])
		if math.IsInf(x, 0) {
			break
		}
		if math.IsNaN(x) && math.IsNaN(y) && math.IsNaN(z) {
			if len(current) > 0 {
				streamlines = append(streamlines, current)
				current = nil
			}
			continue
		}
		current = append(current, r3.Vector{X: x, Y: y, Z: z})
	}
	if len(current) > 0 {
		streamlines = append(streamlines, current)
	}
	return streamlines, nil
}
