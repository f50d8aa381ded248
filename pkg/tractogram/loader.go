package tractogram

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/jhlegarreta/dwi-ml/pkg/volume"
)

// AmbiguousBundleError reports that a bundle name matched more than one
// file; silently picking one would hide a data layout problem, so the
// subject's processing aborts.
type AmbiguousBundleError struct {
	Name    string
	Matches []string
}

func (e *AmbiguousBundleError) Error() string {
	return fmt.Sprintf("bundle %s has matched multiple files: %v", e.Name, e.Matches)
}

// IsBundleFile reports whether a file name has a tractogram extension.
func IsBundleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".trk" || ext == ".tck"
}

// Locate finds the file backing a named bundle among the files of a
// bundle directory, matching names that end in _<name>.trk or
// _<name>.tck. Zero matches return found == false (the caller logs and
// skips the bundle); more than one match is an AmbiguousBundleError.
func Locate(bundleName string, files []string) (path string, found bool, err error) {
	var matches []string
	for _, f := range files {
		base := filepath.Base(f)
		if !IsBundleFile(base) {
			continue
		}
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if strings.HasSuffix(stem, "_"+bundleName) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return "", false, nil
	case 1:
		return matches[0], true, nil
	default:
		return "", false, &AmbiguousBundleError{Name: bundleName, Matches: matches}
	}
}

// LoadedBundle is one bundle read from disk, anchored to the reference
// space, with its pre-filter streamline count captured for attrition
// reporting.
type LoadedBundle struct {
	// Name is the configured bundle name, or the file stem in
	// wholebrain mode.
	Name string

	// Path is the backing file.
	Path string

	// Tractogram holds the streamlines in world space.
	Tractogram *Tractogram

	// OriginalCount is the streamline count at load time, before any
	// filtering. Never recomputed.
	OriginalCount int
}

// Loader reads bundle files into a fixed geometric reference space.
type Loader struct {
	logger *slog.Logger
}

// NewLoader builds a loader. A nil logger selects slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads the bundle at path into the reference world space. A
// bundle with zero streamlines is a normal occurrence (tracking can
// fail); it is logged and reported as a nil bundle with a nil error,
// and the caller skips it.
func (l *Loader) Load(path, name string, ref *volume.Volume) (*LoadedBundle, error) {
	var streamlines []Streamline
	var err error
	switch filepath.Ext(path) {
	case ".trk":
		streamlines, err = ReadTRK(path)
	case ".tck":
		streamlines, err = ReadTCK(path)
	default:
		return nil, errors.Errorf("unsupported tractogram format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if len(streamlines) == 0 {
		l.logger.Warn("bundle contains 0 streamlines, skipping", "path", path)
		return nil, nil
	}
	l.logger.Debug("bundle loaded", "path", path, "streamlines", len(streamlines))
	return &LoadedBundle{
		Name:          name,
		Path:          path,
		Tractogram:    NewTractogram(streamlines, ref),
		OriginalCount: len(streamlines),
	}, nil
}
