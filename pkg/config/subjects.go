package config

import (
	"log/slog"
	"sort"
)

// validateSubjectList splits wanted into subjects whose folders exist on
// disk and subjects that do not, and also reports the disk subjects the
// list leaves out. Order of the valid subset follows wanted.
func validateSubjectList(allOnDisk, wanted []string) (missing, valid, ignored []string) {
	onDisk := make(map[string]bool, len(allOnDisk))
	for _, s := range allOnDisk {
		onDisk[s] = true
	}
	inList := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		inList[s] = true
		if onDisk[s] {
			valid = append(valid, s)
		} else {
			missing = append(missing, s)
		}
	}
	for _, s := range allOnDisk {
		if !inList[s] {
			ignored = append(ignored, s)
		}
	}
	return missing, valid, ignored
}

// sameMembers reports whether two subject lists contain the same ids,
// regardless of order.
func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// ReconcileSubjects merges the three subject-name sources into the
// authoritative list of subjects to process.
//
// allOnDisk is the list of subject folders actually present and must not
// be empty. configSubjects comes from the configuration document and
// callerSubjects from the caller; at least one of the two must be given.
// Each given list must name only subjects that exist on disk, and when
// both are given their validated results must contain the same members.
// Disk subjects that a list leaves out are logged and excluded.
//
// The returned order follows the configuration document when it supplied
// a list, otherwise the caller's list.
func ReconcileSubjects(allOnDisk, configSubjects, callerSubjects []string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(allOnDisk) == 0 {
		return nil, configErrorf("no subject folders found")
	}
	if configSubjects == nil && callerSubjects == nil {
		return nil, configErrorf(
			"no subject list given: provide one in the config document or as an option")
	}

	var goodConfig, goodCaller []string

	if configSubjects != nil {
		missing, valid, ignored := validateSubjectList(allOnDisk, configSubjects)
		if len(missing) > 0 {
			return nil, configErrorf(
				"subjects named in the config document have no folder on disk: %v", missing)
		}
		if len(ignored) > 0 {
			logger.Info("skipping subjects not named in the config document",
				"subjects", ignored)
		}
		goodConfig = valid
		if callerSubjects == nil {
			return goodConfig, nil
		}
	}

	// Validate the caller list against disk on its own terms, never
	// against the config list.
	missing, valid, ignored := validateSubjectList(allOnDisk, callerSubjects)
	if len(missing) > 0 {
		return nil, configErrorf(
			"subjects chosen by the caller have no folder on disk: %v", missing)
	}
	if len(ignored) > 0 {
		logger.Info("skipping subjects not chosen by the caller",
			"subjects", ignored)
	}
	goodCaller = valid
	if configSubjects == nil {
		return goodCaller, nil
	}

	// Both sources were given: they must agree on membership, since
	// there is no rule for deciding which one the user intended.
	if !sameMembers(goodConfig, goodCaller) {
		return nil, configErrorf(
			"config document subjects %v and caller subjects %v disagree; "+
				"cannot decide which list was intended", goodConfig, goodCaller)
	}
	return goodConfig, nil
}
