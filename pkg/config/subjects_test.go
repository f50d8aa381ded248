package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileEmptyDisk(t *testing.T) {
	_, err := ReconcileSubjects(nil, []string{"sub01"}, nil, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestReconcileNoSourceGiven(t *testing.T) {
	_, err := ReconcileSubjects([]string{"sub01"}, nil, nil, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestReconcileConfigListOnly(t *testing.T) {
	disk := []string{"sub01", "sub02", "sub03"}

	got, err := ReconcileSubjects(disk, []string{"sub02", "sub01"}, nil, nil)
	require.NoError(t, err)
	// Order follows the config document, disk extras are excluded.
	assert.Equal(t, []string{"sub02", "sub01"}, got)
}

func TestReconcileConfigListMissingOnDisk(t *testing.T) {
	disk := []string{"sub01"}

	_, err := ReconcileSubjects(disk, []string{"sub01", "sub99"}, nil, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "sub99")
}

func TestReconcileCallerListOnly(t *testing.T) {
	disk := []string{"sub01", "sub02", "sub03"}

	got, err := ReconcileSubjects(disk, nil, []string{"sub03", "sub02"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub03", "sub02"}, got)
}

func TestReconcileCallerListMissingOnDisk(t *testing.T) {
	_, err := ReconcileSubjects([]string{"sub01"}, nil, []string{"sub02"}, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "sub02")
}

func TestReconcileBothSourcesAgree(t *testing.T) {
	disk := []string{"sub01", "sub02", "sub03"}

	// Same membership, different order: order independence is part of
	// the contract, and the config document governs the returned order.
	got, err := ReconcileSubjects(disk, []string{"sub01", "sub02"}, []string{"sub02", "sub01"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub01", "sub02"}, got)
}

func TestReconcileBothSourcesDisagree(t *testing.T) {
	disk := []string{"sub01", "sub02", "sub03"}

	_, err := ReconcileSubjects(disk, []string{"sub01"}, []string{"sub02"}, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// The caller list must be validated against its own membership, not the
// config list: a caller list that is valid on disk but differs from the
// config list is a mismatch, never a missing-folder error.
func TestReconcileCallerValidatedIndependently(t *testing.T) {
	disk := []string{"sub01", "sub02", "sub03"}

	_, err := ReconcileSubjects(disk, []string{"sub01", "sub02"}, []string{"sub03"}, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.NotContains(t, err.Error(), "no folder")
}

func TestReconcileResultSubsetOfDisk(t *testing.T) {
	disk := []string{"sub01", "sub02"}
	got, err := ReconcileSubjects(disk, []string{"sub01"}, []string{"sub01"}, nil)
	require.NoError(t, err)

	onDisk := map[string]bool{}
	for _, s := range disk {
		onDisk[s] = true
	}
	for _, s := range got {
		assert.True(t, onDisk[s])
	}
}
