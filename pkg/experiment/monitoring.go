// Package experiment provides the small bookkeeping objects used while
// training on an assembled dataset: per-epoch value histories and
// early stopping.
package experiment

import (
	"math"

	"github.com/montanaflynn/stats"
)

// ValueHistoryMonitor records a value at every training iteration and
// its mean for each completed epoch. Typical use: the training loss.
type ValueHistoryMonitor struct {
	Name string

	allUpdates   []float64
	epochMeans   []float64
	currentEpoch []float64
}

// NewValueHistoryMonitor builds a named monitor.
func NewValueHistoryMonitor(name string) *ValueHistoryMonitor {
	return &ValueHistoryMonitor{Name: name}
}

// Update records one iteration value. Infinite values are dropped.
func (m *ValueHistoryMonitor) Update(value float64) {
	if math.IsInf(value, 0) {
		return
	}
	m.allUpdates = append(m.allUpdates, value)
	m.currentEpoch = append(m.currentEpoch, value)
}

// NumUpdates returns the total number of recorded values.
func (m *ValueHistoryMonitor) NumUpdates() int { return len(m.allUpdates) }

// NumEpochs returns the number of completed epochs.
func (m *ValueHistoryMonitor) NumEpochs() int { return len(m.epochMeans) }

// EndEpoch closes the current epoch, appending its mean to the epoch
// history.
func (m *ValueHistoryMonitor) EndEpoch() {
	mean, err := stats.Mean(m.currentEpoch)
	if err != nil {
		mean = math.NaN()
	}
	m.epochMeans = append(m.epochMeans, mean)
	m.currentEpoch = nil
}

// EpochMeans returns the per-epoch mean curve.
func (m *ValueHistoryMonitor) EpochMeans() []float64 {
	return append([]float64(nil), m.epochMeans...)
}

// State is the serializable snapshot of a monitor.
type State struct {
	Name         string    `json:"name"`
	AllUpdates   []float64 `json:"all_updates_history"`
	CurrentEpoch []float64 `json:"current_epoch_history"`
	EpochMeans   []float64 `json:"epochs_means_history"`
}

// GetState snapshots the monitor.
func (m *ValueHistoryMonitor) GetState() State {
	return State{
		Name:         m.Name,
		AllUpdates:   append([]float64(nil), m.allUpdates...),
		CurrentEpoch: append([]float64(nil), m.currentEpoch...),
		EpochMeans:   append([]float64(nil), m.epochMeans...),
	}
}

// SetState restores the monitor from a snapshot.
func (m *ValueHistoryMonitor) SetState(s State) {
	m.Name = s.Name
	m.allUpdates = append([]float64(nil), s.AllUpdates...)
	m.currentEpoch = append([]float64(nil), s.CurrentEpoch...)
	m.epochMeans = append([]float64(nil), s.EpochMeans...)
}

// EarlyStopping stops training when the loss has not improved for a
// given number of epochs.
type EarlyStopping struct {
	// Patience is the maximal number of non-improving epochs allowed.
	Patience int

	// MinEps is the improvement margin: a loss counts as better only
	// when it is at least MinEps below the previous best.
	MinEps float64

	best      float64
	hasBest   bool
	badEpochs int
}

// NewEarlyStopping builds a stopper. A non-positive minEps defaults to
// 1e-6.
func NewEarlyStopping(patience int, minEps float64) *EarlyStopping {
	if minEps <= 0 {
		minEps = 1e-6
	}
	return &EarlyStopping{Patience: patience, MinEps: minEps}
}

// ShouldStop records one epoch loss and reports whether training should
// stop.
func (e *EarlyStopping) ShouldStop(loss float64) bool {
	if !e.hasBest {
		e.best = loss
		e.hasBest = true
		return false
	}
	if loss < e.best-e.MinEps {
		e.best = loss
		e.badEpochs = 0
	} else {
		e.badEpochs++
	}
	return e.badEpochs >= e.Patience
}

// StopperState is the serializable snapshot of an EarlyStopping.
type StopperState struct {
	Patience  int     `json:"patience"`
	MinEps    float64 `json:"min_eps"`
	Best      float64 `json:"best"`
	HasBest   bool    `json:"has_best"`
	BadEpochs int     `json:"n_bad_epochs"`
}

// GetState snapshots the stopper.
func (e *EarlyStopping) GetState() StopperState {
	return StopperState{
		Patience: e.Patience, MinEps: e.MinEps,
		Best: e.best, HasBest: e.hasBest, BadEpochs: e.badEpochs,
	}
}

// SetState restores the stopper from a snapshot.
func (e *EarlyStopping) SetState(s StopperState) {
	e.Patience = s.Patience
	e.MinEps = s.MinEps
	e.best = s.Best
	e.hasBest = s.HasBest
	e.badEpochs = s.BadEpochs
}
