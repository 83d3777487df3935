// Package acquire runs acquisition commands against the hardware facades:
// the orchestrator drives the per-channel sweep on one goroutine while the
// dispatcher drains the frame ring on another, routing planes to the
// dataset writer and the preview sink.
package acquire

import "github.com/lightsheet/navigate/config"

// Counters are the totals one acquisition command will produce, computed
// up front so progress reporting and ring drain have exact targets.
type Counters struct {
	// Acquisitions is the number of channel sweeps: channels x positions
	// x timepoints
	Acquisitions int

	// Images is the number of camera frames: Acquisitions x z-steps
	Images int
}

// PrepareAcquisitionList computes the totals for one experiment snapshot.
// Every multiplier is clamped to 1 so a snapshot with no positions or no
// timepoints still describes a single sweep.
func PrepareAcquisitionList(state config.MicroscopeState) Counters {
	channels := len(state.SelectedChannels())
	if channels < 1 {
		channels = 1
	}
	positions := len(state.StagePositions)
	if positions < 1 {
		positions = 1
	}
	timepoints := state.Timepoints
	if timepoints < 1 {
		timepoints = 1
	}
	zSteps := state.NumberZSteps
	if zSteps < 1 {
		zSteps = 1
	}
	acqs := channels * positions * timepoints
	return Counters{
		Acquisitions: acqs,
		Images:       acqs * zSteps,
	}
}
