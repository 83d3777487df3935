package acquire

import "github.com/lightsheet/navigate/config"

// Identity locates one frame within an acquisition: which channel slot it
// belongs to and which z-slice, timepoint, and position it occupies.
type Identity struct {
	Channel   int
	Slice     int
	Timepoint int
	Position  int
}

// IdentityDecoder derives frame identities from a running frame counter.
// The derivation is purely arithmetic over the experiment geometry, so the
// dispatcher never needs to be told which frame the camera just produced.
type IdentityDecoder struct {
	Channels   int
	Slices     int
	Timepoints int
	Positions  int
	PerStack   bool
}

// NewIdentityDecoder builds a decoder from the experiment snapshot
func NewIdentityDecoder(state config.MicroscopeState) IdentityDecoder {
	d := IdentityDecoder{
		Channels:   len(state.SelectedChannels()),
		Slices:     state.NumberZSteps,
		Timepoints: state.Timepoints,
		Positions:  len(state.StagePositions),
		PerStack:   state.StackCyclingMode != config.PerZ,
	}
	if d.Channels < 1 {
		d.Channels = 1
	}
	if d.Slices < 1 {
		d.Slices = 1
	}
	if d.Timepoints < 1 {
		d.Timepoints = 1
	}
	if d.Positions < 1 {
		d.Positions = 1
	}
	return d
}

// Decode maps a frame counter to its identity.  In per_stack mode a full
// run of z-slices belongs to one channel before the next channel begins;
// in per_z mode the channel cycles at every slice.  The channel index is
// modular over the configured channel count, whatever that count is.
func (d IdentityDecoder) Decode(frame int) Identity {
	var id Identity
	if d.PerStack {
		id.Channel = (frame / d.Slices) % d.Channels
		id.Slice = frame % d.Slices
	} else {
		id.Channel = frame % d.Channels
		id.Slice = (frame / d.Channels) % d.Slices
	}
	id.Timepoint = (frame / (d.Channels * d.Slices)) % d.Timepoints
	id.Position = frame / (d.Channels * d.Slices * d.Timepoints)
	return id
}

// Total is the number of frames a full acquisition produces
func (d IdentityDecoder) Total() int {
	return d.Channels * d.Slices * d.Timepoints * d.Positions
}
