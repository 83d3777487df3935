// Package waveform computes the per-channel analog and digital waveforms
// that the DAQ plays to run one synchronized snap: camera trigger, laser
// gate, remote focus (ETL) ramp, and galvo sweep.
//
// Every line in a Set shares one sample count, so all outputs start and end
// together.  The camera trigger edge precedes or coincides with the first
// sample at which the laser gate is high; no photons are delivered before
// the sensor can integrate them.
package waveform

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/mathx"
)

// TTL levels for digital lines expressed as analog samples
const (
	ttlLow  = 0.0
	ttlHigh = 5.0
)

// Line names one physical output of the DAQ
type Line string

// The four lines driven for every snap
const (
	LineCameraTrigger Line = "camera-trigger"
	LineLaserGate     Line = "laser-gate"
	LineRemoteFocus   Line = "remote-focus"
	LineGalvo         Line = "galvo"
)

var (
	// ErrUnequalLength is generated when the lines of a Set do not share
	// one sample count
	ErrUnequalLength = errors.New("waveform lines have unequal sample counts")

	// ErrTriggerOrder is generated when the laser gate would rise before
	// the camera trigger
	ErrTriggerOrder = errors.New("laser gate rises before camera trigger")
)

// Set is one fully computed group of waveforms for a single channel.  A Set
// is immutable once computed; the DAQ facade swaps whole sets atomically.
type Set struct {
	// SampleRateHz is the output rate the samples were computed for
	SampleRateHz float64

	// Samples maps each line to its buffer
	Samples map[Line][]float64
}

// Len returns the shared sample count, or 0 for an empty set
func (s Set) Len() int {
	for _, buf := range s.Samples {
		return len(buf)
	}
	return 0
}

// Duration is the wall time the set takes to play
func (s Set) Duration() time.Duration {
	if s.SampleRateHz == 0 {
		return 0
	}
	secs := float64(s.Len()) / s.SampleRateHz
	return time.Duration(secs * float64(time.Second))
}

// Validate checks the two hard invariants: equal line lengths and camera
// trigger preceding laser validity.
func (s Set) Validate() error {
	n := -1
	for line, buf := range s.Samples {
		if n == -1 {
			n = len(buf)
			continue
		}
		if len(buf) != n {
			return fmt.Errorf("%w: line %s has %d samples, expected %d", ErrUnequalLength, line, len(buf), n)
		}
	}
	trig := riseIndex(s.Samples[LineCameraTrigger])
	laser := riseIndex(s.Samples[LineLaserGate])
	if laser >= 0 && (trig < 0 || trig > laser) {
		return ErrTriggerOrder
	}
	return nil
}

// riseIndex returns the first sample index above half TTL, or -1
func riseIndex(buf []float64) int {
	for i, v := range buf {
		if v > ttlHigh/2 {
			return i
		}
	}
	return -1
}

// Sequencer computes waveform sets from the experiment snapshot.  It is not
// concurrent safe; the sweep loop is its only caller.
type Sequencer struct {
	cfg config.Waveforms
}

// NewSequencer returns a sequencer for the configured timing parameters
func NewSequencer(cfg config.Waveforms) *Sequencer {
	return &Sequencer{cfg: cfg}
}

// SweepTime returns the total play time for a channel: the exposure plus
// the configured settle and readout overheads.
func (s *Sequencer) SweepTime(ch config.ChannelSettings) time.Duration {
	ms := ch.ExposureTimeMs + s.cfg.SettleTimeMs + s.cfg.ReadoutTimeMs
	return time.Duration(ms * float64(time.Millisecond))
}

// Compute builds the full waveform set for one channel.  The returned set
// always passes Validate; computing and staging happen strictly before the
// hardware is armed.
func (s *Sequencer) Compute(state config.MicroscopeState, ch config.ChannelSettings) (Set, error) {
	if ch.ExposureTimeMs <= 0 {
		return Set{}, fmt.Errorf("channel %d: exposure time %f ms is not positive", ch.Index, ch.ExposureTimeMs)
	}
	rate := s.cfg.SampleRateHz
	if rate <= 0 {
		return Set{}, fmt.Errorf("sample rate %f Hz is not positive", rate)
	}

	samplesPerMs := rate / 1e3
	settle := int(mathx.Round(s.cfg.SettleTimeMs*samplesPerMs, 1))
	expose := int(mathx.Round(ch.ExposureTimeMs*samplesPerMs, 1))
	readout := int(mathx.Round(s.cfg.ReadoutTimeMs*samplesPerMs, 1))
	if expose < 1 {
		expose = 1
	}
	n := settle + expose + readout

	trigger := make([]float64, n)
	laser := make([]float64, n)
	for i := settle; i < settle+expose; i++ {
		trigger[i] = ttlHigh
		laser[i] = ttlHigh
	}

	// remote focus: linear ramp over the exposure window, scaled by the
	// configured amplitude and recentered by the channel defocus offset
	focus := ramp(n, settle, settle+expose)
	floats.Scale(s.cfg.RemoteFocusAmplitudeV, focus)
	floats.AddConst(ch.DefocusOffsetMv/1e3, focus)

	// galvo: sawtooth across the whole sweep
	galvo := ramp(n, 0, n)
	floats.Scale(s.cfg.GalvoAmplitudeV, galvo)
	floats.AddConst(s.cfg.GalvoOffsetV, galvo)

	set := Set{
		SampleRateHz: rate,
		Samples: map[Line][]float64{
			LineCameraTrigger: trigger,
			LineLaserGate:     laser,
			LineRemoteFocus:   focus,
			LineGalvo:         galvo,
		},
	}
	return set, set.Validate()
}

// ramp fills [start,end) with a 0..1 linear ramp; samples outside the
// window hold the boundary values
func ramp(n, start, end int) []float64 {
	out := make([]float64, n)
	span := end - start
	if span <= 1 {
		return out
	}
	for i := range out {
		switch {
		case i < start:
			out[i] = 0
		case i >= end:
			out[i] = 1
		default:
			out[i] = float64(i-start) / float64(span-1)
		}
	}
	return out
}
