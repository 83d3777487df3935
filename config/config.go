// Package config holds the configuration surface for the acquisition engine.
//
// Unlike the usual pattern of a shared session dictionary, the experiment
// snapshot (MicroscopeState) is an explicit value handed to the orchestrator
// at run start.  Nothing in this package is consulted ambiently mid-run.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// Stack cycling modes.  PerStack acquires a full z-stack for one channel
// before switching; PerZ cycles every channel at each z position.
const (
	PerStack = "per_stack"
	PerZ     = "per_z"
)

// Resolution modes.  Low drives the left illumination arm, High the right.
const (
	ResolutionLow  = "low"
	ResolutionHigh = "high"
)

// ChannelSettings describes one acquisition channel: which laser and filter
// to use and how long to expose.
type ChannelSettings struct {
	// Index is the 1-based channel index; channels are swept in ascending
	// Index order.
	Index int `yaml:"index" json:"index"`

	// Selected marks the channel for inclusion in the sweep
	Selected bool `yaml:"selected" json:"selected"`

	// ExposureTimeMs is the camera exposure time in milliseconds
	ExposureTimeMs float64 `yaml:"exposureTimeMs" json:"exposureTimeMs"`

	// LaserIndex selects the laser line driven for this channel
	LaserIndex int `yaml:"laserIndex" json:"laserIndex"`

	// LaserPower is the analog modulation level, 0-100
	LaserPower float64 `yaml:"laserPower" json:"laserPower"`

	// Filter is the name of the emission filter wheel position
	Filter string `yaml:"filter" json:"filter"`

	// DefocusOffsetMv is the remote focus offset for this channel in millivolts
	DefocusOffsetMv float64 `yaml:"defocusOffsetMv" json:"defocusOffsetMv"`
}

// StagePosition is one multi-axis stage target
type StagePosition struct {
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
	Z     float64 `yaml:"z" json:"z"`
	Theta float64 `yaml:"theta" json:"theta"`
	Focus float64 `yaml:"f" json:"f" koanf:"f"`
}

// Map converts the position to the axis->target form consumed by
// devices.Stage.MoveAbsolute
func (p StagePosition) Map() map[string]float64 {
	return map[string]float64{
		"x": p.X, "y": p.Y, "z": p.Z, "theta": p.Theta, "f": p.Focus}
}

// MicroscopeState is an experiment-scoped snapshot of everything the
// orchestrator needs to run one acquisition command.  It is owned by the
// orchestrator for the duration of the command and never mutated while an
// acquisition is in flight.
type MicroscopeState struct {
	// ResolutionMode is "low" or "high"; anything else is a fatal
	// configuration error at shutter-open time
	ResolutionMode string `yaml:"resolutionMode" json:"resolutionMode"`

	// Zoom is the zoom servo position label, e.g. "1x", "6x"
	Zoom string `yaml:"zoom" json:"zoom"`

	// Channels are the configured acquisition channels; unselected
	// channels are skipped in the sweep
	Channels []ChannelSettings `yaml:"channels" json:"channels"`

	// NumberZSteps is the number of slices per stack
	NumberZSteps int `yaml:"numberZSteps" json:"numberZSteps"`

	// Timepoints is the number of times the whole position sweep repeats
	Timepoints int `yaml:"timepoints" json:"timepoints"`

	// StagePositions are visited in order for each timepoint
	StagePositions []StagePosition `yaml:"stagePositions" json:"stagePositions"`

	// StackCyclingMode is PerStack or PerZ
	StackCyclingMode string `yaml:"stackCyclingMode" json:"stackCyclingMode"`
}

// SelectedChannels returns the selected channels in ascending Index order
func (m MicroscopeState) SelectedChannels() []ChannelSettings {
	out := make([]ChannelSettings, 0, len(m.Channels))
	for _, ch := range m.Channels {
		if ch.Selected {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Validate returns an error for states that cannot be run at all.
// Per-channel device failures are a run-time concern, not a validation one.
func (m MicroscopeState) Validate() error {
	if m.ResolutionMode != ResolutionLow && m.ResolutionMode != ResolutionHigh {
		return fmt.Errorf("resolution mode %q is not one of low, high", m.ResolutionMode)
	}
	if m.StackCyclingMode != PerStack && m.StackCyclingMode != PerZ {
		return fmt.Errorf("stack cycling mode %q is not one of per_stack, per_z", m.StackCyclingMode)
	}
	if len(m.SelectedChannels()) == 0 {
		return fmt.Errorf("no channels selected")
	}
	return nil
}

// Saving describes where an acquisition is persisted.  RunID is assigned by
// the orchestrator when the run starts.
type Saving struct {
	// RootDirectory is where datasets are created
	RootDirectory string `yaml:"rootDirectory" json:"rootDirectory"`

	// FileName is the dataset name within RootDirectory
	FileName string `yaml:"fileName" json:"fileName"`

	// RunID uniquely identifies one saved acquisition
	RunID string `yaml:"runID,omitempty" json:"runID,omitempty"`
}

// DeviceSetup holds the typical triplet of args for constructing a device
// facade.  Serial need not be populated for TCP devices.
type DeviceSetup struct {
	// Type is the registered device type tag, e.g. "synthetic-camera"
	Type string `yaml:"type"`

	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to a portserver,
	// or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"addr"`

	// Serial determines if the connection is RS232 (true) or TCP (false)
	Serial bool `yaml:"serial"`

	// Positions maps labels to controller counts: filter names to wheel
	// positions, or zoom labels to servo counts.  Only meaningful for
	// devices with a discrete position table.
	Positions map[string]int `yaml:"positions,omitempty"`
}

// Waveforms holds the sample rate and per-snap timing overheads for the
// DAQ sequencer
type Waveforms struct {
	// SampleRateHz is the DAQ output sample rate
	SampleRateHz float64 `yaml:"sampleRateHz"`

	// SettleTimeMs pads the front of every sweep so optics settle before
	// the camera trigger fires
	SettleTimeMs float64 `yaml:"settleTimeMs"`

	// ReadoutTimeMs pads the back of every sweep for sensor readout
	ReadoutTimeMs float64 `yaml:"readoutTimeMs"`

	// GalvoAmplitudeV is the peak galvo sweep voltage
	GalvoAmplitudeV float64 `yaml:"galvoAmplitudeV"`

	// GalvoOffsetV recenters the galvo sweep
	GalvoOffsetV float64 `yaml:"galvoOffsetV"`

	// RemoteFocusAmplitudeV scales the remote focus ramp
	RemoteFocusAmplitudeV float64 `yaml:"remoteFocusAmplitudeV"`
}

// DownSample configures the multi-resolution pyramid written by the data
// source.  Lateral and axial caps are padded to equal pyramid depth.
type DownSample struct {
	Enabled bool `yaml:"enabled"`

	// Lateral is the maximum x/y downsample factor, a power of two
	Lateral int `yaml:"lateral"`

	// Axial is the maximum z downsample factor, a power of two
	Axial int `yaml:"axial"`
}

// Camera geometry as configured, used to size the frame ring
type CameraGeometry struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// BytesPerPixel is fixed at 2 for the 16-bit sCMOS sensors we drive
	BytesPerPixel int `yaml:"bytesPerPixel"`
}

// Config is the top level configuration for the engine
type Config struct {
	// Addr is the address the control surface listens at
	Addr string `yaml:"addr" koanf:"addr"`

	// Synthetic swaps every hardware facade for its synthetic twin
	Synthetic bool `yaml:"synthetic" koanf:"synthetic"`

	// BufferFrames is the size of the shared frame ring
	BufferFrames int `yaml:"bufferFrames" koanf:"bufferFrames"`

	Camera     CameraGeometry         `yaml:"camera" koanf:"camera"`
	Devices    map[string]DeviceSetup `yaml:"devices" koanf:"devices"`
	Waveforms  Waveforms              `yaml:"waveforms" koanf:"waveforms"`
	DownSample DownSample             `yaml:"downSample" koanf:"downSample"`

	// Experiment is the boot-time MicroscopeState; the control surface
	// can replace it per command
	Experiment MicroscopeState `yaml:"experiment" koanf:"experiment"`

	// Saving is the boot-time saving descriptor
	Saving Saving `yaml:"saving" koanf:"saving"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}
