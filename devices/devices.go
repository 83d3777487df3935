// Package devices defines the facade contracts for the microscope hardware
// and the registry that maps configured device type tags to factories.
//
// Exactly one goroutine (the orchestrator's sweep loop) issues commands to a
// given facade at a time; facades are not required to be concurrent safe.
// The remote focus (ETL) and galvo are not separate facades: they are analog
// lines driven by the DAQ through staged waveforms, matching how the
// instrument is actually wired.
package devices

import (
	"fmt"
	"time"

	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/waveform"
)

// Error wraps a failure from one device family so the orchestrator can log
// which peripheral misbehaved mid-sweep.
type Error struct {
	// Device is the facade name, e.g. "filter-wheel"
	Device string

	// Op is the command that failed
	Op string

	// Err is the underlying cause
	Err error
}

// Error satisfies the error interface
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e Error) Unwrap() error { return e.Err }

// Camera is the facade for the imaging sensor.  The camera writes into the
// shared frame ring; it owns a slot between AcquireWrite and Publish.
type Camera interface {
	// Initialize attaches the shared frame ring.  Must be called before
	// the first acquisition.
	Initialize(*buffer.Ring)

	// SetExposureTime programs the sensor integration time
	SetExposureTime(time.Duration) error

	// Arm readies the sensor for hardware-triggered exposure
	Arm() error

	// Disarm stops the exposure sequence
	Disarm() error
}

// Stage is the facade for the multi-axis sample positioner
type Stage interface {
	// MoveAbsolute commands the given axes to absolute targets
	MoveAbsolute(map[string]float64) error

	// GetPosition reports the current position of every axis
	GetPosition() (map[string]float64, error)
}

// Shutter controls the two illumination shutters
type Shutter interface {
	// OpenLeft opens the low-resolution (left) illumination path
	OpenLeft() error

	// OpenRight opens the high-resolution (right) illumination path
	OpenRight() error

	// CloseAll closes both shutters
	CloseAll() error
}

// FilterWheel selects the emission filter by name
type FilterWheel interface {
	SetFilter(string) error
}

// LaserBank controls the laser lines
type LaserBank interface {
	// TriggerDigital enables the digital gate for one laser line
	TriggerDigital(index int) error

	// SetAnalogPower sets the modulation level (0-100) for one line
	SetAnalogPower(index int, power float64) error

	// EnableLowResolution routes laser output to the left arm
	EnableLowResolution() error

	// EnableHighResolution routes laser output to the right arm
	EnableHighResolution() error
}

// Zoom is the facade for the zoom servo
type Zoom interface {
	SetZoom(string) error
}

// DAQ is the facade for the synchronization card.  One snap is always the
// ordered triplet Prepare, Run, Stop; the waveform.Acquisition guard in the
// orchestrator makes that ordering structural.
type DAQ interface {
	// Stage loads a fully computed waveform set.  Partial updates are
	// impossible: the set replaces the previous one atomically and only
	// takes effect at the next Prepare.
	Stage(waveform.Set) error

	// PrepareAcquisition writes the staged waveforms to the card and
	// arms the trigger
	PrepareAcquisition() error

	// RunAcquisition delivers the master trigger and blocks until the
	// sweep completes
	RunAcquisition() error

	// StopAcquisition stops the tasks and cleans up
	StopAcquisition() error
}

// Connectable is implemented by facades that hold a remote connection with
// a lifecycle.  Synthetic devices connect trivially.
type Connectable interface {
	Connect() error
	Disconnect() error
}
