package devices

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/waveform"
)

// Synthetic facades stand in for real hardware during development and in
// tests.  The synthetic DAQ is wired to the synthetic camera: delivering
// the master trigger exposes one frame into the shared ring, the same
// causal chain the real instrument has.

var (
	// ErrNotPrepared is generated when RunAcquisition is called without
	// a prior PrepareAcquisition
	ErrNotPrepared = errors.New("daq: run without prepare")

	// ErrNothingStaged is generated when PrepareAcquisition is called
	// before any waveform set was staged
	ErrNothingStaged = errors.New("daq: no waveform set staged")
)

// FrameProducer is the slice of the camera the synthetic DAQ triggers
type FrameProducer interface {
	ExposeOnce() error
}

// SyntheticCamera fabricates frames with a deterministic test pattern
type SyntheticCamera struct {
	mu       sync.Mutex
	ring     *buffer.Ring
	exposure time.Duration
	armed    bool
	counter  uint16
	dropped  int
}

// NewSyntheticCamera returns a camera for the configured geometry
func NewSyntheticCamera(geo config.CameraGeometry) *SyntheticCamera {
	return &SyntheticCamera{}
}

// Initialize attaches the shared frame ring
func (c *SyntheticCamera) Initialize(r *buffer.Ring) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = r
}

// SetExposureTime programs the integration time
func (c *SyntheticCamera) SetExposureTime(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = d
	return nil
}

// Arm readies the sensor for triggering
func (c *SyntheticCamera) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ring == nil {
		return errors.New("camera: no frame ring attached")
	}
	c.armed = true
	return nil
}

// Disarm stops the exposure sequence
func (c *SyntheticCamera) Disarm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = false
	return nil
}

// Dropped reports frames lost to a full ring
func (c *SyntheticCamera) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// ExposeOnce fills and publishes one slot.  A full ring counts the frame
// as dropped rather than tearing a slot a consumer still owns.
func (c *SyntheticCamera) ExposeOnce() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return errors.New("camera: expose while disarmed")
	}
	slot, plane, err := c.ring.AcquireWrite()
	if err != nil {
		c.dropped++
		log.Printf("camera: frame dropped, %v", err)
		return nil
	}
	c.counter++
	for i := range plane {
		plane[i] = c.counter
	}
	c.ring.Publish(slot)
	return nil
}

// SyntheticStage remembers where it was told to go
type SyntheticStage struct {
	mu  sync.Mutex
	pos map[string]float64
}

// NewSyntheticStage returns a stage homed at zero on all axes
func NewSyntheticStage() *SyntheticStage {
	return &SyntheticStage{pos: map[string]float64{}}
}

// MoveAbsolute commands the given axes to absolute targets
func (s *SyntheticStage) MoveAbsolute(targets map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for axis, v := range targets {
		s.pos[axis] = v
	}
	return nil
}

// GetPosition reports the current position of every axis
func (s *SyntheticStage) GetPosition() (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.pos))
	for k, v := range s.pos {
		out[k] = v
	}
	return out, nil
}

// SyntheticShutter tracks which side is open
type SyntheticShutter struct {
	mu    sync.Mutex
	left  bool
	right bool
}

// NewSyntheticShutter returns a shutter with both sides closed
func NewSyntheticShutter() *SyntheticShutter { return &SyntheticShutter{} }

// OpenLeft opens the low-resolution path
func (s *SyntheticShutter) OpenLeft() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = true
	return nil
}

// OpenRight opens the high-resolution path
func (s *SyntheticShutter) OpenRight() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.right = true
	return nil
}

// CloseAll closes both shutters
func (s *SyntheticShutter) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = false, false
	return nil
}

// State reports (left, right) open flags
func (s *SyntheticShutter) State() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left, s.right
}

// SyntheticFilterWheel records the selected filter
type SyntheticFilterWheel struct {
	mu      sync.Mutex
	current string
}

// NewSyntheticFilterWheel returns a wheel at an empty position
func NewSyntheticFilterWheel() *SyntheticFilterWheel { return &SyntheticFilterWheel{} }

// SetFilter rotates to the named position
func (w *SyntheticFilterWheel) SetFilter(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = name
	return nil
}

// Current reports the selected filter
func (w *SyntheticFilterWheel) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SyntheticLaserBank records the last trigger and power commands
type SyntheticLaserBank struct {
	mu       sync.Mutex
	gated    int
	power    map[int]float64
	highside bool
}

// NewSyntheticLaserBank returns a bank with all lines off
func NewSyntheticLaserBank() *SyntheticLaserBank {
	return &SyntheticLaserBank{gated: -1, power: map[int]float64{}}
}

// TriggerDigital enables the digital gate for one line
func (b *SyntheticLaserBank) TriggerDigital(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gated = index
	return nil
}

// SetAnalogPower sets the modulation level for one line
func (b *SyntheticLaserBank) SetAnalogPower(index int, power float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.power[index] = power
	return nil
}

// EnableLowResolution routes output to the left arm
func (b *SyntheticLaserBank) EnableLowResolution() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highside = false
	return nil
}

// EnableHighResolution routes output to the right arm
func (b *SyntheticLaserBank) EnableHighResolution() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.highside = true
	return nil
}

// SyntheticZoom records the servo position
type SyntheticZoom struct {
	mu   sync.Mutex
	zoom string
}

// NewSyntheticZoom returns a zoom servo at its boot position
func NewSyntheticZoom() *SyntheticZoom { return &SyntheticZoom{} }

// SetZoom moves the servo to the labeled position
func (z *SyntheticZoom) SetZoom(label string) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.zoom = label
	return nil
}

// daq lifecycle states
const (
	daqIdle = iota
	daqPrepared
	daqRunning
)

// SyntheticDAQ plays staged waveform sets against the synthetic camera.
// Staging and preparation are separate on purpose: Stage may be called
// while a previous set plays, but the swap only lands at the next Prepare.
type SyntheticDAQ struct {
	mu       sync.Mutex
	staged   *waveform.Set
	active   *waveform.Set
	state    int
	producer FrameProducer
}

// NewSyntheticDAQ returns an idle DAQ with nothing staged
func NewSyntheticDAQ() *SyntheticDAQ { return &SyntheticDAQ{} }

// SetProducer wires the camera that the master trigger exposes
func (d *SyntheticDAQ) SetProducer(p FrameProducer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.producer = p
}

// Stage loads a fully computed waveform set for the next Prepare
func (d *SyntheticDAQ) Stage(s waveform.Set) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = &s
	return nil
}

// PrepareAcquisition commits the staged set and arms the trigger
func (d *SyntheticDAQ) PrepareAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.staged == nil {
		return ErrNothingStaged
	}
	d.active = d.staged
	d.state = daqPrepared
	return nil
}

// RunAcquisition delivers the master trigger, exposes one frame, and
// blocks for the set's play time
func (d *SyntheticDAQ) RunAcquisition() error {
	d.mu.Lock()
	if d.state != daqPrepared {
		d.mu.Unlock()
		return ErrNotPrepared
	}
	d.state = daqRunning
	producer := d.producer
	dur := d.active.Duration()
	d.mu.Unlock()

	if producer != nil {
		if err := producer.ExposeOnce(); err != nil {
			return err
		}
	}
	time.Sleep(dur)
	return nil
}

// StopAcquisition stops the tasks and cleans up
func (d *SyntheticDAQ) StopAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = daqIdle
	return nil
}
