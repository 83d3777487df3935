package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/datasource"
	"github.com/lightsheet/navigate/devices"
	"github.com/lightsheet/navigate/waveform"
)

// Mode selects what an acquisition command does with the frames it takes
type Mode string

// The acquisition modes
const (
	// ModeSingle takes one stack at the current position and saves it
	ModeSingle Mode = "single"

	// ModeLive streams frames to the display until stopped; nothing is
	// saved
	ModeLive Mode = "live"

	// ModeSeries runs the full position/timepoint series and saves it
	ModeSeries Mode = "series"
)

// Orchestrator states
type State string

const (
	// Idle means no acquisition is in flight
	Idle State = "idle"

	// Acquiring means the sweep loop is driving hardware
	Acquiring State = "acquiring"

	// Draining means the sweep has ended and the dispatcher is flushing
	// the remaining published frames
	Draining State = "draining"
)

var (
	// ErrBusy is generated when a command arrives while an acquisition is
	// in flight
	ErrBusy = errors.New("an acquisition is already running")

	// ErrUnknownMode is generated for a command type that is not
	// single, live, or series
	ErrUnknownMode = errors.New("unknown acquisition mode")
)

// Status is a point-in-time snapshot of the orchestrator for the control
// surface
type Status struct {
	State      State    `json:"state"`
	Mode       Mode     `json:"mode,omitempty"`
	RunID      string   `json:"runID,omitempty"`
	Counters   Counters `json:"counters"`
	Produced   int      `json:"produced"`
	Dispatched int      `json:"dispatched"`
	FPS        float64  `json:"fps"`
}

// Orchestrator owns the acquisition lifecycle.  Commands arrive on the
// caller's goroutine; the sweep runs on its own goroutine and is stopped
// cooperatively through context cancellation, checked at the top of every
// frame.
type Orchestrator struct {
	cfg  config.Config
	hw   *devices.Hardware
	ring *buffer.Ring
	seq  *waveform.Sequencer

	display DisplaySink

	mu       sync.Mutex
	state    State
	mode     Mode
	runID    string
	counters Counters
	produced int
	pending  *config.MicroscopeState
	disp     *Dispatcher
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds an orchestrator over connected hardware.  The ring is shared
// with the camera facade through Camera.Initialize at sweep start.
func New(cfg config.Config, hw *devices.Hardware, ring *buffer.Ring) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		hw:    hw,
		ring:  ring,
		seq:   waveform.NewSequencer(cfg.Waveforms),
		state: Idle,
	}
}

// SetDisplay attaches the preview sink.  Must be called before Run.
func (o *Orchestrator) SetDisplay(d DisplaySink) { o.display = d }

// Run starts an acquisition command and returns its run ID.  Single mode
// collapses the snapshot to one stack at the current position; series
// honors the full position and timepoint lists.  Starting a run consumes
// any snapshot held by StoredState; callers wanting it pass it as state.
func (o *Orchestrator) Run(mode Mode, state config.MicroscopeState, saving config.Saving) (string, error) {
	switch mode {
	case ModeSingle, ModeLive, ModeSeries:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err := state.Validate(); err != nil {
		return "", err
	}
	if mode == ModeSingle {
		state.Timepoints = 1
		state.StagePositions = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Idle {
		return "", ErrBusy
	}
	runID := uuid.New().String()
	saving.RunID = runID

	ctx, cancel := context.WithCancel(context.Background())
	o.state = Acquiring
	o.mode = mode
	o.runID = runID
	o.counters = PrepareAcquisitionList(state)
	o.produced = 0
	o.pending = nil
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.run(ctx, mode, state, saving)
	return runID, nil
}

// Stop cancels the in-flight acquisition and blocks until the dispatcher
// has drained.  Stopping an idle orchestrator is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// UpdateSetting replaces the experiment snapshot consulted at the next
// channel boundary.  During live mode the new exposure, laser, and remote
// focus settings take effect without restarting the stream; while idle
// the snapshot is held for StoredState and consumed by the next Run.
func (o *Orchestrator) UpdateSetting(state config.MicroscopeState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = &state
	return nil
}

// StoredState returns the snapshot most recently stored with UpdateSetting
// and not yet consumed by a run.  The control surface uses it as the
// default experiment for a command that does not carry its own; a command
// with an explicit snapshot simply supersedes it.
func (o *Orchestrator) StoredState() (config.MicroscopeState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return config.MicroscopeState{}, false
	}
	return *o.pending, true
}

// Status reports the current lifecycle snapshot
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:    o.state,
		Mode:     o.mode,
		RunID:    o.runID,
		Counters: o.counters,
		Produced: o.produced,
	}
	if o.disp != nil {
		s.Dispatched = o.disp.Frames()
		s.FPS = o.disp.FPS()
	}
	return s
}

func (o *Orchestrator) run(ctx context.Context, mode Mode, state config.MicroscopeState, saving config.Saving) {
	defer close(o.done)

	var sink WriteSink
	if mode != ModeLive && saving.RootDirectory != "" {
		ds := datasource.New(filepath.Join(saving.RootDirectory, saving.FileName))
		ds.SetMetadataFromConfiguration(o.cfg, state)
		sink = ds
	}
	disp := NewDispatcher(o.ring, sink, o.display, NewIdentityDecoder(state))
	o.mu.Lock()
	o.disp = disp
	o.mu.Unlock()
	disp.Start()

	if err := o.sweep(ctx, mode, state); err != nil {
		log.Printf("acquire: run %s aborted: %v", saving.RunID, err)
	}

	o.mu.Lock()
	o.state = Draining
	o.mu.Unlock()
	disp.Finish()
	if err := disp.Wait(); err != nil {
		log.Printf("acquire: run %s had write errors: %v", saving.RunID, err)
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Printf("acquire: run %s close failed: %v", saving.RunID, err)
		}
	}

	o.mu.Lock()
	o.state = Idle
	o.cancel = nil
	o.mu.Unlock()
}

// sweep drives the hardware for one command.  Bring-up failures are fatal
// to the run; once frames are flowing, a device error abandons the
// current channel and the sweep moves on.
func (o *Orchestrator) sweep(ctx context.Context, mode Mode, state config.MicroscopeState) error {
	if err := o.bringUp(state); err != nil {
		return err
	}
	defer o.tearDown()

	if mode == ModeLive {
		return o.sweepLive(ctx, state)
	}
	return o.sweepCounted(ctx, state)
}

// bringUp configures everything that holds for the whole run: shutter
// path, laser routing, zoom, and the armed camera.
func (o *Orchestrator) bringUp(state config.MicroscopeState) error {
	switch state.ResolutionMode {
	case config.ResolutionLow:
		if err := o.hw.Shutter.OpenLeft(); err != nil {
			return devices.Error{Device: "shutter", Op: "open-left", Err: err}
		}
		if err := o.hw.Lasers.EnableLowResolution(); err != nil {
			return devices.Error{Device: "lasers", Op: "enable-low", Err: err}
		}
	case config.ResolutionHigh:
		if err := o.hw.Shutter.OpenRight(); err != nil {
			return devices.Error{Device: "shutter", Op: "open-right", Err: err}
		}
		if err := o.hw.Lasers.EnableHighResolution(); err != nil {
			return devices.Error{Device: "lasers", Op: "enable-high", Err: err}
		}
	default:
		return fmt.Errorf("resolution mode %q has no shutter path", state.ResolutionMode)
	}
	if state.Zoom != "" {
		if err := o.hw.Zoom.SetZoom(state.Zoom); err != nil {
			return devices.Error{Device: "zoom", Op: "set-zoom", Err: err}
		}
	}
	o.hw.Camera.Initialize(o.ring)
	if err := o.hw.Camera.Arm(); err != nil {
		return devices.Error{Device: "camera", Op: "arm", Err: err}
	}
	return nil
}

func (o *Orchestrator) tearDown() {
	if err := o.hw.Camera.Disarm(); err != nil {
		log.Printf("acquire: camera disarm: %v", err)
	}
	if err := o.hw.Shutter.CloseAll(); err != nil {
		log.Printf("acquire: shutter close: %v", err)
	}
}

// sweepCounted walks every frame of the experiment in identity order
func (o *Orchestrator) sweepCounted(ctx context.Context, state config.MicroscopeState) error {
	dec := NewIdentityDecoder(state)
	channels := state.SelectedChannels()
	abandoned := map[int]bool{}
	lastChannel, lastPos := -1, -1

	for frame := 0; frame < dec.Total(); frame++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := dec.Decode(frame)

		if id.Position != lastPos && id.Position < len(state.StagePositions) {
			target := state.StagePositions[id.Position].Map()
			if err := o.hw.Stage.MoveAbsolute(target); err != nil {
				log.Printf("acquire: %v", devices.Error{Device: "stage", Op: "move", Err: err})
			}
			lastPos = id.Position
		}

		if abandoned[id.Channel] {
			continue
		}
		if id.Channel != lastChannel {
			if err := o.applyChannel(state, channels[id.Channel]); err != nil {
				log.Printf("acquire: abandoning channel %d: %v", channels[id.Channel].Index, err)
				abandoned[id.Channel] = true
				continue
			}
			lastChannel = id.Channel
		}
		if err := o.snap(); err != nil {
			log.Printf("acquire: abandoning channel %d: %v", channels[id.Channel].Index, err)
			abandoned[id.Channel] = true
			lastChannel = -1
			continue
		}
		o.mu.Lock()
		o.produced++
		o.mu.Unlock()
	}
	return nil
}

// sweepLive streams the first selected channel until cancelled, picking
// up setting updates at frame boundaries.
func (o *Orchestrator) sweepLive(ctx context.Context, state config.MicroscopeState) error {
	ch := state.SelectedChannels()[0]
	if err := o.applyChannel(state, ch); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if next := o.takePending(); next != nil {
			state = *next
			ch = state.SelectedChannels()[0]
			if err := o.applyChannel(state, ch); err != nil {
				return err
			}
		}
		if err := o.snap(); err != nil {
			return err
		}
		o.mu.Lock()
		o.produced++
		o.mu.Unlock()
	}
}

func (o *Orchestrator) takePending() *config.MicroscopeState {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.pending
	o.pending = nil
	return p
}

// applyChannel programs everything channel-specific: exposure, laser line
// and power, emission filter, and the staged waveform set.
func (o *Orchestrator) applyChannel(state config.MicroscopeState, ch config.ChannelSettings) error {
	exposure := time.Duration(ch.ExposureTimeMs * float64(time.Millisecond))
	if err := o.hw.Camera.SetExposureTime(exposure); err != nil {
		return devices.Error{Device: "camera", Op: "set-exposure", Err: err}
	}
	if err := o.hw.Lasers.TriggerDigital(ch.LaserIndex); err != nil {
		return devices.Error{Device: "lasers", Op: "trigger-digital", Err: err}
	}
	if err := o.hw.Lasers.SetAnalogPower(ch.LaserIndex, ch.LaserPower); err != nil {
		return devices.Error{Device: "lasers", Op: "set-power", Err: err}
	}
	if ch.Filter != "" {
		if err := o.hw.FilterWheel.SetFilter(ch.Filter); err != nil {
			return devices.Error{Device: "filter-wheel", Op: "set-filter", Err: err}
		}
	}
	set, err := o.seq.Compute(state, ch)
	if err != nil {
		return err
	}
	if err := o.hw.DAQ.Stage(set); err != nil {
		return devices.Error{Device: "daq", Op: "stage", Err: err}
	}
	return nil
}

// snap plays one staged waveform set through the prepare/run/stop guard
func (o *Orchestrator) snap() error {
	a, err := waveform.Begin(o.hw.DAQ)
	if err != nil {
		return devices.Error{Device: "daq", Op: "prepare", Err: err}
	}
	if err := a.Run(); err != nil {
		a.End()
		return devices.Error{Device: "daq", Op: "run", Err: err}
	}
	if err := a.End(); err != nil {
		return devices.Error{Device: "daq", Op: "stop", Err: err}
	}
	return nil
}
