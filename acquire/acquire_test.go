package acquire

import (
	"sync"
	"testing"
	"time"

	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/devices"
)

func testState(channels, zSteps, timepoints, positions int, cycling string) config.MicroscopeState {
	chans := make([]config.ChannelSettings, channels)
	for i := range chans {
		chans[i] = config.ChannelSettings{
			Index: i + 1, Selected: true, ExposureTimeMs: 1, LaserIndex: i}
	}
	pos := make([]config.StagePosition, positions)
	for i := range pos {
		pos[i] = config.StagePosition{X: float64(i) * 100}
	}
	return config.MicroscopeState{
		ResolutionMode:   config.ResolutionLow,
		Channels:         chans,
		NumberZSteps:     zSteps,
		Timepoints:       timepoints,
		StagePositions:   pos,
		StackCyclingMode: cycling,
	}
}

func TestPrepareAcquisitionList(t *testing.T) {
	c := PrepareAcquisitionList(testState(3, 5, 2, 4, config.PerStack))
	if c.Acquisitions != 3*4*2 {
		t.Errorf("Acquisitions = %d, want 24", c.Acquisitions)
	}
	if c.Images != 3*4*2*5 {
		t.Errorf("Images = %d, want 120", c.Images)
	}
}

func TestPrepareAcquisitionListClampsEmpty(t *testing.T) {
	c := PrepareAcquisitionList(testState(1, 0, 0, 0, config.PerStack))
	if c.Acquisitions != 1 || c.Images != 1 {
		t.Errorf("empty snapshot = %+v, want one acquisition of one image", c)
	}
}

func TestIdentityPerStack(t *testing.T) {
	d := NewIdentityDecoder(testState(3, 5, 2, 1, config.PerStack))
	cases := []struct {
		frame   int
		channel int
		slice   int
	}{
		{0, 0, 0},
		{4, 0, 4},
		{5, 1, 0},
		{12, 2, 2},
		// one full timepoint is 15 frames; the counter wraps back to
		// channel 0, slice 0
		{15, 0, 0},
	}
	for _, tc := range cases {
		id := d.Decode(tc.frame)
		if id.Channel != tc.channel || id.Slice != tc.slice {
			t.Errorf("Decode(%d) = (ch%d, z%d), want (ch%d, z%d)",
				tc.frame, id.Channel, id.Slice, tc.channel, tc.slice)
		}
	}
	if id := d.Decode(15); id.Timepoint != 1 {
		t.Errorf("Decode(15).Timepoint = %d, want 1", id.Timepoint)
	}
}

func TestIdentityPerZ(t *testing.T) {
	d := NewIdentityDecoder(testState(2, 4, 1, 1, config.PerZ))
	cases := []struct {
		frame   int
		channel int
		slice   int
	}{
		{0, 0, 0}, {1, 1, 0}, {2, 0, 1}, {3, 1, 1}, {6, 0, 3}, {7, 1, 3},
	}
	for _, tc := range cases {
		id := d.Decode(tc.frame)
		if id.Channel != tc.channel || id.Slice != tc.slice {
			t.Errorf("Decode(%d) = (ch%d, z%d), want (ch%d, z%d)",
				tc.frame, id.Channel, id.Slice, tc.channel, tc.slice)
		}
	}
}

func TestIdentityManyChannels(t *testing.T) {
	// channel derivation is modular over the configured count; seven
	// channels is as valid as two
	d := NewIdentityDecoder(testState(7, 2, 1, 1, config.PerZ))
	if id := d.Decode(6); id.Channel != 6 {
		t.Errorf("channel = %d, want 6", id.Channel)
	}
	if id := d.Decode(7); id.Channel != 0 || id.Slice != 1 {
		t.Errorf("Decode(7) = %+v, want channel 0 slice 1", id)
	}
}

// captureSink records dispatched planes for assertions
type captureSink struct {
	mu     sync.Mutex
	planes int
	closed bool
}

func (c *captureSink) Write(plane []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planes++
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.planes
}

// captureDisplay records every displayed plane's identity alongside its
// first pixel
type captureDisplay struct {
	mu  sync.Mutex
	ids []Identity
	pix []uint16
}

func (c *captureDisplay) Display(id Identity, plane []uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	c.pix = append(c.pix, plane[0])
}

func TestDispatcherDrainsExactly(t *testing.T) {
	ring := buffer.New(4, 8, 8)
	sink := &captureSink{}
	d := NewDispatcher(ring, sink, nil, NewIdentityDecoder(testState(1, 1, 1, 1, config.PerStack)))
	d.Start()

	const frames = 10
	for i := 0; i < frames; i++ {
		slot, plane, err := ring.AcquireWrite()
		for err != nil {
			time.Sleep(time.Millisecond)
			slot, plane, err = ring.AcquireWrite()
		}
		plane[0] = uint16(i)
		ring.Publish(slot)
	}
	d.Finish()
	if err := d.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := sink.count(); got != frames {
		t.Errorf("dispatched %d planes, want %d", got, frames)
	}
	if d.Frames() != frames {
		t.Errorf("Frames() = %d, want %d", d.Frames(), frames)
	}
}

func TestDispatcherForwardsIdentity(t *testing.T) {
	state := testState(2, 2, 1, 1, config.PerZ)
	dec := NewIdentityDecoder(state)
	ring := buffer.New(4, 8, 8)
	display := &captureDisplay{}
	d := NewDispatcher(ring, nil, display, dec)
	d.Start()

	// the display sink is rate limited, so not every frame arrives; each
	// plane carries its frame counter so whichever do can be checked
	// against the decoder
	for i := 0; i < 4; i++ {
		slot, plane, err := ring.AcquireWrite()
		if err != nil {
			t.Fatal(err)
		}
		plane[0] = uint16(i)
		ring.Publish(slot)
	}
	d.Finish()
	if err := d.Wait(); err != nil {
		t.Fatal(err)
	}

	display.mu.Lock()
	defer display.mu.Unlock()
	if len(display.ids) == 0 {
		t.Fatal("no plane reached the display sink")
	}
	for i, id := range display.ids {
		if want := dec.Decode(int(display.pix[i])); id != want {
			t.Errorf("frame %d displayed with identity %+v, want %+v", display.pix[i], id, want)
		}
	}
}

func newTestRig(t *testing.T, bufferFrames int) (*Orchestrator, config.Config) {
	t.Helper()
	cfg := config.Config{
		Synthetic:    true,
		BufferFrames: bufferFrames,
		Camera:       config.CameraGeometry{Width: 8, Height: 8, BytesPerPixel: 2},
		Waveforms:    config.Waveforms{SampleRateHz: 100e3},
	}
	hw, err := devices.Build(devices.NewRegistry(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ring := buffer.New(cfg.BufferFrames, cfg.Camera.Width, cfg.Camera.Height)
	return New(cfg, hw, ring), cfg
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for o.Status().State != Idle {
		if time.Now().After(deadline) {
			t.Fatalf("orchestrator stuck in state %s", o.Status().State)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSingleAcquisitionProducesFullStack(t *testing.T) {
	o, _ := newTestRig(t, 8)
	state := testState(2, 3, 1, 1, config.PerStack)
	saving := config.Saving{RootDirectory: t.TempDir(), FileName: "stack.n5"}

	runID, err := o.Run(ModeSingle, state, saving)
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("empty run ID")
	}
	waitIdle(t, o)

	s := o.Status()
	if want := 2 * 3; s.Produced != want {
		t.Errorf("produced %d frames, want %d", s.Produced, want)
	}
	if s.Dispatched != s.Produced {
		t.Errorf("dispatched %d frames, produced %d", s.Dispatched, s.Produced)
	}
}

func TestRunWhileBusyIsRejected(t *testing.T) {
	o, _ := newTestRig(t, 8)
	state := testState(1, 1, 1, 1, config.PerStack)
	if _, err := o.Run(ModeLive, state, config.Saving{}); err != nil {
		t.Fatal(err)
	}
	defer o.Stop()
	if _, err := o.Run(ModeSingle, state, config.Saving{}); err != ErrBusy {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestRunRejectsInvalidState(t *testing.T) {
	o, _ := newTestRig(t, 8)
	bad := testState(1, 1, 1, 1, config.PerStack)
	bad.ResolutionMode = "medium"
	if _, err := o.Run(ModeSingle, bad, config.Saving{}); err == nil {
		t.Error("invalid resolution mode accepted")
	}
	if _, err := o.Run(Mode("burst"), testState(1, 1, 1, 1, config.PerStack), config.Saving{}); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestLiveStopQuiesces(t *testing.T) {
	o, _ := newTestRig(t, 8)
	state := testState(1, 1, 1, 1, config.PerStack)
	if _, err := o.Run(ModeLive, state, config.Saving{}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	o.Stop()

	s := o.Status()
	if s.State != Idle {
		t.Fatalf("state after stop = %s, want idle", s.State)
	}
	if s.Produced == 0 {
		t.Error("live run produced no frames before stop")
	}
	// no frame may arrive after stop has returned
	before := o.Status().Dispatched
	time.Sleep(20 * time.Millisecond)
	if after := o.Status().Dispatched; after != before {
		t.Errorf("%d frames dispatched after stop returned", after-before)
	}
}

func TestUpdateSettingWhileIdleIsHeld(t *testing.T) {
	o, _ := newTestRig(t, 8)
	next := testState(2, 2, 1, 1, config.PerStack)
	if err := o.UpdateSetting(next); err != nil {
		t.Fatal(err)
	}
	stored, ok := o.StoredState()
	if !ok {
		t.Fatal("snapshot stored while idle was not held")
	}
	if len(stored.Channels) != 2 || stored.NumberZSteps != 2 {
		t.Errorf("stored snapshot = %+v, want the updated geometry", stored)
	}

	if _, err := o.Run(ModeSingle, stored, config.Saving{}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, o)
	if s := o.Status(); s.Produced != 4 {
		t.Errorf("produced %d frames from the stored snapshot, want 4", s.Produced)
	}
	if _, ok := o.StoredState(); ok {
		t.Error("snapshot survived the run that consumed it")
	}
}

func TestUpdateSettingDuringLive(t *testing.T) {
	o, _ := newTestRig(t, 8)
	state := testState(1, 1, 1, 1, config.PerStack)
	if _, err := o.Run(ModeLive, state, config.Saving{}); err != nil {
		t.Fatal(err)
	}
	next := testState(1, 1, 1, 1, config.PerStack)
	next.Channels[0].ExposureTimeMs = 2
	if err := o.UpdateSetting(next); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	o.Stop()
	if s := o.Status(); s.Produced == 0 {
		t.Error("live run stalled after setting update")
	}
}
