package devices

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/waveform"
)

func syntheticConfig() config.Config {
	return config.Config{
		Synthetic:    true,
		BufferFrames: 4,
		Camera:       config.CameraGeometry{Width: 8, Height: 8, BytesPerPixel: 2},
	}
}

func TestBuildSyntheticHardware(t *testing.T) {
	h, err := Build(NewRegistry(), syntheticConfig())
	if err != nil {
		t.Fatal(err)
	}
	if h.Camera == nil || h.DAQ == nil || h.Shutter == nil {
		t.Fatal("facades missing from built hardware")
	}
	if err := h.Connect(); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownTypeIsFatal(t *testing.T) {
	cfg := syntheticConfig()
	cfg.Synthetic = false
	cfg.Devices = map[string]config.DeviceSetup{
		"camera": {Type: "hamamatsu-orca"},
	}
	_, err := Build(NewRegistry(), cfg)
	var ute UnknownTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
	if ute.Type != "hamamatsu-orca" {
		t.Errorf("error does not name the offending tag: %v", ute)
	}
}

func TestMissingStanzaIsFatal(t *testing.T) {
	cfg := syntheticConfig()
	cfg.Synthetic = false
	cfg.Devices = map[string]config.DeviceSetup{
		"camera":       {Type: "synthetic"},
		"stage":        {Type: "synthetic"},
		"shutter":      {Type: "synthetic"},
		"filter-wheel": {Type: "synthetic"},
		"zoom":         {Type: "synthetic"},
		"daq":          {Type: "synthetic"},
	}
	_, err := Build(NewRegistry(), cfg)
	var mde MissingDeviceError
	if !errors.As(err, &mde) {
		t.Fatalf("expected MissingDeviceError, got %v", err)
	}
	if mde.Kind != "lasers" {
		t.Errorf("error does not name the missing kind: %v", mde)
	}
}

func TestSyntheticTriggerChain(t *testing.T) {
	h, err := Build(NewRegistry(), syntheticConfig())
	if err != nil {
		t.Fatal(err)
	}
	ring := buffer.New(4, 8, 8)
	h.Camera.Initialize(ring)
	if err := h.Camera.SetExposureTime(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := h.Camera.Arm(); err != nil {
		t.Fatal(err)
	}

	seq := waveform.NewSequencer(config.Waveforms{SampleRateHz: 100e3})
	set, err := seq.Compute(config.MicroscopeState{}, config.ChannelSettings{Index: 1, ExposureTimeMs: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.DAQ.Stage(set); err != nil {
		t.Fatal(err)
	}

	a, err := waveform.Begin(h.DAQ)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(); err != nil {
		t.Fatal(err)
	}
	if err := a.End(); err != nil {
		t.Fatal(err)
	}

	ids := ring.Poll()
	if len(ids) != 1 {
		t.Fatalf("expected exactly one published frame, got %d", len(ids))
	}
	ring.Release(ids[0])
}

func TestDAQRunWithoutPrepare(t *testing.T) {
	d := NewSyntheticDAQ()
	if err := d.RunAcquisition(); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("expected ErrNotPrepared, got %v", err)
	}
}

func TestDAQPrepareWithoutStage(t *testing.T) {
	d := NewSyntheticDAQ()
	if err := d.PrepareAcquisition(); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("expected ErrNothingStaged, got %v", err)
	}
}

// ackServer answers every line with the controller OK prefix
func ackServer(t *testing.T, addr string) {
	t.Helper()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 64)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
					if _, err := c.Write([]byte(":A\r")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
}

func TestServoZoomSetZoom(t *testing.T) {
	addr := "localhost:8772"
	ackServer(t, addr)
	z := NewServoZoom(addr, false, map[string]int{"1x": 100, "6x": 4200})
	if err := z.SetZoom("6x"); err != nil {
		t.Fatal(err)
	}
	if err := z.SetZoom("9x"); err == nil {
		t.Error("zoom label outside the position table accepted")
	}
}
