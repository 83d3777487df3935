package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validState() MicroscopeState {
	return MicroscopeState{
		ResolutionMode:   ResolutionLow,
		StackCyclingMode: PerStack,
		Channels: []ChannelSettings{
			{Index: 2, Selected: true, ExposureTimeMs: 10},
			{Index: 1, Selected: true, ExposureTimeMs: 5},
			{Index: 3, Selected: false},
		},
	}
}

func TestValidateAcceptsGoodState(t *testing.T) {
	if err := validState().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MicroscopeState)
	}{
		{"bad resolution", func(m *MicroscopeState) { m.ResolutionMode = "medium" }},
		{"bad cycling", func(m *MicroscopeState) { m.StackCyclingMode = "per_frame" }},
		{"nothing selected", func(m *MicroscopeState) {
			for i := range m.Channels {
				m.Channels[i].Selected = false
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validState()
			tc.mutate(&m)
			if err := m.Validate(); err == nil {
				t.Error("state accepted")
			}
		})
	}
}

func TestSelectedChannelsSortedAscending(t *testing.T) {
	chans := validState().SelectedChannels()
	if len(chans) != 2 {
		t.Fatalf("got %d channels, want 2", len(chans))
	}
	if chans[0].Index != 1 || chans[1].Index != 2 {
		t.Errorf("channels not in ascending index order: %v, %v", chans[0].Index, chans[1].Index)
	}
}

func TestStagePositionMap(t *testing.T) {
	m := StagePosition{X: 1, Y: 2, Z: 3, Theta: 4, Focus: 5}.Map()
	for axis, want := range map[string]float64{"x": 1, "y": 2, "z": 3, "theta": 4, "f": 5} {
		if m[axis] != want {
			t.Errorf("axis %s = %f, want %f", axis, m[axis], want)
		}
	}
}

func TestLoadYaml(t *testing.T) {
	doc := `
addr: ":9000"
synthetic: true
bufferFrames: 16
camera:
  width: 512
  height: 256
  bytesPerPixel: 2
devices:
  stage:
    type: asi-tiger
    addr: /dev/ttyS4
    serial: true
experiment:
  resolutionMode: high
  stackCyclingMode: per_z
  numberZSteps: 50
  channels:
    - index: 1
      selected: true
      exposureTimeMs: 20
      filter: GFP
  stagePositions:
    - {x: 10, y: 20, z: 30, theta: 0, f: 1.5}
`
	path := filepath.Join(t.TempDir(), "navigate.yml")
	if err := os.WriteFile(path, []byte(doc), 0666); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadYaml(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9000" || cfg.BufferFrames != 16 {
		t.Errorf("top level fields wrong: %+v", cfg)
	}
	if cfg.Camera.Width != 512 || cfg.Camera.Height != 256 {
		t.Errorf("camera geometry wrong: %+v", cfg.Camera)
	}
	if st := cfg.Devices["stage"]; st.Type != "asi-tiger" || !st.Serial {
		t.Errorf("stage setup wrong: %+v", st)
	}
	if cfg.Experiment.StackCyclingMode != PerZ {
		t.Errorf("cycling mode = %q", cfg.Experiment.StackCyclingMode)
	}
	if len(cfg.Experiment.StagePositions) != 1 || cfg.Experiment.StagePositions[0].Focus != 1.5 {
		t.Errorf("stage positions wrong: %+v", cfg.Experiment.StagePositions)
	}
	if _, err := LoadYaml(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file accepted")
	}
}
