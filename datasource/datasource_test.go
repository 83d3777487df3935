package datasource

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lightsheet/navigate/config"
)

func testConfig(width, height int, down bool) config.Config {
	return config.Config{
		Camera: config.CameraGeometry{Width: width, Height: height, BytesPerPixel: 2},
		DownSample: config.DownSample{Enabled: down, Lateral: 4, Axial: 2},
	}
}

func testState(channels, zSteps, timepoints, positions int, cycling string) config.MicroscopeState {
	chans := make([]config.ChannelSettings, channels)
	for i := range chans {
		chans[i] = config.ChannelSettings{Index: i + 1, Selected: true, ExposureTimeMs: 10}
	}
	pos := make([]config.StagePosition, positions)
	return config.MicroscopeState{
		ResolutionMode:   config.ResolutionLow,
		Channels:         chans,
		NumberZSteps:     zSteps,
		Timepoints:       timepoints,
		StagePositions:   pos,
		StackCyclingMode: cycling,
	}
}

func TestPyramidLevelZeroIsIdentity(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(64, 64, true), testState(1, 8, 1, 1, config.PerStack))
	res := m.Resolutions()
	if res[0] != [3]int{1, 1, 1} {
		t.Errorf("level 0 factors = %v, want (1, 1, 1)", res[0])
	}
	if m.Shapes()[0] != [3]int{8, 64, 64} {
		t.Errorf("level 0 shape = %v, want (8, 64, 64)", m.Shapes()[0])
	}
}

func TestPyramidShapesAndSubdivisions(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(100, 64, true), testState(1, 5, 1, 1, config.PerStack))
	// lateral cap 4, axial cap 2: levels (1,1,1), (2,2,2), (4,4,2)
	if m.Levels() != 3 {
		t.Fatalf("levels = %d, want 3", m.Levels())
	}
	if got := m.Resolutions()[2]; got != [3]int{4, 4, 2} {
		t.Errorf("level 2 factors = %v, want (4, 4, 2)", got)
	}
	// shape is ceil-divided and clamped to 1
	if got := m.Shapes()[2]; got != [3]int{3, 16, 25} {
		t.Errorf("level 2 shape = %v, want (3, 16, 25)", got)
	}
	// subdivisions are gcd(32, shape) per axis, reported XYZ
	if got := m.Subdivisions()[2]; got != [3]int{1, 16, 1} {
		t.Errorf("level 2 subdivisions = %v, want (1, 16, 1)", got)
	}
	if got := m.Subdivisions()[0]; got != [3]int{4, 32, 1} {
		t.Errorf("level 0 subdivisions = %v, want (4, 32, 1)", got)
	}
}

func TestPyramidShapeNeverZero(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(2, 2, true), testState(1, 1, 1, 1, config.PerStack))
	for l, s := range m.Shapes() {
		for ax, v := range s {
			if v < 1 {
				t.Errorf("level %d axis %d shape = %d", l, ax, v)
			}
		}
	}
}

func TestNBytesSpansAllDimensions(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(16, 16, false), testState(2, 4, 3, 2, config.PerStack))
	// one level: 4*16*16 voxels * 3t * 2c * 2p * 2 bytes
	want := int64(4*16*16) * 3 * 2 * 2 * 2
	if got := m.NBytes(); got != want {
		t.Errorf("NBytes = %d, want %d", got, want)
	}
}

func TestCZTPPerStack(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(8, 8, false), testState(3, 5, 2, 1, config.PerStack))
	// frame 0 is (c0, z0); frame 5 starts channel 1; frame 15 wraps to
	// (c0, z0) of the next timepoint
	cases := []struct{ frame, c, z, t, p int }{
		{0, 0, 0, 0, 0},
		{4, 0, 4, 0, 0},
		{5, 1, 0, 0, 0},
		{14, 2, 4, 0, 0},
		{15, 0, 0, 1, 0},
	}
	for _, tc := range cases {
		c, z, tt, p := m.CZTP(tc.frame)
		if c != tc.c || z != tc.z || tt != tc.t || p != tc.p {
			t.Errorf("CZTP(%d) = (%d,%d,%d,%d), want (%d,%d,%d,%d)",
				tc.frame, c, z, tt, p, tc.c, tc.z, tc.t, tc.p)
		}
	}
}

func TestCZTPPerZ(t *testing.T) {
	var m PyramidMetadata
	m.SetFromConfiguration(testConfig(8, 8, false), testState(2, 4, 1, 1, config.PerZ))
	cases := []struct{ frame, c, z int }{
		{0, 0, 0}, {1, 1, 0}, {2, 0, 1}, {3, 1, 1}, {7, 1, 3},
	}
	for _, tc := range cases {
		c, z, _, _ := m.CZTP(tc.frame)
		if c != tc.c || z != tc.z {
			t.Errorf("CZTP(%d) = (c%d, z%d), want (c%d, z%d)", tc.frame, c, z, tc.c, tc.z)
		}
	}
}

func TestSliceIndexCount(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "idx.n5"))
	ds.SetMetadataFromConfiguration(testConfig(4, 4, false), testState(1, 1, 1, 1, config.PerStack))
	var ice IndexCountError
	if _, err := ds.Slice(); !errors.As(err, &ice) {
		t.Errorf("zero components: got %v", err)
	}
	eight := []Sel{All, All, All, All, All, All, All, All}
	if _, err := ds.Slice(eight...); !errors.As(err, &ice) {
		t.Errorf("eight components: got %v", err)
	}
}

func writeRamp(t *testing.T, ds *Dataset) [][]uint16 {
	t.Helper()
	ys := ds.Meta.FullShape[1]
	xs := ds.Meta.FullShape[2]
	total := ds.Meta.TotalFrames()
	planes := make([][]uint16, total)
	for f := 0; f < total; f++ {
		plane := make([]uint16, ys*xs)
		for i := range plane {
			plane[i] = uint16(f*1000 + i)
		}
		planes[f] = plane
		if err := ds.Write(plane); err != nil {
			t.Fatalf("write frame %d: %v", f, err)
		}
	}
	return planes
}

func TestWriteClosesAtLastFrame(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "close.n5"))
	ds.SetMetadataFromConfiguration(testConfig(8, 8, false), testState(2, 3, 1, 1, config.PerStack))
	writeRamp(t, ds)
	if !ds.Closed() {
		t.Fatal("dataset not closed after final frame")
	}
	if err := ds.Write(make([]uint16, 64)); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: got %v, want ErrClosed", err)
	}
}

func TestCloseWithoutWritesIsNoOp(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "empty.n5"))
	ds.SetMetadataFromConfiguration(testConfig(8, 8, false), testState(1, 1, 1, 1, config.PerStack))
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
	if ds.Closed() {
		t.Error("zero-frame close should not mark the dataset closed")
	}
}

func TestRoundTripScalarSlice(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "rt.n5"))
	ds.SetMetadataFromConfiguration(testConfig(8, 6, false), testState(2, 3, 1, 1, config.PerStack))
	planes := writeRamp(t, ds)

	// channel 0 occupies frames 0..2 in per_stack mode
	b, err := ds.Slice(All, All, At(0), All, At(0), At(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Shape) != 3 || b.Shape[0] != 3 || b.Shape[1] != 6 || b.Shape[2] != 8 {
		t.Fatalf("shape = %v, want (3, 6, 8)", b.Shape)
	}
	for z := 0; z < 3; z++ {
		for y := 0; y < 6; y++ {
			for x := 0; x < 8; x++ {
				if got, want := b.At(z, y, x), planes[z][y*8+x]; got != want {
					t.Fatalf("voxel (%d,%d,%d) = %d, want %d", z, y, x, got, want)
				}
			}
		}
	}
}

func TestRoundTripMultiChannelSlice(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "multi.n5"))
	ds.SetMetadataFromConfiguration(testConfig(4, 4, false), testState(2, 2, 1, 1, config.PerStack))
	planes := writeRamp(t, ds)

	b, err := ds.Slice(All, All, All, All, All, All)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 1, 2, 2, 4, 4} // (p, t, z, c, y, x)
	for i, w := range want {
		if b.Shape[i] != w {
			t.Fatalf("shape = %v, want %v", b.Shape, want)
		}
	}
	// channel 1 z-plane 1 was written as frame 3 in per_stack mode
	if got, want := b.At(0, 0, 1, 1, 2, 3), planes[3][2*4+3]; got != want {
		t.Errorf("voxel = %d, want %d", got, want)
	}
}

func TestSliceRestExpands(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "rest.n5"))
	ds.SetMetadataFromConfiguration(testConfig(4, 4, false), testState(1, 2, 1, 1, config.PerStack))
	writeRamp(t, ds)

	full, err := ds.Slice(All, All, All, All, All, All)
	if err != nil {
		t.Fatal(err)
	}
	short, err := ds.Slice(All, Rest)
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Data) != len(short.Data) {
		t.Fatalf("Rest query returned %d voxels, full query %d", len(short.Data), len(full.Data))
	}
	for i := range full.Data {
		if full.Data[i] != short.Data[i] {
			t.Fatal("Rest query disagrees with explicit full query")
		}
	}
}

func TestMetadataIsXYZPayloadIsZYX(t *testing.T) {
	root := filepath.Join(t.TempDir(), "axes.n5")
	ds := New(root)
	// deliberately anisotropic so axis order mistakes cannot cancel out
	ds.SetMetadataFromConfiguration(testConfig(8, 4, false), testState(1, 2, 1, 1, config.PerStack))
	writeRamp(t, ds)

	var attrs datasetAttributes
	err := readJSON(filepath.Join(root, "pos0", "setup0", "timepoint0", "s0", "attributes.json"), &attrs)
	if err != nil {
		t.Fatal(err)
	}
	// file metadata is XYZ
	if attrs.Dimensions[0] != 8 || attrs.Dimensions[1] != 4 || attrs.Dimensions[2] != 2 {
		t.Errorf("dimensions = %v, want [8 4 2]", attrs.Dimensions)
	}
	// in-memory shape is ZYX
	if ds.Meta.Shapes()[0] != [3]int{2, 4, 8} {
		t.Errorf("shape = %v, want (2, 4, 8)", ds.Meta.Shapes()[0])
	}
}

func TestDownsampledLevelsWritten(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "pyr.n5"))
	ds.SetMetadataFromConfiguration(testConfig(16, 16, true), testState(1, 4, 1, 1, config.PerStack))
	writeRamp(t, ds)

	if ds.Meta.Levels() != 3 {
		t.Fatalf("levels = %d, want 3", ds.Meta.Levels())
	}
	b, err := ds.Slice(All, All, At(0), All, At(0), At(0), At(2))
	if err != nil {
		t.Fatal(err)
	}
	// level 2 factors (4, 4, 2) over a (4, 16, 16) stack
	if b.Shape[0] != 2 || b.Shape[1] != 4 || b.Shape[2] != 4 {
		t.Fatalf("level 2 shape = %v, want (2, 4, 4)", b.Shape)
	}
	// stride sampling: level voxel (0, 1, 2) is full-res voxel (0, 4, 8)
	full, err := ds.Slice(All, All, At(0), All, At(0), At(0))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.At(0, 1, 2), full.At(0, 4, 8); got != want {
		t.Errorf("downsampled voxel = %d, want %d", got, want)
	}
}
