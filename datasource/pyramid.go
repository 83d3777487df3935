// Package datasource persists acquired volumes as multi-resolution,
// chunked on-disk datasets following the BigDataViewer N5 convention.
//
// Axis order is a compatibility contract, not an implementation detail:
// resolution factors and block sizes are recorded XYZ in file metadata,
// while image payload is stored ZYX-major per level.  Violating either
// order produces files that standard viewers cannot open.
package datasource

import (
	"math"

	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/mathx"
)

// blockEdge is the target chunk edge; actual subdivisions are
// gcd(blockEdge, shape) per axis so chunks always tile the level exactly
const blockEdge = 32

// PyramidMetadata holds the resolution/subdivision bookkeeping for one
// dataset.  Derived quantities (shapes, subdivisions) are computed lazily
// on first access and cached; replacing the metadata through
// SetFromConfiguration invalidates the cache, so a stale-cache bug cannot
// survive a reconfiguration.
type PyramidMetadata struct {
	// FullShape is the level-0 volume shape in (z, y, x) order
	FullShape [3]int

	// Channels, Timepoints, Positions span the non-spatial dimensions
	Channels   int
	Timepoints int
	Positions  int

	// BytesPerPixel is 2 for the 16-bit planes the engine acquires
	BytesPerPixel int

	// PerStack selects the stack cycling mode used to decode frame
	// counters into (c, z, t, p) indices
	PerStack bool

	resolutions  [][3]int // XYZ per BDV spec
	shapes       [][3]int // ZYX
	subdivisions [][3]int // XYZ per BDV spec
}

// SetFromConfiguration resets the metadata from the experiment snapshot
// and the configured downsampling caps, invalidating every cached derived
// quantity.
func (m *PyramidMetadata) SetFromConfiguration(cfg config.Config, state config.MicroscopeState) {
	m.shapes = nil
	m.subdivisions = nil
	m.resolutions = nil

	m.FullShape = [3]int{
		mathx.Max(1, state.NumberZSteps),
		cfg.Camera.Height,
		cfg.Camera.Width,
	}
	m.Channels = mathx.Max(1, len(state.SelectedChannels()))
	m.Timepoints = mathx.Max(1, state.Timepoints)
	m.Positions = mathx.Max(1, len(state.StagePositions))
	m.BytesPerPixel = cfg.Camera.BytesPerPixel
	if m.BytesPerPixel == 0 {
		m.BytesPerPixel = 2
	}
	m.PerStack = state.StackCyclingMode != config.PerZ

	if cfg.DownSample.Enabled {
		xy := powersOfTwoUpTo(cfg.DownSample.Lateral)
		z := powersOfTwoUpTo(cfg.DownSample.Axial)
		// pad the shorter axis family by repeating its last value so
		// both reach the same pyramid depth
		for len(xy) < len(z) {
			xy = append(xy, xy[len(xy)-1])
		}
		for len(z) < len(xy) {
			z = append(z, z[len(z)-1])
		}
		m.resolutions = make([][3]int, len(xy))
		for i := range xy {
			m.resolutions[i] = [3]int{xy[i], xy[i], z[i]}
		}
	}
}

// powersOfTwoUpTo returns 1, 2, 4 ... max for a power-of-two max; for
// max < 2 it returns just [1]
func powersOfTwoUpTo(max int) []int {
	out := []int{1}
	if max < 2 {
		return out
	}
	levels := int(math.Log2(float64(max)))
	for i := 1; i <= levels; i++ {
		out = append(out, 1<<i)
	}
	return out
}

// Resolutions returns the per-level (x, y, z) downsample factors.  Level 0
// is always (1, 1, 1).
func (m *PyramidMetadata) Resolutions() [][3]int {
	if m.resolutions == nil {
		m.resolutions = [][3]int{{1, 1, 1}}
	}
	return m.resolutions
}

// Levels returns the pyramid depth
func (m *PyramidMetadata) Levels() int {
	return len(m.Resolutions())
}

// Shapes returns the per-level volume shapes in (z, y, x) order:
// max(1, ceil(full/factor)) per axis.
func (m *PyramidMetadata) Shapes() [][3]int {
	if m.shapes == nil {
		res := m.Resolutions()
		m.shapes = make([][3]int, len(res))
		for i, r := range res {
			// r is XYZ; FullShape is ZYX
			m.shapes[i] = [3]int{
				mathx.Max(1, mathx.CeilDiv(m.FullShape[0], r[2])),
				mathx.Max(1, mathx.CeilDiv(m.FullShape[1], r[1])),
				mathx.Max(1, mathx.CeilDiv(m.FullShape[2], r[0])),
			}
		}
	}
	return m.shapes
}

// Subdivisions returns the per-level chunk sizes in (x, y, z) order:
// max(1, gcd(32, shape)) per axis.
func (m *PyramidMetadata) Subdivisions() [][3]int {
	if m.subdivisions == nil {
		shapes := m.Shapes()
		m.subdivisions = make([][3]int, len(shapes))
		for i, s := range shapes {
			// s is ZYX; report XYZ
			m.subdivisions[i] = [3]int{
				mathx.Max(1, mathx.GCD(blockEdge, s[2])),
				mathx.Max(1, mathx.GCD(blockEdge, s[1])),
				mathx.Max(1, mathx.GCD(blockEdge, s[0])),
			}
		}
	}
	return m.subdivisions
}

// NBytes returns the total dataset payload size across every level,
// timepoint, channel, and position.
func (m *PyramidMetadata) NBytes() int64 {
	var total int64
	for _, s := range m.Shapes() {
		voxels := int64(s[0]) * int64(s[1]) * int64(s[2])
		total += voxels * int64(m.Timepoints) * int64(m.Channels) *
			int64(m.Positions) * int64(m.BytesPerPixel)
	}
	return total
}

// TotalFrames is the number of level-0 planes one full acquisition writes
func (m *PyramidMetadata) TotalFrames() int {
	return m.FullShape[0] * m.Channels * m.Timepoints * m.Positions
}

// CZTP decodes a running frame counter into (c, z, t, p) indices under
// the configured cycling mode.  per_stack assigns a contiguous run of
// z-planes to each channel; per_z cycles channels at every plane.  The
// channel derivation is modular over the configured channel count; there
// is no fixed channel cap.
func (m *PyramidMetadata) CZTP(frame int) (c, z, t, p int) {
	zs, cs := m.FullShape[0], m.Channels
	if m.PerStack {
		c = (frame / zs) % cs
		z = frame % zs
	} else {
		c = frame % cs
		z = (frame / cs) % zs
	}
	t = (frame / (cs * zs)) % m.Timepoints
	p = frame / (cs * zs * m.Timepoints)
	return c, z, t, p
}
