package datasource

import (
	"errors"
	"fmt"
	"log"

	"github.com/lightsheet/navigate/config"
)

// ErrClosed is generated when a plane is written to a finalized dataset
var ErrClosed = errors.New("datasource: dataset is closed")

type volKey struct{ c, t, p int }

// volume accumulates one (c, t, p) stack across every pyramid level until
// its final plane arrives, then is flushed to the container as a unit
type volume struct {
	planes int
	levels [][]uint16
}

// Dataset is one acquisition's on-disk pyramidal store.  Planes arrive in
// frame-counter order from the dispatcher; the dataset derives each
// plane's (c, z, t, p) placement from its own running counter, so the
// writer needs no per-frame addressing from callers.
type Dataset struct {
	Meta *PyramidMetadata

	container *n5Container
	frame     int
	closed    bool
	volumes   map[volKey]*volume
}

// New creates a dataset rooted at the given directory.  Nothing touches
// the filesystem until the first plane is written.
func New(root string) *Dataset {
	return &Dataset{
		Meta:      &PyramidMetadata{},
		container: newN5Container(root),
		volumes:   map[volKey]*volume{},
	}
}

// SetMetadataFromConfiguration resets the dataset geometry for a new run
func (d *Dataset) SetMetadataFromConfiguration(cfg config.Config, state config.MicroscopeState) {
	d.Meta.SetFromConfiguration(cfg, state)
}

// Write appends one level-0 plane.  The first plane of a run (all indices
// zero) initializes the container; the final plane closes the dataset.
func (d *Dataset) Write(plane []uint16) error {
	c, z, t, p := d.Meta.CZTP(d.frame)
	if c == 0 && z == 0 && t == 0 && p == 0 {
		if err := d.container.init(); err != nil {
			return err
		}
		d.closed = false
	}
	if d.closed {
		return ErrClosed
	}
	ys, xs := d.Meta.FullShape[1], d.Meta.FullShape[2]
	if len(plane) != ys*xs {
		return fmt.Errorf("plane has %d voxels, geometry wants %d", len(plane), ys*xs)
	}

	key := volKey{c, t, p}
	vol := d.volumes[key]
	if vol == nil {
		vol = &volume{levels: make([][]uint16, d.Meta.Levels())}
		shapes := d.Meta.Shapes()
		for l := range vol.levels {
			s := shapes[l]
			vol.levels[l] = make([]uint16, s[0]*s[1]*s[2])
		}
		d.volumes[key] = vol
	}

	res := d.Meta.Resolutions()
	shapes := d.Meta.Shapes()
	for l := range vol.levels {
		fx, fy, fz := res[l][0], res[l][1], res[l][2]
		if z%fz != 0 {
			continue
		}
		lz := z / fz
		s := shapes[l]
		if lz >= s[0] {
			continue
		}
		downsamplePlane(plane, xs, vol.levels[l][lz*s[1]*s[2]:(lz+1)*s[1]*s[2]], s[2], s[1], fx, fy)
	}
	vol.planes++
	if vol.planes == d.Meta.FullShape[0] {
		if err := d.flush(key, vol); err != nil {
			return err
		}
	}

	d.frame++
	if d.frame == d.Meta.TotalFrames() {
		return d.Close()
	}
	return nil
}

// downsamplePlane stride-samples a (ys, xs) plane into a (ly, lx) level
// plane
func downsamplePlane(src []uint16, xs int, dst []uint16, lx, ly, fx, fy int) {
	for y := 0; y < ly; y++ {
		srcRow := src[y*fy*xs:]
		dstRow := dst[y*lx : (y+1)*lx]
		for x := 0; x < lx; x++ {
			dstRow[x] = srcRow[x*fx]
		}
	}
}

func (d *Dataset) flush(key volKey, vol *volume) error {
	shapes := d.Meta.Shapes()
	subs := d.Meta.Subdivisions()
	res := d.Meta.Resolutions()
	for l, data := range vol.levels {
		err := d.container.writeVolume(key.c, key.t, key.p, l, shapes[l], subs[l], res[l], data)
		if err != nil {
			return err
		}
	}
	delete(d.volumes, key)
	return nil
}

// Frames reports how many planes have been written so far
func (d *Dataset) Frames() int { return d.frame }

// Closed reports whether the dataset has been finalized
func (d *Dataset) Closed() bool { return d.closed }

// Close flushes any partial stacks and finalizes the dataset.  Closing an
// already-closed or never-written dataset is a no-op.
func (d *Dataset) Close() error {
	if d.closed || d.frame == 0 {
		return nil
	}
	for key, vol := range d.volumes {
		log.Printf("datasource: flushing partial stack c=%d t=%d p=%d with %d/%d planes",
			key.c, key.t, key.p, vol.planes, d.Meta.FullShape[0])
		if err := d.flush(key, vol); err != nil {
			return err
		}
	}
	d.closed = true
	return nil
}

// Slice reads a slab back from disk.  Queries take one to seven
// components in (x, y, c, z, t, p, level) order; see the Sel grammar.
// Queries that pin c, t, and p each to a single At index return a
// three-axis (z, y, x) block; anything else returns a six-axis
// (p, t, z, c, y, x) block.
func (d *Dataset) Slice(sels ...Sel) (*Block, error) {
	q, err := normalize(sels)
	if err != nil {
		return nil, err
	}
	lvl, err := level(q[6], d.Meta.Levels())
	if err != nil {
		return nil, err
	}
	shape := d.Meta.Shapes()[lvl]

	x0, x1, err := span(q[0], shape[2], "x")
	if err != nil {
		return nil, err
	}
	y0, y1, err := span(q[1], shape[1], "y")
	if err != nil {
		return nil, err
	}
	z0, z1, err := span(q[3], shape[0], "z")
	if err != nil {
		return nil, err
	}
	cs, err := indices(q[2], d.Meta.Channels, "c")
	if err != nil {
		return nil, err
	}
	ts, err := indices(q[4], d.Meta.Timepoints, "t")
	if err != nil {
		return nil, err
	}
	ps, err := indices(q[5], d.Meta.Positions, "p")
	if err != nil {
		return nil, err
	}

	nx, ny, nz := x1-x0, y1-y0, z1-z0
	scalar := isAt(q[2]) && isAt(q[4]) && isAt(q[5])

	var b *Block
	if scalar {
		b = &Block{Shape: []int{nz, ny, nx}, Data: make([]uint16, nz*ny*nx)}
	} else {
		b = &Block{
			Shape: []int{len(ps), len(ts), nz, len(cs), ny, nx},
			Data:  make([]uint16, len(ps)*len(ts)*nz*len(cs)*ny*nx),
		}
	}

	for pi, p := range ps {
		for ti, t := range ts {
			for ci, c := range cs {
				vshape, vol, err := d.container.readVolume(c, t, p, lvl)
				if err != nil {
					return nil, err
				}
				if vshape != shape {
					return nil, fmt.Errorf("on-disk shape %v disagrees with metadata %v at level %d", vshape, shape, lvl)
				}
				for z := 0; z < nz; z++ {
					for y := 0; y < ny; y++ {
						src := vol[((z0+z)*shape[1]+(y0+y))*shape[2]+x0:]
						var dst []uint16
						if scalar {
							dst = b.Data[(z*ny+y)*nx:]
						} else {
							row := ((((pi*len(ts)+ti)*nz+z)*len(cs)+ci)*ny + y) * nx
							dst = b.Data[row:]
						}
						copy(dst[:nx], src[:nx])
					}
				}
			}
		}
	}
	return b, nil
}

func isAt(s Sel) bool {
	_, ok := s.(selAt)
	return ok
}
