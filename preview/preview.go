// Package preview contains the display sink: it keeps the most recent
// plane for the control surface and records rate-limited snapshots to
// disk with incrementing filenames in yyyy-mm-dd subfolders.
package preview

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/lightsheet/navigate/acquire"
)

// Recorder persists preview snapshots as FITS files.  Display may be
// called from the dispatcher goroutine; the disk write happens on the
// recorder's own goroutine so a slow disk never backs up into frame
// bookkeeping.
type Recorder struct {
	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled gates disk recording; the latest-plane snapshot is kept
	// either way
	Enabled bool

	width  int
	height int

	// counter is the internally incrementing counter
	counter int

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	mu       sync.Mutex
	latest   []uint16
	latestID acquire.Identity

	queue chan []uint16
	done  chan struct{}
}

// NewRecorder returns a recorder for planes of the given geometry and
// starts its saver goroutine
func NewRecorder(root, prefix string, width, height int) *Recorder {
	r := &Recorder{
		Root:    root,
		Prefix:  prefix,
		Enabled: root != "",
		width:   width,
		height:  height,
		queue:   make(chan []uint16, 4),
		done:    make(chan struct{}),
	}
	go r.saver()
	return r
}

// Display implements the dispatcher's display sink.  The plane is copied;
// the caller recycles its buffer after return.
func (r *Recorder) Display(id acquire.Identity, plane []uint16) {
	cp := make([]uint16, len(plane))
	copy(cp, plane)
	r.mu.Lock()
	r.latest = cp
	r.latestID = id
	r.mu.Unlock()
	if !r.Enabled {
		return
	}
	select {
	case r.queue <- cp:
	default:
		// saver is behind; skip this snapshot rather than stall
	}
}

// Latest returns the most recently displayed plane, or nil before the
// first frame
func (r *Recorder) Latest() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// LatestIdentity locates the plane Latest returns within the acquisition
func (r *Recorder) LatestIdentity() acquire.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestID
}

// Geometry returns the plane dimensions
func (r *Recorder) Geometry() (width, height int) {
	return r.width, r.height
}

// Close stops the saver goroutine after it finishes the queued snapshots
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}

func (r *Recorder) saver() {
	defer close(r.done)
	for plane := range r.queue {
		if err := r.writeSnapshot(plane); err != nil {
			log.Printf("preview: snapshot dropped: %v", err)
		}
	}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

func (r *Recorder) writeSnapshot(plane []uint16) error {
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return err
	}
	if r.counter == 0 {
		r.Incr()
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer fid.Close()
	if err := WriteFits(fid, r.width, r.height, plane); err != nil {
		return err
	}
	r.counter++
	return nil
}

// Incr updates the filename counter; it scans the folder to do so.  If
// there is an error, the counter is not changed.
func (r *Recorder) Incr() {
	dn, _ := r.mkDir()
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		bit = bit[:len(bit)-5] // pop .fits
		n, err := strconv.Atoi(bit)
		if err != nil {
			return
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// WriteFits streams one 16-bit plane to w as a FITS file
func WriteFits(w io.Writer, width, height int, plane []uint16) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
	)
	if err != nil {
		return err
	}
	ints := make([]int16, len(plane))
	for i, v := range plane {
		ints[i] = int16(v - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
