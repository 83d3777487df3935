package acquire

import (
	"log"
	"sync"
	"time"

	"github.com/brandondube/ringo"
	"golang.org/x/time/rate"

	"github.com/lightsheet/navigate/buffer"
)

// pollInterval bounds the dispatcher's sleep when the ring is empty; it
// caps shutdown latency, not throughput, since Poll drains in batches
const pollInterval = 500 * time.Microsecond

// intervalHistory is the number of inter-frame intervals kept for the
// frame rate estimate
const intervalHistory = 64

// displayHz caps how often planes are forwarded to the display sink
const displayHz = 15

// WriteSink receives every dispatched plane, in frame order.  The
// dataset writer is the only production implementation.
type WriteSink interface {
	Write(plane []uint16) error
	Close() error
}

// DisplaySink receives a rate-limited subset of planes for preview,
// each tagged with its decoded identity.  Implementations must copy what
// they keep; the plane is recycled after the call returns.
type DisplaySink interface {
	Display(id Identity, plane []uint16)
}

// Dispatcher drains the frame ring on its own goroutine.  Each polled
// slot is offered to the display sink (best effort, rate limited) and
// handed to the writer worker, which owns the slot until the plane is
// persisted and then releases it.  Without a write sink the dispatcher
// releases slots itself.
type Dispatcher struct {
	ring    *buffer.Ring
	write   WriteSink
	display DisplaySink
	dec     IdentityDecoder
	limiter *rate.Limiter

	mu        sync.Mutex
	intervals ringo.CircleF64
	last      time.Time
	frames    int
	err       error

	finish     chan struct{}
	done       chan struct{}
	slots      chan int
	writerDone chan struct{}
	finishOnce sync.Once
}

// NewDispatcher builds a dispatcher over the shared ring.  Either sink
// may be nil.  The decoder maps the running frame counter to the
// channel/slice/timepoint identity forwarded with every displayed plane.
func NewDispatcher(ring *buffer.Ring, write WriteSink, display DisplaySink, dec IdentityDecoder) *Dispatcher {
	if dec.Channels < 1 {
		dec = IdentityDecoder{Channels: 1, Slices: 1, Timepoints: 1, Positions: 1}
	}
	d := &Dispatcher{
		ring:       ring,
		write:      write,
		display:    display,
		dec:        dec,
		limiter:    rate.NewLimiter(displayHz, 1),
		finish:     make(chan struct{}),
		done:       make(chan struct{}),
		slots:      make(chan int, ring.Frames()),
		writerDone: make(chan struct{}),
	}
	d.intervals.Init(intervalHistory)
	return d
}

// Start launches the poll loop and the writer worker
func (d *Dispatcher) Start() {
	go d.writer()
	go d.loop()
}

// Finish tells the dispatcher the producer has stopped.  The dispatcher
// drains every already-published slot and then exits; Finish may be
// called more than once.
func (d *Dispatcher) Finish() {
	d.finishOnce.Do(func() { close(d.finish) })
}

// Wait blocks until the dispatcher has fully drained and returns the
// first write error, if any.
func (d *Dispatcher) Wait() error {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Frames reports how many planes have been dispatched so far
func (d *Dispatcher) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// FPS estimates the recent frame rate from the inter-frame interval
// history.  It returns 0 before the second frame.
func (d *Dispatcher) FPS() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ivals := d.intervals.Contiguous()
	var sum float64
	n := 0
	for _, v := range ivals {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 || sum == 0 {
		return 0
	}
	return float64(n) / sum
}

func (d *Dispatcher) loop() {
	finished := false
	for {
		slots := d.ring.Poll()
		for _, slot := range slots {
			d.handle(slot)
		}
		if !finished {
			select {
			case <-d.finish:
				finished = true
			default:
			}
		}
		if finished && len(slots) == 0 && d.ring.Pending() == 0 {
			break
		}
		if len(slots) == 0 {
			time.Sleep(pollInterval)
		}
	}
	close(d.slots)
	<-d.writerDone
	close(d.done)
}

func (d *Dispatcher) handle(slot int) {
	now := time.Now()
	d.mu.Lock()
	if !d.last.IsZero() {
		d.intervals.Append(now.Sub(d.last).Seconds())
	}
	d.last = now
	frame := d.frames
	d.frames++
	d.mu.Unlock()

	if d.display != nil && d.limiter.Allow() {
		d.display.Display(d.dec.Decode(frame), d.ring.Plane(slot))
	}
	if d.write == nil {
		d.ring.Release(slot)
		return
	}
	d.slots <- slot
}

// writer persists planes off the poll loop so a slow disk stalls the
// writer queue, not frame bookkeeping.  Slots are released here, after
// every consumer is done with the plane.
func (d *Dispatcher) writer() {
	defer close(d.writerDone)
	for slot := range d.slots {
		err := d.write.Write(d.ring.Plane(slot))
		if err != nil {
			log.Printf("acquire: dropping plane, write failed: %v", err)
			d.mu.Lock()
			if d.err == nil {
				d.err = err
			}
			d.mu.Unlock()
		}
		d.ring.Release(slot)
	}
}
