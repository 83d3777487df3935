// Package buffer provides the fixed-size ring of pre-allocated image planes
// shared between the camera driver and downstream consumers.
//
// Slots move through an explicit ownership protocol:
//
//	AcquireWrite -> (camera fills plane) -> Publish -> Poll -> (consume) -> Release
//
// A slot acquired for write is invisible to Poll until published, and a
// published slot is not recycled until every consumer is done and calls
// Release.  Producer/consumer races are therefore prevented structurally:
// the slot index lives in exactly one queue (free or ready) or in the hands
// of exactly one owner at any time.
package buffer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFreeSlot is generated when the producer outruns all consumers and
// every slot is filled or in flight
var ErrNoFreeSlot = errors.New("no free slot: consumers have not drained the ring")

// slot lifecycle states
const (
	slotFree = iota
	slotWriting
	slotReady
	slotReading
)

// Ring is a fixed-size collection of pre-allocated 16-bit image planes.
// It must be created with New.  All methods are safe for concurrent use by
// one producer and one consumer.
type Ring struct {
	mu     sync.Mutex
	planes [][]uint16
	state  []int
	free   chan int
	ready  chan int
	width  int
	height int
}

// New allocates a ring of n width x height planes
func New(n, width, height int) *Ring {
	r := &Ring{
		planes: make([][]uint16, n),
		state:  make([]int, n),
		free:   make(chan int, n),
		ready:  make(chan int, n),
		width:  width,
		height: height,
	}
	for i := 0; i < n; i++ {
		r.planes[i] = make([]uint16, width*height)
		r.free <- i
	}
	return r
}

// Frames returns the number of slots in the ring
func (r *Ring) Frames() int { return len(r.planes) }

// Width returns the plane width in pixels
func (r *Ring) Width() int { return r.width }

// Height returns the plane height in pixels
func (r *Ring) Height() int { return r.height }

// Plane returns the backing storage for a slot.  The caller must own the
// slot through AcquireWrite or Poll for the access to be safe.
func (r *Ring) Plane(slot int) []uint16 { return r.planes[slot] }

// AcquireWrite takes a free slot for the producer to fill.  It does not
// block: if all slots are filled or in flight, ErrNoFreeSlot is returned
// and the producer should treat the frame as dropped.
func (r *Ring) AcquireWrite() (int, []uint16, error) {
	select {
	case slot := <-r.free:
		r.setState(slot, slotWriting)
		return slot, r.planes[slot], nil
	default:
		return -1, nil, ErrNoFreeSlot
	}
}

// Publish marks a slot as filled, transferring ownership from the producer
// to the consumers.  Publishing a slot that was not acquired for write is a
// protocol violation and panics; it indicates a bug, not a runtime fault.
func (r *Ring) Publish(slot int) {
	r.mustTransition(slot, slotWriting, slotReady)
	r.ready <- slot
}

// Poll drains all currently published slots without blocking.  It returns
// an empty slice when the camera has nothing ready.  Ownership of the
// returned slots transfers to the caller; each must be returned with
// Release once every consumer is done with it.
func (r *Ring) Poll() []int {
	var out []int
	for {
		select {
		case slot := <-r.ready:
			r.mustTransition(slot, slotReady, slotReading)
			out = append(out, slot)
		default:
			return out
		}
	}
}

// Release recycles a consumed slot, making it available to the producer
// again.
func (r *Ring) Release(slot int) {
	r.mustTransition(slot, slotReading, slotFree)
	r.free <- slot
}

// Pending returns the number of published, unconsumed slots
func (r *Ring) Pending() int {
	return len(r.ready)
}

func (r *Ring) setState(slot, to int) {
	r.mu.Lock()
	r.state[slot] = to
	r.mu.Unlock()
}

func (r *Ring) mustTransition(slot, from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state[slot] != from {
		panic(fmt.Sprintf("buffer: slot %d state %d, expected %d", slot, r.state[slot], from))
	}
	r.state[slot] = to
}
