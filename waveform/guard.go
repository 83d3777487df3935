package waveform

import "errors"

var (
	// ErrNotPrepared is generated when Run is called on a finished or
	// never-begun acquisition
	ErrNotPrepared = errors.New("acquisition not prepared; use Begin")
)

// Runner is the slice of the DAQ facade the guard needs
type Runner interface {
	PrepareAcquisition() error
	RunAcquisition() error
	StopAcquisition() error
}

// guard states
const (
	guardPrepared = iota
	guardRunning
	guardDone
)

// Acquisition is a scoped guard enforcing the prepare, run, stop ordering
// on the DAQ for every snap.  Begin prepares; Run can only be reached
// through Begin; End always stops and is idempotent, so a deferred End
// makes skipping Stop impossible.
type Acquisition struct {
	r     Runner
	state int
}

// Begin prepares the DAQ and returns the guard.  On error the DAQ is left
// stopped and no guard is returned.
func Begin(r Runner) (*Acquisition, error) {
	if err := r.PrepareAcquisition(); err != nil {
		r.StopAcquisition()
		return nil, err
	}
	return &Acquisition{r: r, state: guardPrepared}, nil
}

// Run delivers the trigger and blocks until the sweep completes
func (a *Acquisition) Run() error {
	if a.state != guardPrepared {
		return ErrNotPrepared
	}
	a.state = guardRunning
	return a.r.RunAcquisition()
}

// End stops the DAQ tasks.  Safe to call more than once; only the first
// call reaches the hardware.
func (a *Acquisition) End() error {
	if a.state == guardDone {
		return nil
	}
	a.state = guardDone
	return a.r.StopAcquisition()
}
