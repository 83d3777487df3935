package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/lightsheet/navigate/config"
)

// Connection policy: hardware bring-up retries each device up to
// connectTries times with a fixed delay, and any device that still cannot
// connect aborts startup.  This is deliberately stricter than the in-sweep
// policy, where a failing command abandons one channel and the sweep
// continues; a microscope missing a device at boot is not worth operating.
const (
	connectTries = 10
	connectDelay = 500 * time.Millisecond
)

// Hardware is the full set of connected facades the orchestrator drives
type Hardware struct {
	Camera      Camera
	Stage       Stage
	Shutter     Shutter
	FilterWheel FilterWheel
	Lasers      LaserBank
	Zoom        Zoom
	DAQ         DAQ
}

// Build constructs every facade from the configuration via the registry.
// No connections are opened; call Connect next.
func Build(r *Registry, cfg config.Config) (*Hardware, error) {
	h := &Hardware{}
	kinds := []struct {
		kind   string
		assign func(interface{}) bool
	}{
		{"camera", func(v interface{}) bool { c, ok := v.(Camera); h.Camera = c; return ok }},
		{"stage", func(v interface{}) bool { s, ok := v.(Stage); h.Stage = s; return ok }},
		{"shutter", func(v interface{}) bool { s, ok := v.(Shutter); h.Shutter = s; return ok }},
		{"filter-wheel", func(v interface{}) bool { w, ok := v.(FilterWheel); h.FilterWheel = w; return ok }},
		{"lasers", func(v interface{}) bool { l, ok := v.(LaserBank); h.Lasers = l; return ok }},
		{"zoom", func(v interface{}) bool { z, ok := v.(Zoom); h.Zoom = z; return ok }},
		{"daq", func(v interface{}) bool { d, ok := v.(DAQ); h.DAQ = d; return ok }},
	}
	for _, k := range kinds {
		v, err := r.build(k.kind, cfg)
		if err != nil {
			return nil, err
		}
		if !k.assign(v) {
			return nil, fmt.Errorf("%s factory returned a %T, which does not satisfy the facade", k.kind, v)
		}
	}

	// the synthetic DAQ exposes the synthetic camera on trigger, the same
	// causal chain the real hardware has
	if d, ok := h.DAQ.(*SyntheticDAQ); ok {
		if p, ok := h.Camera.(FrameProducer); ok {
			d.SetProducer(p)
		}
	}
	return h, nil
}

// Connect brings up every connectable facade in parallel.  All goroutines
// are joined before return; the first failure (after retries are exhausted)
// is reported and must abort startup.
func (h *Hardware) Connect() error {
	type named struct {
		name string
		dev  interface{}
	}
	all := []named{
		{"camera", h.Camera},
		{"stage", h.Stage},
		{"shutter", h.Shutter},
		{"filter-wheel", h.FilterWheel},
		{"lasers", h.Lasers},
		{"zoom", h.Zoom},
		{"daq", h.DAQ},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(all))
	for _, n := range all {
		c, ok := n.dev.(Connectable)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, c Connectable) {
			defer wg.Done()
			policy := backoff.WithMaxRetries(
				backoff.NewConstantBackOff(connectDelay), connectTries-1)
			err := backoff.Retry(c.Connect, policy)
			if err != nil {
				errs <- fmt.Errorf("%s: connection failed after %d attempts: %w", name, connectTries, err)
			}
		}(n.name, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	return nil
}

// Disconnect tears down every connectable facade.  Errors are collected
// but teardown continues; the last error wins.
func (h *Hardware) Disconnect() error {
	var last error
	for _, dev := range []interface{}{h.Camera, h.Stage, h.Shutter, h.FilterWheel, h.Lasers, h.Zoom, h.DAQ} {
		if c, ok := dev.(Connectable); ok {
			if err := c.Disconnect(); err != nil {
				last = err
			}
		}
	}
	return last
}
