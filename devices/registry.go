package devices

import (
	"fmt"
	"strings"

	"github.com/lightsheet/navigate/config"
)

// UnknownTypeError is generated when a configured device type tag has no
// registered factory.  It is fatal at startup; we do not silently default.
type UnknownTypeError struct {
	// Kind is the facade family, e.g. "camera"
	Kind string

	// Type is the unrecognized tag
	Type string
}

// Error satisfies the error interface
func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("no %s factory registered for type %q", e.Kind, e.Type)
}

// MissingDeviceError is generated when a non-synthetic configuration has
// no stanza for a device kind.  Like an unknown type tag, it is fatal at
// startup; a real rig with an unconfigured device gets an error, not a
// synthetic stand-in.
type MissingDeviceError struct {
	// Kind is the facade family with no stanza
	Kind string
}

// Error satisfies the error interface
func (e MissingDeviceError) Error() string {
	return fmt.Sprintf("no device stanza configured for %s", e.Kind)
}

// Factory builds one facade from its setup stanza.  The returned value
// must implement the facade interface for the kind it was registered under.
type Factory func(setup config.DeviceSetup, cfg config.Config) (interface{}, error)

// Registry maps (kind, type tag) to factories.  It is resolved once at
// startup; there is no per-call type dispatch.
type Registry struct {
	factories map[string]map[string]Factory
}

// NewRegistry returns a registry pre-loaded with the built-in device types
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]map[string]Factory{}}

	r.Register("camera", "synthetic", func(_ config.DeviceSetup, cfg config.Config) (interface{}, error) {
		return NewSyntheticCamera(cfg.Camera), nil
	})
	r.Register("stage", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticStage(), nil
	})
	r.Register("stage", "asi-tiger", func(setup config.DeviceSetup, _ config.Config) (interface{}, error) {
		return NewTigerStage(setup.Addr, setup.Serial), nil
	})
	r.Register("shutter", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticShutter(), nil
	})
	r.Register("filter-wheel", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticFilterWheel(), nil
	})
	r.Register("filter-wheel", "asi-wheel", func(setup config.DeviceSetup, _ config.Config) (interface{}, error) {
		return NewSerialFilterWheel(setup.Addr, setup.Serial, setup.Positions), nil
	})
	r.Register("lasers", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticLaserBank(), nil
	})
	r.Register("zoom", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticZoom(), nil
	})
	r.Register("zoom", "servo", func(setup config.DeviceSetup, _ config.Config) (interface{}, error) {
		return NewServoZoom(setup.Addr, setup.Serial, setup.Positions), nil
	})
	r.Register("daq", "synthetic", func(config.DeviceSetup, config.Config) (interface{}, error) {
		return NewSyntheticDAQ(), nil
	})
	return r
}

// Register adds a factory for a (kind, type tag) pair.  Tags are matched
// case insensitively.
func (r *Registry) Register(kind, typ string, f Factory) {
	kind = strings.ToLower(kind)
	if r.factories[kind] == nil {
		r.factories[kind] = map[string]Factory{}
	}
	r.factories[kind][strings.ToLower(typ)] = f
}

// build resolves and invokes the factory for one kind
func (r *Registry) build(kind string, cfg config.Config) (interface{}, error) {
	setup, ok := cfg.Devices[kind]
	if cfg.Synthetic {
		setup.Type = "synthetic"
	} else if !ok {
		return nil, MissingDeviceError{Kind: kind}
	}
	typ := strings.ToLower(setup.Type)
	f, ok := r.factories[strings.ToLower(kind)][typ]
	if !ok {
		return nil, UnknownTypeError{Kind: kind, Type: setup.Type}
	}
	return f(setup, cfg)
}
