package devices

import (
	"fmt"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/lightsheet/navigate/comm"
)

// ServoZoom is a zoom servo behind an ASCII motor controller, reached over
// TCP or RS232.  Zoom labels ("1x", "6x") map to servo counts via the
// table supplied at construction.  Commands are infrequent, so the
// connection is opened per call rather than pooled.
type ServoZoom struct {
	comm.RemoteDevice
	positions map[string]int
}

// NewServoZoom returns a zoom servo for the given address and
// label->count table
func NewServoZoom(addr string, connectSerial bool, positions map[string]int) *ServoZoom {
	rd := comm.NewRemoteDevice(addr, connectSerial)
	if connectSerial {
		rd.SerialCfg = &serial.Config{
			Name:        addr,
			Baud:        115200,
			ReadTimeout: 3 * time.Second}
	}
	return &ServoZoom{RemoteDevice: rd, positions: positions}
}

// SetZoom moves the servo to the labeled position
func (z *ServoZoom) SetZoom(label string) error {
	count, ok := z.positions[label]
	if !ok {
		return Error{Device: "zoom", Op: "set-zoom",
			Err: fmt.Errorf("zoom %q not in position table", label)}
	}
	err := z.Open()
	if err != nil {
		return Error{Device: "zoom", Op: "set-zoom", Err: err}
	}
	defer z.Close()
	resp, err := z.SendRecv([]byte(fmt.Sprintf("M %d", count)))
	if err != nil {
		return Error{Device: "zoom", Op: "set-zoom", Err: err}
	}
	if !strings.HasPrefix(string(resp), ":A") {
		return Error{Device: "zoom", Op: "set-zoom",
			Err: fmt.Errorf("controller replied %q", resp)}
	}
	return nil
}
