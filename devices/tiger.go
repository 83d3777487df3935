package devices

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/lightsheet/navigate/comm"
)

// The ASI Tiger-family controllers speak a terse ASCII dialect over RS232
// or a serial-to-ethernet bridge.  "M X=1000 Y=2000" moves axes to absolute
// targets in tenths of microns, "W X Y" reads positions back, and replies
// open with ":A" on success or ":N" with an error code.  This wrapper keeps
// only the handful of verbs the acquisition engine needs.

const (
	tigerOK = ":A"
)

// TigerStage is a multi-axis stage behind an ASI Tiger controller.  One
// connection lives in a size-one pool; the sweep loop is the sole issuer
// of commands, so the pool never contends.
type TigerStage struct {
	pool *comm.Pool
}

// NewTigerStage returns a stage for the given address.  connectSerial
// selects RS232 (true) or a TCP bridge (false).
func NewTigerStage(addr string, connectSerial bool) *TigerStage {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(&serial.Config{
			Name:        addr,
			Baud:        115200,
			ReadTimeout: 3 * time.Second})
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return &TigerStage{pool: comm.NewPool(1, 30*time.Second, maker)}
}

// Connect eagerly opens the connection so bring-up failures surface at
// startup instead of first move
func (s *TigerStage) Connect() error {
	conn, err := s.pool.Get()
	if err != nil {
		return Error{Device: "stage", Op: "connect", Err: err}
	}
	s.pool.Put(conn)
	return nil
}

// Disconnect is a no-op; the pool reclaims the idle connection itself
func (s *TigerStage) Disconnect() error { return nil }

// MoveAbsolute commands the given axes to absolute targets
func (s *TigerStage) MoveAbsolute(targets map[string]float64) error {
	// deterministic axis order keeps the wire traffic reproducible
	axes := make([]string, 0, len(targets))
	for axis := range targets {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	sb := strings.Builder{}
	sb.WriteString("M")
	for _, axis := range axes {
		fmt.Fprintf(&sb, " %s=%.1f", strings.ToUpper(axis), targets[axis])
	}
	resp, err := s.writeRead(sb.String())
	if err != nil {
		return Error{Device: "stage", Op: "move-absolute", Err: err}
	}
	if !strings.HasPrefix(resp, tigerOK) {
		return Error{Device: "stage", Op: "move-absolute",
			Err: fmt.Errorf("controller replied %q", resp)}
	}
	return nil
}

// GetPosition reports the current position of every axis
func (s *TigerStage) GetPosition() (map[string]float64, error) {
	axes := []string{"X", "Y", "Z", "THETA", "F"}
	resp, err := s.writeRead("W " + strings.Join(axes, " "))
	if err != nil {
		return nil, Error{Device: "stage", Op: "get-position", Err: err}
	}
	resp = strings.TrimPrefix(resp, tigerOK)
	fields := strings.Fields(resp)
	if len(fields) < len(axes) {
		return nil, Error{Device: "stage", Op: "get-position",
			Err: fmt.Errorf("short reply %q", resp)}
	}
	out := make(map[string]float64, len(axes))
	for i, axis := range axes {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, Error{Device: "stage", Op: "get-position", Err: err}
		}
		out[strings.ToLower(axis)] = v
	}
	return out, nil
}

func (s *TigerStage) writeRead(msg string) (string, error) {
	conn, err := s.pool.Get()
	if err != nil {
		return "", err
	}
	_, err = io.WriteString(conn, msg+"\r")
	if err != nil {
		s.pool.Destroy(conn)
		return "", err
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	s.pool.ReturnWithError(conn, err)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf[:n]), "\r\n"), nil
}

// SerialFilterWheel is an emission filter wheel on the same controller
// family.  Filter names map to wheel positions via the table supplied at
// construction.
type SerialFilterWheel struct {
	pool      *comm.Pool
	positions map[string]int
}

// NewSerialFilterWheel returns a wheel for the given address and
// name->position table
func NewSerialFilterWheel(addr string, connectSerial bool, positions map[string]int) *SerialFilterWheel {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(&serial.Config{
			Name:        addr,
			Baud:        115200,
			ReadTimeout: 3 * time.Second})
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return &SerialFilterWheel{
		pool:      comm.NewPool(1, 30*time.Second, maker),
		positions: positions}
}

// Connect eagerly opens the connection
func (w *SerialFilterWheel) Connect() error {
	conn, err := w.pool.Get()
	if err != nil {
		return Error{Device: "filter-wheel", Op: "connect", Err: err}
	}
	w.pool.Put(conn)
	return nil
}

// Disconnect is a no-op; the pool reclaims the idle connection itself
func (w *SerialFilterWheel) Disconnect() error { return nil }

// SetFilter rotates to the named position
func (w *SerialFilterWheel) SetFilter(name string) error {
	pos, ok := w.positions[name]
	if !ok {
		return Error{Device: "filter-wheel", Op: "set-filter",
			Err: fmt.Errorf("filter %q not in position table", name)}
	}
	conn, err := w.pool.Get()
	if err != nil {
		return Error{Device: "filter-wheel", Op: "set-filter", Err: err}
	}
	_, err = io.WriteString(conn, fmt.Sprintf("MP %d\r", pos))
	if err != nil {
		w.pool.Destroy(conn)
		return Error{Device: "filter-wheel", Op: "set-filter", Err: err}
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	w.pool.ReturnWithError(conn, err)
	if err != nil {
		return Error{Device: "filter-wheel", Op: "set-filter", Err: err}
	}
	resp := strings.TrimRight(string(buf[:n]), "\r\n")
	if !strings.HasPrefix(resp, tigerOK) {
		return Error{Device: "filter-wheel", Op: "set-filter",
			Err: fmt.Errorf("controller replied %q", resp)}
	}
	return nil
}
