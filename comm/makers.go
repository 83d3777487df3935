package comm

import (
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// backoffRetry runs op under the same exponential backoff policy
// RemoteDevice.Open uses
func backoffRetry(op func() error) error {
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr over TCP
// with deadlines, retrying with exponential backoff the way RemoteDevice
// does.  Use it to feed a Pool for a networked peripheral.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoffRetry(op)
		return conn, err
	}
}

// SerialConnMaker returns a CreationFunc that opens the given serial port.
// The config's ReadTimeout bounds reads so a wedged device cannot stall the
// sweep loop silently.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// ReturnWithError puts the connection back in the pool if err is nil, or
// destroys it otherwise.  Junk connections must not be reused.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err == nil {
		p.Put(rw)
	} else {
		p.Destroy(rw)
	}
}
