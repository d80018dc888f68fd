// Package serialport wraps go.bug.st/serial with the read-exact,
// write-all, and modem-control primitives both the ST bootloader driver and
// the application NOR protocol are built on.
package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Parity selects the wire parity. The app protocol uses ParityNone; the
// STM32 ROM bootloader uses ParityEven.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
)

func (p Parity) toLib() serial.Parity {
	if p == ParityEven {
		return serial.EvenParity
	}
	return serial.NoParity
}

// Config describes how to open a port. Baud and parity are fixed for the
// lifetime of the open port; switching protocols means closing and
// reopening with a different Config.
type Config struct {
	Name         string
	Baud         int
	Parity       Parity
	ByteTimeout  time.Duration
	WriteTimeout time.Duration
}

// PortOpenError wraps an OS failure to open a serial device.
type PortOpenError struct {
	Name string
	Err  error
}

func (e *PortOpenError) Error() string {
	return fmt.Sprintf("open port %s: %v", e.Name, e.Err)
}

func (e *PortOpenError) Unwrap() error { return e.Err }

// WriteError wraps an OS failure during WriteAll.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ErrTimeout is returned by ReadExact and frame SOF-sync when the deadline
// elapses before the requested bytes arrive.
var ErrTimeout = errors.New("serialport: timeout")

// ErrClosed is returned by any operation attempted on a closed port.
var ErrClosed = errors.New("serialport: port is closed")

const pollInterval = time.Millisecond

// rawPort is the subset of go.bug.st/serial's Port interface this package
// depends on. Narrowing it to an interface lets tests substitute an
// io.Pipe-backed fake instead of opening a real OS device.
type rawPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Port is an opened serial device. A Port is either open or closed; no
// operation is attempted on a closed port.
type Port struct {
	cfg Config

	mu      sync.Mutex
	raw     rawPort
	closed  bool
	pending []byte // bytes read ahead by BytesWaiting's probe, drained by ReadExact first
}

// Open opens name with the given configuration. On success DTR and RTS are
// deasserted and both buffers are flushed.
func Open(cfg Config) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   cfg.Parity.toLib(),
		StopBits: serial.OneStopBit,
	}

	raw, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, &PortOpenError{Name: cfg.Name, Err: err}
	}

	p := &Port{cfg: cfg, raw: raw}

	if err := raw.SetRTS(false); err != nil {
		raw.Close()
		return nil, &PortOpenError{Name: cfg.Name, Err: fmt.Errorf("deassert RTS: %w", err)}
	}
	if err := raw.SetDTR(false); err != nil {
		raw.Close()
		return nil, &PortOpenError{Name: cfg.Name, Err: fmt.Errorf("deassert DTR: %w", err)}
	}
	if err := raw.ResetInputBuffer(); err != nil {
		raw.Close()
		return nil, &PortOpenError{Name: cfg.Name, Err: fmt.Errorf("flush input: %w", err)}
	}
	if err := raw.ResetOutputBuffer(); err != nil {
		raw.Close()
		return nil, &PortOpenError{Name: cfg.Name, Err: fmt.Errorf("flush output: %w", err)}
	}

	return p, nil
}

// newWithRaw builds a Port around an already-constructed rawPort, skipping
// the OS-level open call. Used by tests to drive the package against a fake
// transport.
func newWithRaw(cfg Config, raw rawPort) *Port {
	return &Port{cfg: cfg, raw: raw}
}

// Close is idempotent; a second close is a no-op. Modem-control lines are
// deasserted before the underlying handle is released.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	_ = p.raw.SetRTS(false)
	_ = p.raw.SetDTR(false)
	return p.raw.Close()
}

// SetRTS toggles the RTS modem-control line, AC-coupled into NRST on the
// target hardware.
func (p *Port) SetRTS(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.raw.SetRTS(asserted)
}

// SetDTR toggles the DTR modem-control line.
func (p *Port) SetDTR(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.raw.SetDTR(asserted)
}

// ResetInputBuffer discards any pending OS-buffered input bytes, including
// anything cached by a prior BytesWaiting probe.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.pending = p.pending[:0]
	return p.raw.ResetInputBuffer()
}

// ResetOutputBuffer discards any pending OS-buffered output bytes.
func (p *Port) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.raw.ResetOutputBuffer()
}

// WriteAll writes every byte of b, looping until the OS has accepted all of
// them; fails with WriteError on OS failure. It does not flush: it returns
// without waiting for the OS output buffer to drain to the wire.
func (p *Port) WriteAll(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	for len(b) > 0 {
		n, err := p.raw.Write(b)
		if err != nil {
			return &WriteError{Err: err}
		}
		b = b[n:]
	}
	return nil
}

// ReadExact returns exactly n bytes or fails with ErrTimeout when the
// deadline elapses. Partial reads are accumulated; the poll loop sleeps
// briefly between zero-byte reads rather than busy-spinning.
func (p *Port) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	out := make([]byte, 0, n)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if len(p.pending) > 0 {
		take := len(p.pending)
		if take > n {
			take = n
		}
		out = append(out, p.pending[:take]...)
		p.pending = p.pending[take:]
	}
	p.mu.Unlock()

	buf := make([]byte, 64)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		readTimeout := remaining
		if readTimeout > 50*time.Millisecond {
			readTimeout = 50 * time.Millisecond
		}
		if err := p.raw.SetReadTimeout(readTimeout); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}

		want := n - len(out)
		if want > len(buf) {
			want = len(buf)
		}
		nr, err := p.raw.Read(buf[:want])
		p.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if nr == 0 {
			time.Sleep(pollInterval)
			continue
		}
		out = append(out, buf[:nr]...)
	}
	return out, nil
}

// BytesWaiting returns the number of bytes currently available to read
// without blocking. go.bug.st/serial has no cross-platform queue-depth
// query, so this performs a short non-blocking probe read and caches any
// bytes it captures for the next ReadExact call rather than discarding
// them.
func (p *Port) BytesWaiting() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	if err := p.raw.SetReadTimeout(0); err != nil {
		return 0, fmt.Errorf("set read timeout: %w", err)
	}
	buf := make([]byte, 256)
	n, err := p.raw.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("probe read: %w", err)
	}
	if n > 0 {
		p.pending = append(p.pending, buf[:n]...)
	}
	return len(p.pending), nil
}
