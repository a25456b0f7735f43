package serialport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"go.bug.st/serial"
)

// readTimeout bounds each OS read so the reader goroutine notices Close.
const readTimeout = 100 * time.Millisecond

type line struct {
	text string
	size int // bytes consumed from the wire, terminator included
}

// Port is the real implementation backed by go.bug.st/serial.
// A reader goroutine splits incoming bytes into lines; BytesAvailable
// counts bytes received but not yet returned by ReadLine.
type Port struct {
	mu      sync.Mutex
	address string
	port    serial.Port
	lines   chan line
	stop    chan struct{}
	dead    chan struct{}
	readErr error
	closing bool

	pending atomic.Int64
}

// NewPort creates an unopened serial port.
func NewPort() *Port {
	return &Port{}
}

// Open opens the OS serial device at 8N1 with the given baud rate.
func (p *Port) Open(address string, baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port != nil {
		return fmt.Errorf("port already open on %s", p.address)
	}
	if err := claim(address); err != nil {
		return err
	}

	sp, err := serial.Open(address, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		release(address)
		return fmt.Errorf("open %s: %w", address, describeOpenError(err))
	}
	if err := sp.SetReadTimeout(readTimeout); err != nil {
		_ = sp.Close()
		release(address)
		return fmt.Errorf("set read timeout on %s: %w", address, err)
	}

	debug.Trace("serial %s opened at %d baud", address, baud)
	p.attachLocked(address, sp)
	return nil
}

// attachLocked adopts an open handle and starts its reader.
func (p *Port) attachLocked(address string, sp serial.Port) {
	p.address = address
	p.port = sp
	p.lines = make(chan line, 64)
	p.stop = make(chan struct{})
	p.dead = make(chan struct{})
	p.readErr = nil
	p.pending.Store(0)

	go p.readLoop(sp, p.lines, p.stop, p.dead)
}

func (p *Port) readLoop(sp serial.Port, lines chan<- line, stop <-chan struct{}, dead chan<- struct{}) {
	defer close(dead)

	buf := make([]byte, 128)
	var pendingLine []byte
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := sp.Read(buf)
		if err != nil {
			select {
			case <-stop:
			default:
				p.mu.Lock()
				p.readErr = err
				p.mu.Unlock()
				debug.Error(fmt.Errorf("serial read: %w", err))
			}
			return
		}
		// n == 0 is a read timeout: loop and check stop.
		for _, b := range buf[:n] {
			p.pending.Add(1)
			if b != '\n' {
				pendingLine = append(pendingLine, b)
				continue
			}
			l := line{
				text: strings.TrimRight(string(pendingLine), "\r"),
				size: len(pendingLine) + 1,
			}
			pendingLine = pendingLine[:0]
			debug.Trace("serial rx %q", l.text)
			select {
			case lines <- l:
			case <-stop:
				return
			}
		}
	}
}

// Close stops the reader and releases the OS handle and the address.
// It returns once the reader goroutine has exited.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.port == nil || p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	close(p.stop)
	sp, dead := p.port, p.dead
	p.mu.Unlock()

	err := sp.Close()
	// readLoop takes p.mu on its error path, so wait unlocked.
	<-dead

	p.mu.Lock()
	defer p.mu.Unlock()
	release(p.address)
	debug.Trace("serial %s closed", p.address)
	p.port = nil
	p.lines = nil
	p.closing = false
	p.pending.Store(0)
	return err
}

// Write sends p and waits until the OS has transmitted it.
func (p *Port) Write(b []byte) error {
	p.mu.Lock()
	sp, readErr := p.port, p.readErr
	p.mu.Unlock()

	if sp == nil {
		return &IOError{Op: "write", Err: ErrClosed}
	}
	if readErr != nil {
		return &IOError{Op: "write", Err: readErr}
	}
	if _, err := sp.Write(b); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	if err := sp.Drain(); err != nil {
		return &IOError{Op: "flush", Err: err}
	}
	return nil
}

// ReadLine returns the next complete line received from the device.
func (p *Port) ReadLine(timeout time.Duration) (string, error) {
	p.mu.Lock()
	lines, dead := p.lines, p.dead
	p.mu.Unlock()

	if lines == nil {
		return "", &IOError{Op: "read", Err: ErrClosed}
	}

	if timeout <= 0 {
		select {
		case l := <-lines:
			return p.consume(l), nil
		case <-dead:
			return p.drainDead(lines)
		default:
			return "", ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l := <-lines:
		return p.consume(l), nil
	case <-timer.C:
		return "", ErrTimeout
	case <-dead:
		return p.drainDead(lines)
	}
}

// drainDead hands out lines the stopped reader already delivered, then its error.
func (p *Port) drainDead(lines <-chan line) (string, error) {
	select {
	case l := <-lines:
		return p.consume(l), nil
	default:
	}
	p.mu.Lock()
	err := p.readErr
	p.mu.Unlock()
	if err == nil {
		err = ErrClosed
	}
	return "", &IOError{Op: "read", Err: err}
}

func (p *Port) consume(l line) string {
	p.pending.Add(-int64(l.size))
	return l.text
}

// BytesAvailable reports received bytes not yet consumed by ReadLine.
func (p *Port) BytesAvailable() int {
	return int(p.pending.Load())
}

// describeOpenError turns go.bug.st/serial error codes into readable causes.
func describeOpenError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("device not found (is the board plugged in?): %w", err)
	case serial.PortBusy:
		return fmt.Errorf("device busy (another program holds it): %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied (is the user in the dialout group?): %w", err)
	case serial.InvalidSpeed:
		return fmt.Errorf("unsupported baud rate: %w", err)
	default:
		return err
	}
}

// ListPorts returns the serial devices currently present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
