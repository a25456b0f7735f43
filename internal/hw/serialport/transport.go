// Package serialport owns the physical link to the arm controller board.
//
// A Transport is line oriented: commands are written as raw bytes and
// replies are consumed one newline-terminated line at a time. Two
// implementations exist: Port (a real OS serial handle via go.bug.st/serial)
// and MockTransport (a simulated board used for development and tests).
package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by ReadLine when no complete line arrived in time.
	ErrTimeout = errors.New("read line timeout")
	// ErrClosed is returned when the transport is not open.
	ErrClosed = errors.New("transport closed")
	// ErrAddressInUse is returned by Open when another live handle holds the address.
	ErrAddressInUse = errors.New("address already in use")
)

// IOError wraps a failed read or write on an open transport.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Transport is the capability the device session needs from the link.
type Transport interface {
	// Open acquires the address. Only one live handle per address is allowed.
	Open(address string, baud int) error
	// Close releases the handle. Safe to call more than once.
	Close() error
	// Write sends bytes and flushes them to the device.
	Write(p []byte) error
	// ReadLine returns the next line without its terminator, or ErrTimeout.
	// A timeout <= 0 only returns a line that is already complete.
	ReadLine(timeout time.Duration) (string, error)
	// BytesAvailable reports how many received bytes have not been consumed.
	BytesAvailable() int
}

// New returns the transport implementation selected by configuration.
func New(mock bool) Transport {
	if mock {
		return NewMockTransport()
	}
	return NewPort()
}

// registry tracks which addresses currently have a live handle in this process.
var registry struct {
	sync.Mutex
	held map[string]struct{}
}

func claim(address string) error {
	registry.Lock()
	defer registry.Unlock()
	if registry.held == nil {
		registry.held = make(map[string]struct{})
	}
	if _, ok := registry.held[address]; ok {
		return fmt.Errorf("%s: %w", address, ErrAddressInUse)
	}
	registry.held[address] = struct{}{}
	return nil
}

func release(address string) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.held, address)
}

// InUse reports whether a live handle currently holds address.
func InUse(address string) bool {
	registry.Lock()
	defer registry.Unlock()
	_, ok := registry.held[address]
	return ok
}
