package serialport

import (
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/debug"
)

// DefaultReadyLine is what the firmware prints once it has booted.
const DefaultReadyLine = "Sistema iniciado... DONE"

// MockTransport simulates the controller board. It queues a ready line on
// Open and answers every written command through Reply. Used for
// development on a PC or testing.
type MockTransport struct {
	// Ready is queued when the transport opens. Empty means the board stays silent.
	Ready string
	// Reply returns the lines the board answers to a command (terminator stripped).
	// Nil or an empty result means no answer.
	Reply func(command string) []string
	// WriteErr, when set, makes every Write fail with an IOError wrapping it.
	WriteErr error

	mu      sync.Mutex
	address string
	open    bool
	queue   []string
	written []string
	notify  chan struct{}
}

// NewMockTransport returns a board that boots immediately and confirms every command.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Ready: DefaultReadyLine,
		Reply: func(string) []string { return []string{"DONE"} },
	}
}

func (m *MockTransport) Open(address string, baud int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}
	if err := claim(address); err != nil {
		return err
	}
	debug.Info("Using MOCK serial device on %s (%d baud)", address, baud)
	m.address = address
	m.open = true
	m.queue = nil
	if m.notify == nil {
		m.notify = make(chan struct{}, 1)
	}
	if m.Ready != "" {
		m.pushLocked(m.Ready)
	}
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	release(m.address)
	m.open = false
	m.queue = nil
	debug.Trace("mock serial %s closed", m.address)
	return nil
}

func (m *MockTransport) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return &IOError{Op: "write", Err: ErrClosed}
	}
	if m.WriteErr != nil {
		return &IOError{Op: "write", Err: m.WriteErr}
	}
	for _, cmd := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		cmd = strings.TrimRight(cmd, "\r")
		m.written = append(m.written, cmd)
		if m.Reply == nil {
			continue
		}
		for _, l := range m.Reply(cmd) {
			m.pushLocked(l)
		}
	}
	return nil
}

func (m *MockTransport) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if !m.open {
			m.mu.Unlock()
			return "", &IOError{Op: "read", Err: ErrClosed}
		}
		if len(m.queue) > 0 {
			l := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return l, nil
		}
		notify := m.notify
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *MockTransport) BytesAvailable() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.queue {
		n += len(l) + 1
	}
	return n
}

// Inject queues a line as if the board had sent it.
func (m *MockTransport) Inject(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushLocked(line)
}

// Written returns every command line written so far.
func (m *MockTransport) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	copy(out, m.written)
	return out
}

func (m *MockTransport) pushLocked(line string) {
	m.queue = append(m.queue, line)
	if m.notify == nil {
		m.notify = make(chan struct{}, 1)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
