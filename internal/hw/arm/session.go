// Package arm drives the SCARA controller board over a serial Transport.
//
// A Session enforces the board's handshake: one command line is written,
// then nothing else is sent until the board answers DONE or ERROR, or the
// confirmation window expires. The last confirmed position is cached so
// partial commands (gripper only, home) can be completed from it.
package arm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/serialport"
)

// Markers searched for (as substrings) in lines from the board.
const (
	markerDone  = "DONE"
	markerError = "ERROR"
	markerBoot  = "iniciado"
)

// Config holds the link address and handshake timings of a session.
type Config struct {
	Address        string
	BaudRate       int
	ConfirmTimeout time.Duration // wait for DONE/ERROR after a command
	PollInterval   time.Duration // confirmation polling interval
	ReadyTimeout   time.Duration // wait for the boot message after open
	ReadyPoll      time.Duration // boot message polling interval
	Settle         time.Duration // board reset time after open
	DefaultSpeed   int           // speed used by Home and the initial position
}

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = 100 * time.Millisecond
	}
	if c.DefaultSpeed <= 0 {
		c.DefaultSpeed = 500
	}
	c.DefaultSpeed = ClampSpeed(c.DefaultSpeed)
	return c
}

// Status is a snapshot of the session state.
type Status struct {
	Connected            bool     `json:"connected"`
	ReadyConfirmed       bool     `json:"ready_confirmed"`
	Busy                 bool     `json:"busy"`
	AwaitingConfirmation bool     `json:"awaiting_confirmation"`
	LastPosition         Position `json:"last_position"`
	GripperState         string   `json:"gripper_state"`
}

// Observer is notified after every session state transition.
// Calls happen outside the session lock and must not block for long.
type Observer interface {
	StatusChanged(Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Status)

// StatusChanged implements Observer.
func (f ObserverFunc) StatusChanged(st Status) {
	f(st)
}

// Session is the protocol state machine for one board.
type Session struct {
	cfg       Config
	transport serialport.Transport

	mu             sync.Mutex
	connecting     bool
	connected      bool
	readyConfirmed bool
	busy           bool
	awaiting       bool
	last           Position
	observers      []Observer
}

// NewSession creates a disconnected session over t.
func NewSession(t serialport.Transport, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		transport: t,
		last:      Position{Speed: cfg.DefaultSpeed},
	}
}

// Address returns the serial address of the board.
func (s *Session) Address() string {
	return s.cfg.Address
}

// AddObserver registers o for status notifications.
func (s *Session) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Connect opens the link, waits for the board to reset and listens for its
// boot message. The session counts as connected as soon as the port opens;
// a missing boot message only leaves ReadyConfirmed false.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return &ConnectionError{Address: s.cfg.Address, Err: errors.New("connect already in progress")}
	}
	if s.busy || s.awaiting {
		// a send from before Close is still waiting on the old link
		s.mu.Unlock()
		return &ConnectionError{Address: s.cfg.Address, Err: ErrBusy}
	}
	s.connecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	debug.Info("Connecting to %s at %d baud", s.cfg.Address, s.cfg.BaudRate)
	if debug.IsEnabled(debug.LevelVerbose) {
		debug.PrintStruct("Session config", s.cfg)
	}
	if err := s.transport.Open(s.cfg.Address, s.cfg.BaudRate); err != nil {
		return &ConnectionError{Address: s.cfg.Address, Err: err}
	}

	if s.cfg.Settle > 0 {
		debug.Verbose("Waiting %v for the board to reset", s.cfg.Settle)
		if err := sleep(ctx, s.cfg.Settle); err != nil {
			_ = s.transport.Close()
			return &ConnectionError{Address: s.cfg.Address, Err: err}
		}
	}

	ready, err := s.waitForReady(ctx)
	if err != nil {
		_ = s.transport.Close()
		return &ConnectionError{Address: s.cfg.Address, Err: err}
	}

	s.mu.Lock()
	s.connected = true
	s.readyConfirmed = ready
	s.mu.Unlock()

	if ready {
		debug.Info("Connected to %s", s.cfg.Address)
	} else {
		debug.Warn("Connected to %s but no boot message within %v; device state unconfirmed", s.cfg.Address, s.cfg.ReadyTimeout)
	}
	s.notify()
	return nil
}

// waitForReady polls for a line containing the boot or DONE marker.
// Only a context cancellation or a broken link is an error.
func (s *Session) waitForReady(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		line, err := s.transport.ReadLine(min(s.cfg.ReadyPoll, remaining))
		switch {
		case err == nil:
			debug.Reply(line)
			if strings.Contains(line, markerDone) || strings.Contains(line, markerBoot) {
				return true, nil
			}
		case errors.Is(err, serialport.ErrTimeout):
		default:
			return false, err
		}
	}
}

// SendPosition clamps the pose, writes it and blocks until the board
// confirms, reports an error, or the confirmation window expires.
// ctx is only checked before the write: once a command is on the wire the
// wait runs to completion so busy never clears ahead of the board.
// The cached position changes only on confirmed success.
func (s *Session) SendPosition(ctx context.Context, arm1, arm2, base float64, gripperClosed bool, speed int) error {
	return s.Send(ctx, Position{Arm1: arm1, Arm2: arm2, Base: base, GripperClosed: gripperClosed, Speed: speed})
}

// Send is SendPosition taking a Position value.
func (s *Session) Send(ctx context.Context, p Position) error {
	if !p.Finite() {
		return &ValidationError{Field: "position", Reason: "axis values must be finite numbers"}
	}
	p = p.Clamped()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.busy || s.awaiting {
		s.mu.Unlock()
		debug.Warn("%v: %s", ErrBusy, p)
		return ErrBusy
	}
	if !s.connected {
		s.mu.Unlock()
		return &ConnectionError{Address: s.cfg.Address, Err: ErrNotConnected}
	}
	s.busy = true
	s.mu.Unlock()
	s.notify()

	err := s.exchange(p)

	s.mu.Lock()
	s.busy = false
	s.awaiting = false
	if err == nil {
		s.last = p
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		s.connected = false
		s.readyConfirmed = false
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		debug.Error(fmt.Errorf("command %s: %w", p, err))
		return err
	}
	debug.Live("Move complete: arm1=%g arm2=%g base=%gcm gripper=%s speed=%d",
		p.Arm1, p.Arm2, p.Base, p.GripperText(), p.Speed)
	return nil
}

func (s *Session) exchange(p Position) error {
	s.discardStale()

	line := p.Encode()
	debug.Command(strings.TrimSuffix(line, "\n"))
	if err := s.transport.Write([]byte(line)); err != nil {
		return &ConnectionError{Address: s.cfg.Address, Err: err}
	}

	s.mu.Lock()
	s.awaiting = true
	s.mu.Unlock()
	s.notify()

	return s.waitForConfirmation()
}

// discardStale drops complete lines left over from an earlier command
// (e.g. a DONE that arrived after its timeout) so they cannot confirm this one.
func (s *Session) discardStale() {
	for s.transport.BytesAvailable() > 0 {
		line, err := s.transport.ReadLine(0)
		if err != nil {
			return
		}
		debug.Verbose("Discarding stale line %q", line)
	}
}

// waitForConfirmation reads lines until DONE, ERROR, a read failure or
// the confirmation window. ReadLine is called even with nothing pending so
// a dead link surfaces at once instead of as a timeout.
func (s *Session) waitForConfirmation() error {
	deadline := time.Now().Add(s.cfg.ConfirmTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w (%v)", ErrConfirmationTimeout, s.cfg.ConfirmTimeout)
		}
		line, err := s.transport.ReadLine(min(s.cfg.PollInterval, remaining))
		switch {
		case err == nil:
			debug.Reply(line)
			if strings.Contains(line, markerDone) {
				return nil
			}
			if strings.Contains(line, markerError) {
				return &DeviceError{Line: line}
			}
		case errors.Is(err, serialport.ErrTimeout):
			// nothing complete yet
		default:
			return &ConnectionError{Address: s.cfg.Address, Err: err}
		}
	}
}

// OpenGripper opens the gripper, keeping the other axes at the cached position.
func (s *Session) OpenGripper(ctx context.Context) error {
	p := s.LastPosition()
	p.GripperClosed = false
	return s.Send(ctx, p)
}

// CloseGripper closes the gripper, keeping the other axes at the cached position.
func (s *Session) CloseGripper(ctx context.Context) error {
	p := s.LastPosition()
	p.GripperClosed = true
	return s.Send(ctx, p)
}

// ToggleGripper inverts the cached gripper state.
func (s *Session) ToggleGripper(ctx context.Context) error {
	p := s.LastPosition()
	p.GripperClosed = !p.GripperClosed
	return s.Send(ctx, p)
}

// Home sends the arm to 0,0,0 with the gripper open.
func (s *Session) Home(ctx context.Context) error {
	return s.Send(ctx, Position{Speed: s.cfg.DefaultSpeed})
}

// LastPosition returns the last confirmed position.
func (s *Session) LastPosition() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Status returns a snapshot of the session. No I/O.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Connected:            s.connected,
		ReadyConfirmed:       s.readyConfirmed,
		Busy:                 s.busy || s.awaiting,
		AwaitingConfirmation: s.awaiting,
		LastPosition:         s.last,
		GripperState:         s.last.GripperText(),
	}
}

// Close releases the link. Safe to call more than once.
// A send in flight keeps busy set until its own wait returns.
func (s *Session) Close() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.readyConfirmed = false
	s.mu.Unlock()

	err := s.transport.Close()
	if wasConnected {
		debug.Info("Connection to %s closed", s.cfg.Address)
		s.notify()
	}
	return err
}

func (s *Session) notify() {
	s.mu.Lock()
	st := s.statusLocked()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.StatusChanged(st)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
