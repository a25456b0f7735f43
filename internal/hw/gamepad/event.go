// Package gamepad reads a Linux joystick device and turns PS4 controller
// input into jog actions.
package gamepad

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Joystick API event types (linux/joystick.h).
const (
	evButton uint8 = 0x01
	evAxis   uint8 = 0x02
	evInit   uint8 = 0x80
)

// eventSize is sizeof(struct js_event).
const eventSize = 8

// Event is one js_event.
type Event struct {
	Time   uint32 // ms
	Value  int16
	Type   uint8
	Number uint8
}

// IsInit reports a synthetic event describing the initial state.
func (e Event) IsInit() bool { return e.Type&evInit != 0 }

// IsButton reports a button event.
func (e Event) IsButton() bool { return e.Type&^evInit == evButton }

// IsAxis reports an axis event.
func (e Event) IsAxis() bool { return e.Type&^evInit == evAxis }

func (e Event) String() string {
	kind := "axis"
	if e.IsButton() {
		kind = "button"
	}
	return fmt.Sprintf("%s %d = %d", kind, e.Number, e.Value)
}

// Decode parses one little-endian js_event.
func Decode(buf []byte) (Event, error) {
	var ev Event
	if len(buf) < eventSize {
		return ev, fmt.Errorf("short joystick event: %d bytes", len(buf))
	}
	err := binary.Read(bytes.NewReader(buf[:eventSize]), binary.LittleEndian, &ev)
	return ev, err
}

// Reader is an open joystick.
type Reader interface {
	io.Closer
	Name() string
	ReadEvent() (Event, error)
}

// streamReader decodes events from any byte stream.
type streamReader struct {
	r    io.ReadCloser
	name string
}

// NewStreamReader reads js_events from r. Used for recorded input and tests.
func NewStreamReader(r io.ReadCloser, name string) Reader {
	return &streamReader{r: r, name: name}
}

func (s *streamReader) Name() string { return s.name }

func (s *streamReader) Close() error { return s.r.Close() }

func (s *streamReader) ReadEvent() (Event, error) {
	buf := make([]byte, eventSize)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return Event{}, err
	}
	return Decode(buf)
}
