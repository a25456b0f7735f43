package gamepad

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/logic/jog"
)

// PS4 button numbers as reported by the hid-sony driver.
const (
	ButtonCross    = 0
	ButtonCircle   = 1
	ButtonTriangle = 2
	ButtonSquare   = 3
	ButtonL1       = 4
	ButtonR1       = 5
	ButtonL2       = 6
	ButtonR2       = 7
	ButtonShare    = 8
	ButtonOptions  = 9
)

// AxisDPadY is the D-pad vertical axis; negative is up.
const AxisDPadY = 7

var ps4Buttons = map[uint8]jog.Action{
	ButtonCross:    jog.Arm1Plus,
	ButtonTriangle: jog.Arm1Minus,
	ButtonSquare:   jog.Arm2Plus,
	ButtonCircle:   jog.Arm2Minus,
	ButtonR1:       jog.GripperClose,
	ButtonL1:       jog.GripperOpen,
	ButtonR2:       jog.SpeedUp,
	ButtonL2:       jog.SpeedDown,
	ButtonOptions:  jog.Home,
	ButtonShare:    jog.CycleIncrement,
}

// MapPS4 translates an event into a jog action. Only presses count:
// releases, init events and unmapped inputs return false.
func MapPS4(ev Event) (jog.Action, bool) {
	if ev.IsInit() {
		return 0, false
	}
	switch {
	case ev.IsButton():
		if ev.Value == 0 {
			return 0, false
		}
		a, ok := ps4Buttons[ev.Number]
		return a, ok
	case ev.IsAxis() && ev.Number == AxisDPadY:
		switch {
		case ev.Value < 0:
			return jog.BaseUp, true
		case ev.Value > 0:
			return jog.BaseDown, true
		}
	}
	return 0, false
}

// Listen reads events from r and runs the mapped jog actions until ctx is
// done or the device goes away. A busy arm drops the press; other command
// errors are logged and input continues.
func Listen(ctx context.Context, r Reader, c *jog.Controller) error {
	debug.Info("Gamepad %q connected", r.Name())

	var once sync.Once
	closeReader := func() { once.Do(func() { _ = r.Close() }) }
	defer closeReader()
	stop := context.AfterFunc(ctx, closeReader)
	defer stop()

	for {
		ev, err := r.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				debug.Warn("Gamepad %q disconnected", r.Name())
				return nil
			}
			return err
		}
		debug.Trace("Gamepad %s", ev)

		action, ok := MapPS4(ev)
		if !ok {
			continue
		}
		debug.Verbose("Gamepad -> %s", action)
		if err := c.Do(ctx, action); err != nil {
			if errors.Is(err, arm.ErrBusy) {
				debug.Verbose("Gamepad %s dropped: arm busy", action)
				continue
			}
			debug.Warn("Gamepad %s: %v", action, err)
		}
	}
}
