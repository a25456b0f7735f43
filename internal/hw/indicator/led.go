// Package indicator mirrors the arm session state on GPIO outputs.
package indicator

import (
	"sync"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/hw/gpio"
)

// BusyLED lights a LED while a command is in flight.
// Wiring: pin -> resistor -> LED anode, cathode -> GND (active HIGH).
type BusyLED struct {
	gpio gpio.Driver
	pin  int

	mu  sync.Mutex
	lit bool
}

// NewBusyLED configures pin as an output and switches the LED off.
func NewBusyLED(g gpio.Driver, pin int) (*BusyLED, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	debug.Verbose("Busy LED on pin %d", pin)
	return &BusyLED{gpio: g, pin: pin}, nil
}

// StatusChanged implements arm.Observer. The pin is only written when the
// busy state actually changes.
func (l *BusyLED) StatusChanged(st arm.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st.Busy == l.lit {
		return
	}
	level := gpio.Low
	if st.Busy {
		level = gpio.High
	}
	if err := l.gpio.WritePin(l.pin, level); err != nil {
		debug.Warn("Busy LED pin %d: %v", l.pin, err)
		return
	}
	l.lit = st.Busy
}

// Off switches the LED off.
func (l *BusyLED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lit = false
	return l.gpio.WritePin(l.pin, gpio.Low)
}
