// Package jog moves the arm in small increments from its last confirmed
// position. Keyboard shells and gamepads drive it.
package jog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
)

// Target is what jog commands are sent to. *motion.Gateway implements it.
type Target interface {
	LastPosition() arm.Position
	MoveTo(ctx context.Context, p arm.Position) error
	Home(ctx context.Context) error
}

// Action is one jog command.
type Action int

const (
	Arm1Plus Action = iota
	Arm1Minus
	Arm2Plus
	Arm2Minus
	BaseUp
	BaseDown
	GripperClose
	GripperOpen
	SpeedUp
	SpeedDown
	Home
	CycleIncrement
)

var actionNames = map[Action]string{
	Arm1Plus:       "arm1+",
	Arm1Minus:      "arm1-",
	Arm2Plus:       "arm2+",
	Arm2Minus:      "arm2-",
	BaseUp:         "up",
	BaseDown:       "down",
	GripperClose:   "close",
	GripperOpen:    "open",
	SpeedUp:        "faster",
	SpeedDown:      "slower",
	Home:           "home",
	CycleIncrement: "step",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction looks an action up by its String name.
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown jog action %q", name)
}

// Actions lists every action name, in declaration order.
func Actions() []string {
	out := make([]string, 0, len(actionNames))
	for a := Arm1Plus; a <= CycleIncrement; a++ {
		out = append(out, a.String())
	}
	return out
}

// Increments are cycled through by CycleIncrement, in this order.
var Increments = []float64{5, 10, 1}

const speedStep = 100

// Controller holds the jog increment and speed.
type Controller struct {
	target Target

	mu        sync.Mutex
	increment float64
	speed     int
}

// New creates a controller starting at increment 5 and the given speed.
func New(t Target, speed int) *Controller {
	return &Controller{target: t, increment: Increments[0], speed: arm.ClampSpeed(speed)}
}

// Increment returns the current step in degrees (arms) or cm (base).
func (c *Controller) Increment() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.increment
}

// Speed returns the speed used for jog moves.
func (c *Controller) Speed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Do performs a. Settings changes never touch the arm; moves are clamped to
// the mechanical limits before being sent.
func (c *Controller) Do(ctx context.Context, a Action) error {
	c.mu.Lock()
	inc, speed := c.increment, c.speed
	switch a {
	case SpeedUp:
		c.speed = arm.ClampSpeed(c.speed + speedStep)
		debug.Live("Jog speed %d", c.speed)
		c.mu.Unlock()
		return nil
	case SpeedDown:
		c.speed = arm.ClampSpeed(c.speed - speedStep)
		debug.Live("Jog speed %d", c.speed)
		c.mu.Unlock()
		return nil
	case CycleIncrement:
		c.increment = nextIncrement(c.increment)
		debug.Live("Jog increment %g", c.increment)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if a == Home {
		return c.target.Home(ctx)
	}

	p := c.target.LastPosition()
	p.Speed = speed
	switch a {
	case Arm1Plus:
		p.Arm1 += inc
	case Arm1Minus:
		p.Arm1 -= inc
	case Arm2Plus:
		p.Arm2 += inc
	case Arm2Minus:
		p.Arm2 -= inc
	case BaseUp:
		p.Base += inc
	case BaseDown:
		p.Base -= inc
	case GripperClose:
		p.GripperClosed = true
	case GripperOpen:
		p.GripperClosed = false
	default:
		return fmt.Errorf("unknown jog action %d", int(a))
	}
	p = p.Clamped()
	debug.Verbose("Jog %s -> %s", a, p)
	return c.target.MoveTo(ctx, p)
}

func nextIncrement(cur float64) float64 {
	for i, v := range Increments {
		if v == cur {
			return Increments[(i+1)%len(Increments)]
		}
	}
	return Increments[0]
}
