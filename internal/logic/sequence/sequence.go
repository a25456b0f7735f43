// Package sequence plays back ordered lists of arm positions.
package sequence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
)

// DefaultDelay is the pause after a step when none is given.
const DefaultDelay = time.Second

// Step is one position of a sequence and the pause that follows it.
type Step struct {
	Order    int
	Position arm.Position
	Delay    time.Duration
}

// Sequence is a named, ordered list of steps.
type Sequence struct {
	Name  string
	Steps []Step
}

// New sorts steps by Order and checks the orders form 0, 1, ... len-1.
func New(name string, steps []Step) (Sequence, error) {
	if name == "" {
		return Sequence{}, &arm.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i, s := range sorted {
		if s.Order != i {
			return Sequence{}, &arm.ValidationError{
				Field:  "steps",
				Reason: fmt.Sprintf("orders must be 0..%d without gaps or duplicates, found %d at rank %d", len(sorted)-1, s.Order, i),
			}
		}
		if s.Delay < 0 {
			return Sequence{}, &arm.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d has a negative delay", i)}
		}
		if !s.Position.Finite() {
			return Sequence{}, &arm.ValidationError{Field: "steps", Reason: fmt.Sprintf("step %d has a non-finite axis", i)}
		}
	}
	return Sequence{Name: name, Steps: sorted}, nil
}

// Len returns the number of steps.
func (s Sequence) Len() int {
	return len(s.Steps)
}

// ErrAlreadyRunning is returned by Start while a sequence is playing.
var ErrAlreadyRunning = errors.New("a sequence is already running")
