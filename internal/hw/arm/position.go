package arm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Range is a closed interval an axis value is limited to.
type Range struct {
	Min, Max float64
}

// Clamp limits v to the range. Clamping twice gives the same result as once.
func (r Range) Clamp(v float64) float64 {
	v = math.Max(r.Min, math.Min(r.Max, v))
	if v == 0 {
		return 0 // no negative zero on the wire
	}
	return v
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Mechanical limits enforced by the firmware.
var (
	Arm1Range  = Range{Min: -90, Max: 90}     // degrees
	Arm2Range  = Range{Min: -120, Max: 60}    // degrees
	BaseRange  = Range{Min: -12.5, Max: 12.5} // cm
	SpeedRange = Range{Min: 100, Max: 2000}   // steps/s
)

// Gripper servo angles, reported in status text.
const (
	GripperClosedText = "CLOSED (119°)"
	GripperOpenText   = "OPEN (180°)"
)

// Position is one commanded pose of the arm.
type Position struct {
	Arm1          float64 `json:"arm1" yaml:"arm1"`     // shoulder angle, degrees
	Arm2          float64 `json:"arm2" yaml:"arm2"`     // elbow angle relative to arm1, degrees
	Base          float64 `json:"base" yaml:"base"`     // vertical axis, cm
	GripperClosed bool    `json:"gripper" yaml:"gripper"`
	Speed         int     `json:"speed" yaml:"speed"` // steps/s
}

// Clamped returns p with every axis limited to its mechanical range.
func (p Position) Clamped() Position {
	return Position{
		Arm1:          Arm1Range.Clamp(p.Arm1),
		Arm2:          Arm2Range.Clamp(p.Arm2),
		Base:          BaseRange.Clamp(p.Base),
		GripperClosed: p.GripperClosed,
		Speed:         ClampSpeed(p.Speed),
	}
}

// ClampSpeed limits a speed to SpeedRange.
func ClampSpeed(speed int) int {
	return int(SpeedRange.Clamp(float64(speed)))
}

// Finite reports whether every float axis is a real number.
func (p Position) Finite() bool {
	for _, v := range []float64{p.Arm1, p.Arm2, p.Base} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// GripperText describes the gripper state for humans.
func (p Position) GripperText() string {
	if p.GripperClosed {
		return GripperClosedText
	}
	return GripperOpenText
}

// Encode formats p as the newline-terminated command line the firmware parses:
// "arm1,arm2,base,gripperCode,speed".
func (p Position) Encode() string {
	code := 0
	if p.GripperClosed {
		code = 1
	}
	return fmt.Sprintf("%s,%s,%s,%d,%d\n",
		formatAngle(p.Arm1), formatAngle(p.Arm2), formatBase(p.Base), code, p.Speed)
}

func (p Position) String() string {
	return strings.TrimSuffix(p.Encode(), "\n")
}

func formatAngle(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatBase always carries a fractional part: the base axis is in cm and
// the firmware converts it to steps.
func formatBase(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// CoerceGripper turns a loosely typed gripper value into closed/open.
// Booleans pass through, numbers use truthiness, anything else is open.
func CoerceGripper(v any) bool {
	switch g := v.(type) {
	case bool:
		return g
	case int:
		return g != 0
	case int64:
		return g != 0
	case float64:
		return g != 0 && !math.IsNaN(g)
	case json.Number:
		f, err := g.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}
