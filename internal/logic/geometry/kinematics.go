package geometry

import (
	"math"

	"github.com/cjeanneret/ScaraGo/internal/config"
)

// Point is a tool position in the arm's horizontal plane, in millimetres,
// plus the base height in centimetres.
type Point struct {
	X      float64 `json:"x_mm"`
	Y      float64 `json:"y_mm"`
	Height float64 `json:"height_cm"`
	Reach  float64 `json:"reach_mm"`
}

// Kinematics computes where the tool is from the joint angles.
// Display only: commands are always sent as joint angles.
type Kinematics struct {
	link1 float64
	link2 float64
}

// NewKinematics creates a calculator from the configured link lengths.
func NewKinematics(cfg *config.Config) *Kinematics {
	return &Kinematics{link1: cfg.Arm.Link1Mm, link2: cfg.Arm.Link2Mm}
}

// Forward returns the tool point. arm2 is measured relative to arm1.
// Formula: x = L1·cos(θ1) + L2·cos(θ1+θ2), y = L1·sin(θ1) + L2·sin(θ1+θ2)
func (k *Kinematics) Forward(arm1, arm2, base float64) Point {
	t1 := arm1 * math.Pi / 180.0
	t12 := (arm1 + arm2) * math.Pi / 180.0

	x := k.link1*math.Cos(t1) + k.link2*math.Cos(t12)
	y := k.link1*math.Sin(t1) + k.link2*math.Sin(t12)
	return Point{
		X:      round2(x),
		Y:      round2(y),
		Height: base,
		Reach:  round2(math.Hypot(x, y)),
	}
}

// MaxReach is the distance from the shoulder with the arm stretched out.
func (k *Kinematics) MaxReach() float64 {
	return k.link1 + k.link2
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}
