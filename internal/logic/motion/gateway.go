// Package motion is the single entry point for commanding the arm.
// It validates inbound requests, then hands them to the device session
// and the sequence player.
package motion

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cjeanneret/ScaraGo/internal/config"
	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/logic/geometry"
	"github.com/cjeanneret/ScaraGo/internal/logic/sequence"
)

// Request is a move request as decoded from JSON. Pointers distinguish
// missing fields from zero values.
type Request struct {
	Arm1    *float64 `json:"arm1"`
	Arm2    *float64 `json:"arm2"`
	Base    *float64 `json:"base"`
	Gripper any      `json:"gripper,omitempty"` // bool or number, default open
	Speed   *float64 `json:"speed,omitempty"`   // default from config
}

// Status is the session status enriched with the tool point and playback progress.
type Status struct {
	arm.Status
	Tool     geometry.Point    `json:"tool"`
	Sequence sequence.Progress `json:"sequence"`
}

// Gateway sits between external callers and the session.
type Gateway struct {
	session      *arm.Session
	player       *sequence.Player
	kinematics   *geometry.Kinematics
	defaultSpeed int
}

// NewGateway wires a gateway around s.
func NewGateway(s *arm.Session, cfg *config.Config) *Gateway {
	return &Gateway{
		session:      s,
		player:       sequence.NewPlayer(s),
		kinematics:   geometry.NewKinematics(cfg),
		defaultSpeed: cfg.Arm.DefaultSpeed,
	}
}

// Session returns the underlying session, for observers registration.
func (g *Gateway) Session() *arm.Session {
	return g.session
}

// DefaultSpeed returns the speed used when a request has none.
func (g *Gateway) DefaultSpeed() int {
	return g.defaultSpeed
}

// Normalize checks a request and turns it into a Position. Out-of-range
// values are rejected here rather than clamped.
func (g *Gateway) Normalize(req Request) (arm.Position, error) {
	arm1, err := axis("arm1", req.Arm1, arm.Arm1Range)
	if err != nil {
		return arm.Position{}, err
	}
	arm2, err := axis("arm2", req.Arm2, arm.Arm2Range)
	if err != nil {
		return arm.Position{}, err
	}
	base, err := axis("base", req.Base, arm.BaseRange)
	if err != nil {
		return arm.Position{}, err
	}
	closed, err := gripper(req.Gripper)
	if err != nil {
		return arm.Position{}, err
	}

	speed := g.defaultSpeed
	if req.Speed != nil {
		s := *req.Speed
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return arm.Position{}, &arm.ValidationError{Field: "speed", Reason: "must be a finite number"}
		}
		s = math.Round(s)
		if !arm.SpeedRange.Contains(s) {
			return arm.Position{}, &arm.ValidationError{Field: "speed", Reason: fmt.Sprintf("%g outside %s", s, arm.SpeedRange)}
		}
		speed = int(s)
	}

	return arm.Position{Arm1: arm1, Arm2: arm2, Base: base, GripperClosed: closed, Speed: speed}, nil
}

// Validate applies the Normalize range checks to an already typed position.
func (g *Gateway) Validate(p arm.Position) error {
	req := Request{Arm1: &p.Arm1, Arm2: &p.Arm2, Base: &p.Base, Gripper: p.GripperClosed}
	if p.Speed != 0 {
		s := float64(p.Speed)
		req.Speed = &s
	}
	_, err := g.Normalize(req)
	return err
}

func axis(name string, v *float64, r arm.Range) (float64, error) {
	if v == nil {
		return 0, &arm.ValidationError{Field: name, Reason: "is required"}
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, &arm.ValidationError{Field: name, Reason: "must be a finite number"}
	}
	if !r.Contains(*v) {
		return 0, &arm.ValidationError{Field: name, Reason: fmt.Sprintf("%g outside %s", *v, r)}
	}
	return *v, nil
}

func gripper(v any) (bool, error) {
	switch g := v.(type) {
	case nil:
		return false, nil
	case bool, int, int64, float64, json.Number:
		if f, ok := g.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return false, &arm.ValidationError{Field: "gripper", Reason: "must be a finite number"}
		}
		return arm.CoerceGripper(g), nil
	default:
		return false, &arm.ValidationError{Field: "gripper", Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// Move validates req and sends it. Session errors are returned unchanged.
func (g *Gateway) Move(ctx context.Context, req Request) error {
	p, err := g.Normalize(req)
	if err != nil {
		debug.Warn("Rejected move: %v", err)
		return err
	}
	return g.session.Send(ctx, p)
}

// MoveTo validates and sends a typed position.
func (g *Gateway) MoveTo(ctx context.Context, p arm.Position) error {
	if p.Speed == 0 {
		p.Speed = g.defaultSpeed
	}
	if err := g.Validate(p); err != nil {
		debug.Warn("Rejected move: %v", err)
		return err
	}
	return g.session.Send(ctx, p)
}

// Connect opens the device link.
func (g *Gateway) Connect(ctx context.Context) error {
	return g.session.Connect(ctx)
}

// EnsureConnected connects once if the session is down.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	if g.session.Status().Connected {
		return nil
	}
	debug.Info("Session disconnected, reconnecting")
	return g.session.Connect(ctx)
}

// Close stops playback and closes the device link.
func (g *Gateway) Close() error {
	g.player.Stop()
	return g.session.Close()
}

func (g *Gateway) OpenGripper(ctx context.Context) error {
	return g.session.OpenGripper(ctx)
}

func (g *Gateway) CloseGripper(ctx context.Context) error {
	return g.session.CloseGripper(ctx)
}

func (g *Gateway) ToggleGripper(ctx context.Context) error {
	return g.session.ToggleGripper(ctx)
}

func (g *Gateway) Home(ctx context.Context) error {
	return g.session.Home(ctx)
}

// LastPosition returns the last confirmed position.
func (g *Gateway) LastPosition() arm.Position {
	return g.session.LastPosition()
}

// Status returns the session status with derived fields.
func (g *Gateway) Status() Status {
	st := g.session.Status()
	lp := st.LastPosition
	return Status{
		Status:   st,
		Tool:     g.kinematics.Forward(lp.Arm1, lp.Arm2, lp.Base),
		Sequence: g.player.Progress(),
	}
}

// StartSequence begins playback of seq. Every step is validated first.
func (g *Gateway) StartSequence(seq sequence.Sequence) error {
	for i, s := range seq.Steps {
		if err := g.Validate(s.Position); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return g.player.Start(seq)
}

func (g *Gateway) StopSequence() {
	g.player.Stop()
}

// AdvanceSequence plays the next step of the running sequence.
func (g *Gateway) AdvanceSequence(ctx context.Context) sequence.StepResult {
	return g.player.Advance(ctx)
}

// RunSequence plays the running sequence to its end.
func (g *Gateway) RunSequence(ctx context.Context, onStep func(sequence.StepResult)) error {
	return g.player.Run(ctx, onStep)
}

// SequenceProgress returns the playback cursor.
func (g *Gateway) SequenceProgress() sequence.Progress {
	return g.player.Progress()
}
