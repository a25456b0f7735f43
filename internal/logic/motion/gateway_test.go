package motion

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/config"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/hw/serialport"
	"github.com/cjeanneret/ScaraGo/internal/logic/sequence"
)

func f(v float64) *float64 { return &v }

func newTestGateway(t *testing.T, address string) (*Gateway, *serialport.MockTransport) {
	t.Helper()
	cfg := config.Default()
	m := serialport.NewMockTransport()
	s := arm.NewSession(m, arm.Config{
		Address:        address,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		ReadyTimeout:   50 * time.Millisecond,
		ReadyPoll:      5 * time.Millisecond,
		DefaultSpeed:   cfg.Arm.DefaultSpeed,
	})
	g := NewGateway(s, cfg)
	t.Cleanup(func() { _ = g.Close() })
	return g, m
}

// ---------- Normalize ----------

func TestNormalize_Valid(t *testing.T) {
	g, _ := newTestGateway(t, "mock://gw-norm")

	cases := []struct {
		name string
		req  Request
		want arm.Position
	}{
		{"defaults", Request{Arm1: f(45), Arm2: f(-30), Base: f(5)},
			arm.Position{Arm1: 45, Arm2: -30, Base: 5, Speed: 500}},
		{"bool gripper", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Gripper: true},
			arm.Position{GripperClosed: true, Speed: 500}},
		{"numeric gripper", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Gripper: 1.0},
			arm.Position{GripperClosed: true, Speed: 500}},
		{"json number gripper", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Gripper: json.Number("0")},
			arm.Position{Speed: 500}},
		{"speed rounded", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Speed: f(749.6)},
			arm.Position{Speed: 750}},
		{"limits inclusive", Request{Arm1: f(-90), Arm2: f(60), Base: f(-12.5), Speed: f(2000)},
			arm.Position{Arm1: -90, Arm2: 60, Base: -12.5, Speed: 2000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.Normalize(tc.req)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	g, _ := newTestGateway(t, "mock://gw-reject")

	cases := []struct {
		name  string
		req   Request
		field string
	}{
		{"missing arm1", Request{Arm2: f(0), Base: f(0)}, "arm1"},
		{"missing base", Request{Arm1: f(0), Arm2: f(0)}, "base"},
		{"arm1 high", Request{Arm1: f(200), Arm2: f(0), Base: f(0)}, "arm1"},
		{"arm2 low", Request{Arm1: f(0), Arm2: f(-121), Base: f(0)}, "arm2"},
		{"base high", Request{Arm1: f(0), Arm2: f(0), Base: f(12.6)}, "base"},
		{"nan", Request{Arm1: f(math.NaN()), Arm2: f(0), Base: f(0)}, "arm1"},
		{"inf", Request{Arm1: f(0), Arm2: f(math.Inf(1)), Base: f(0)}, "arm2"},
		{"speed low", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Speed: f(50)}, "speed"},
		{"speed nan", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Speed: f(math.NaN())}, "speed"},
		{"gripper string", Request{Arm1: f(0), Arm2: f(0), Base: f(0), Gripper: "closed"}, "gripper"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Normalize(tc.req)
			var vErr *arm.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("field = %q, want %q", vErr.Field, tc.field)
			}
		})
	}
}

// ---------- Forwarding ----------

func TestMove_RejectsBeforeSession(t *testing.T) {
	g, m := newTestGateway(t, "mock://gw-move-reject")
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := g.Move(context.Background(), Request{Arm1: f(200), Arm2: f(0), Base: f(0)})
	var vErr *arm.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(m.Written()) != 0 {
		t.Errorf("wrote %v, want nothing", m.Written())
	}
}

func TestMove_Forwards(t *testing.T) {
	g, m := newTestGateway(t, "mock://gw-move")
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := g.Move(context.Background(), Request{Arm1: f(45), Arm2: f(-30), Base: f(5), Gripper: true}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if w := m.Written(); len(w) != 1 || w[0] != "45,-30,5.0,1,500" {
		t.Errorf("written = %v", w)
	}

	st := g.Status()
	if st.LastPosition.Arm1 != 45 || !st.LastPosition.GripperClosed {
		t.Errorf("last position = %+v", st.LastPosition)
	}
	if st.Tool.Reach == 0 {
		t.Error("tool point not computed")
	}
}

func TestMove_RelaysSessionError(t *testing.T) {
	g, _ := newTestGateway(t, "mock://gw-not-connected")

	err := g.Move(context.Background(), Request{Arm1: f(0), Arm2: f(0), Base: f(0)})
	var connErr *arm.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}

func TestEnsureConnected(t *testing.T) {
	g, _ := newTestGateway(t, "mock://gw-ensure")
	if err := g.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if !g.Status().Connected {
		t.Error("not connected")
	}
	if err := g.EnsureConnected(context.Background()); err != nil {
		t.Errorf("second EnsureConnected: %v", err)
	}
}

func TestHomeAndGripper(t *testing.T) {
	g, m := newTestGateway(t, "mock://gw-home")
	ctx := context.Background()
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	steps := []func(context.Context) error{g.CloseGripper, g.ToggleGripper, g.OpenGripper, g.Home}
	for i, step := range steps {
		if err := step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := []string{"0,0,0.0,1,500", "0,0,0.0,0,500", "0,0,0.0,0,500", "0,0,0.0,0,500"}
	got := m.Written()
	if len(got) != len(want) {
		t.Fatalf("written = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// ---------- Sequences ----------

func TestSequence_RunThroughGateway(t *testing.T) {
	g, m := newTestGateway(t, "mock://gw-seq")
	ctx := context.Background()
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	seq, err := sequence.New("pick", []sequence.Step{
		{Order: 0, Position: arm.Position{Arm1: 10, Speed: 500}},
		{Order: 1, Position: arm.Position{Arm1: 20, GripperClosed: true, Speed: 500}},
	})
	if err != nil {
		t.Fatalf("sequence.New: %v", err)
	}
	if err := g.StartSequence(seq); err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	if !g.SequenceProgress().Running {
		t.Fatal("sequence not running")
	}
	if err := g.RunSequence(ctx, nil); err != nil {
		t.Fatalf("RunSequence: %v", err)
	}
	if len(m.Written()) != 2 {
		t.Errorf("written = %v", m.Written())
	}
	prog := g.Status().Sequence
	if prog.Running || prog.Index != 2 {
		t.Errorf("progress = %+v", prog)
	}
}

func TestSequence_RejectsOutOfRangeStep(t *testing.T) {
	g, _ := newTestGateway(t, "mock://gw-seq-reject")
	seq, err := sequence.New("bad", []sequence.Step{
		{Order: 0, Position: arm.Position{Arm1: 150, Speed: 500}},
	})
	if err != nil {
		t.Fatalf("sequence.New: %v", err)
	}
	err = g.StartSequence(seq)
	var vErr *arm.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if g.SequenceProgress().Running {
		t.Error("rejected sequence must not start")
	}
}

func TestSequence_AdvanceAndStop(t *testing.T) {
	g, m := newTestGateway(t, "mock://gw-seq-stop")
	ctx := context.Background()
	if err := g.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	steps := make([]sequence.Step, 5)
	for i := range steps {
		steps[i] = sequence.Step{Order: i, Position: arm.Position{Arm1: float64(i), Speed: 500}}
	}
	seq, _ := sequence.New("five", steps)
	if err := g.StartSequence(seq); err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	g.AdvanceSequence(ctx)
	g.AdvanceSequence(ctx)
	g.StopSequence()
	r := g.AdvanceSequence(ctx)
	if r.Status != sequence.StatusStopped {
		t.Errorf("status = %s, want stopped", r.Status)
	}
	if len(m.Written()) != 2 {
		t.Errorf("written = %v, want 2 lines", m.Written())
	}
}
