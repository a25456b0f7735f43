package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
)

// fakeSender records positions and fails the ones listed in failAt.
type fakeSender struct {
	mu     sync.Mutex
	sent   []arm.Position
	failAt map[int]bool
	block  chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, p arm.Position) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.sent)
	f.sent = append(f.sent, p)
	if f.failAt[n] {
		return arm.ErrConfirmationTimeout
	}
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func makeSequence(t *testing.T, n int) Sequence {
	t.Helper()
	steps := make([]Step, n)
	for i := range steps {
		steps[i] = Step{Order: i, Position: arm.Position{Arm1: float64(i * 10), Speed: 500}}
	}
	seq, err := New("test", steps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return seq
}

// ---------- New ----------

func TestNew_SortsByOrder(t *testing.T) {
	seq, err := New("pick", []Step{
		{Order: 2, Position: arm.Position{Arm1: 30}},
		{Order: 0, Position: arm.Position{Arm1: 10}},
		{Order: 1, Position: arm.Position{Arm1: 20}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, s := range seq.Steps {
		if s.Order != i {
			t.Errorf("Steps[%d].Order = %d", i, s.Order)
		}
	}
	if seq.Steps[0].Position.Arm1 != 10 {
		t.Errorf("first step arm1 = %v, want 10", seq.Steps[0].Position.Arm1)
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		seq   string
		steps []Step
	}{
		{"empty name", "", nil},
		{"gap", "s", []Step{{Order: 0}, {Order: 2}}},
		{"duplicate", "s", []Step{{Order: 0}, {Order: 0}}},
		{"not zero based", "s", []Step{{Order: 1}}},
		{"negative delay", "s", []Step{{Order: 0, Delay: -time.Second}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.seq, tt.steps)
			var vErr *arm.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestNew_EmptyStepsAllowed(t *testing.T) {
	seq, err := New("empty", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if seq.Len() != 0 {
		t.Errorf("Len = %d, want 0", seq.Len())
	}
}

// ---------- Player ----------

func TestPlayer_AdvanceAllSteps(t *testing.T) {
	sender := &fakeSender{}
	p := NewPlayer(sender)
	seq := makeSequence(t, 4)
	if err := p.Start(seq); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < seq.Len(); i++ {
		r := p.Advance(context.Background())
		if r.Status != StatusSuccess {
			t.Fatalf("step %d status = %s", i, r.Status)
		}
		if r.Index != i+1 {
			t.Errorf("step %d index = %d, want %d", i, r.Index, i+1)
		}
		if r.Total != 4 {
			t.Errorf("total = %d, want 4", r.Total)
		}
	}

	prog := p.Progress()
	if prog.Running {
		t.Error("still running after the last step")
	}
	if prog.Index != 4 {
		t.Errorf("index = %d, want 4", prog.Index)
	}

	r := p.Advance(context.Background())
	if r.Status != StatusCompleted {
		t.Errorf("extra advance status = %s, want completed", r.Status)
	}
	if sender.count() != 4 {
		t.Errorf("sent %d positions, want 4", sender.count())
	}
}

func TestPlayer_StopMidSequence(t *testing.T) {
	sender := &fakeSender{}
	p := NewPlayer(sender)
	if err := p.Start(makeSequence(t, 5)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.Advance(context.Background())
	p.Advance(context.Background())
	p.Stop()

	r := p.Advance(context.Background())
	if r.Status != StatusStopped {
		t.Errorf("status = %s, want stopped", r.Status)
	}
	if r.Index != 2 {
		t.Errorf("index = %d, want 2", r.Index)
	}
	if sender.count() != 2 {
		t.Errorf("sent %d positions, want 2", sender.count())
	}
	p.Stop() // idempotent
}

func TestPlayer_ContinuesOnError(t *testing.T) {
	sender := &fakeSender{failAt: map[int]bool{1: true}}
	p := NewPlayer(sender)
	if err := p.Start(makeSequence(t, 3)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var results []StepResult
	if err := p.Run(context.Background(), func(r StepResult) { results = append(results, r) }); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []Status{StatusSuccess, StatusFailed, StatusSuccess, StatusCompleted}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, st := range want {
		if results[i].Status != st {
			t.Errorf("result %d = %s, want %s", i, results[i].Status, st)
		}
	}
	if !errors.Is(results[1].Err, arm.ErrConfirmationTimeout) {
		t.Errorf("failed step err = %v", results[1].Err)
	}
	if sender.count() != 3 {
		t.Errorf("sent %d positions, want 3", sender.count())
	}
}

func TestPlayer_StartWhileRunning(t *testing.T) {
	p := NewPlayer(&fakeSender{})
	if err := p.Start(makeSequence(t, 2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(makeSequence(t, 2)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	p.Stop()
	if err := p.Start(makeSequence(t, 2)); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
}

func TestPlayer_AdvanceWithoutStart(t *testing.T) {
	sender := &fakeSender{}
	p := NewPlayer(sender)
	r := p.Advance(context.Background())
	if !r.Status.Terminal() {
		t.Errorf("status = %s, want terminal", r.Status)
	}
	if sender.count() != 0 {
		t.Error("advance without start must not send")
	}
}

func TestPlayer_StopDoesNotAbortInFlight(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	p := NewPlayer(sender)
	if err := p.Start(makeSequence(t, 3)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan StepResult, 1)
	go func() { done <- p.Advance(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	p.Stop()
	close(sender.block)

	r := <-done
	if r.Status != StatusSuccess {
		t.Errorf("in-flight step status = %s, want success", r.Status)
	}
	if r.Running {
		t.Error("result still running after Stop")
	}
	if sender.count() != 1 {
		t.Errorf("sent %d positions, want 1", sender.count())
	}
}

func TestPlayer_HonorsDelay(t *testing.T) {
	p := NewPlayer(&fakeSender{})
	seq, err := New("slow", []Step{{Order: 0, Delay: 30 * time.Millisecond}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(seq); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	p.Advance(context.Background())
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("advance returned after %v, want >= 30ms", elapsed)
	}
}

func TestPlayer_RunContextCancel(t *testing.T) {
	p := NewPlayer(&fakeSender{})
	steps := make([]Step, 100)
	for i := range steps {
		steps[i] = Step{Order: i, Delay: 10 * time.Millisecond}
	}
	seq, err := New("long", steps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(seq); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run err = %v, want deadline exceeded", err)
	}
	if p.Running() {
		t.Error("player still running after cancellation")
	}
	if idx := p.Progress().Index; idx == 0 || idx >= 100 {
		t.Errorf("index = %d, want partial progress", idx)
	}
}
