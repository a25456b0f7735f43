package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
)

// Sender moves the arm and blocks until the move is confirmed or fails.
// *arm.Session implements it.
type Sender interface {
	Send(ctx context.Context, p arm.Position) error
}

// Status classifies the outcome of one Advance.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// Terminal reports whether playback is over.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted
}

// StepResult describes one Advance call.
type StepResult struct {
	Status   Status       `json:"status"`
	Position arm.Position `json:"position"`
	Index    int          `json:"index"` // cursor after the step
	Total    int          `json:"total"`
	Running  bool         `json:"running"`
	Err      error        `json:"-"`
	Message  string       `json:"message,omitempty"`
}

// Progress is a snapshot of the playback cursor.
type Progress struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Running bool   `json:"running"`
}

// Player steps through one sequence at a time. A failed step does not stop
// playback. Stop only prevents future sends; a move already on the wire
// finishes normally.
type Player struct {
	sender Sender

	step sync.Mutex // one Advance at a time

	mu      sync.Mutex
	seq     Sequence
	index   int
	running bool
	gen     int
}

// NewPlayer creates an idle player sending through s.
func NewPlayer(s Sender) *Player {
	return &Player{sender: s}
}

// Start resets the cursor to the first step of seq.
func (p *Player) Start(seq Sequence) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	p.seq = seq
	p.index = 0
	p.running = true
	p.gen++
	debug.Section("Sequence " + seq.Name)
	debug.Info("Starting sequence %q (%d steps)", seq.Name, seq.Len())
	return nil
}

// Stop ends playback after the current step. Safe to call at any time.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		debug.Info("Stopping sequence %q at step %d/%d", p.seq.Name, p.index, p.seq.Len())
	}
	p.running = false
}

// Running reports whether a sequence is playing.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Progress returns the current cursor.
func (p *Player) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Progress{Name: p.seq.Name, Index: p.index, Total: p.seq.Len(), Running: p.running}
}

// Advance sends the next step, waits its delay and moves the cursor on.
// When nothing is left to play it returns a terminal result without sending.
func (p *Player) Advance(ctx context.Context) StepResult {
	p.step.Lock()
	defer p.step.Unlock()

	p.mu.Lock()
	total := p.seq.Len()
	if !p.running || p.index >= total {
		status := StatusStopped
		if p.index >= total {
			status = StatusCompleted
		}
		p.running = false
		r := StepResult{Status: status, Index: p.index, Total: total}
		p.mu.Unlock()
		return r
	}
	step := p.seq.Steps[p.index]
	gen := p.gen
	index := p.index
	p.mu.Unlock()

	debug.Step(index+1, total, step.Position.String())
	err := p.sender.Send(ctx, step.Position)

	result := StepResult{Status: StatusSuccess, Position: step.Position, Total: total}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		result.Message = err.Error()
		debug.Warn("Step %d/%d failed, continuing: %v", index+1, total, err)
	}

	if step.Delay > 0 {
		if serr := sleep(ctx, step.Delay); serr != nil {
			debug.Verbose("Step delay interrupted: %v", serr)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.index = index + 1
		if p.index >= total {
			p.running = false
			debug.Summary(fmt.Sprintf("Sequence %q completed (%d steps)", p.seq.Name, total))
		}
	}
	result.Index = index + 1
	result.Running = p.gen == gen && p.running
	return result
}

// Run advances until playback ends or ctx is done. onStep, if not nil,
// receives every result including the terminal one.
func (p *Player) Run(ctx context.Context, onStep func(StepResult)) error {
	for {
		if err := ctx.Err(); err != nil {
			p.Stop()
			return err
		}
		r := p.Advance(ctx)
		if onStep != nil {
			onStep(r)
		}
		if r.Status.Terminal() {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
