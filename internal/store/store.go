// Package store keeps named positions and sequences in a YAML file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/logic/sequence"
)

// DefaultDelaySeconds is the pause after a step saved without one.
const DefaultDelaySeconds = 1.0

// ErrNotFound is returned when a name matches nothing.
var ErrNotFound = errors.New("not found")

// NamedPosition is a position saved under a name. Speed 0 means
// "use the default speed" when it is played.
type NamedPosition struct {
	Name         string `yaml:"name" json:"name"`
	arm.Position `yaml:",inline"`
}

// StepRecord is one step of a saved sequence, referencing a position by name.
type StepRecord struct {
	Position     string   `yaml:"position" json:"position"`
	Order        int      `yaml:"order" json:"order"`
	DelaySeconds *float64 `yaml:"delay_seconds,omitempty" json:"delay_seconds,omitempty"`
}

// Delay returns the step delay, DefaultDelaySeconds when unset.
func (s StepRecord) Delay() time.Duration {
	d := DefaultDelaySeconds
	if s.DelaySeconds != nil {
		d = *s.DelaySeconds
	}
	return time.Duration(d * float64(time.Second))
}

// SequenceRecord is a saved sequence.
type SequenceRecord struct {
	Name  string       `yaml:"name" json:"name"`
	Steps []StepRecord `yaml:"steps" json:"steps"`
}

type document struct {
	Positions []NamedPosition  `yaml:"positions"`
	Sequences []SequenceRecord `yaml:"sequences"`
}

// File is a YAML-backed store. Every save rewrites the whole file atomically.
type File struct {
	path string

	mu  sync.RWMutex
	doc document
}

// Open loads path. A missing file gives an empty store; it is created on first save.
func Open(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		debug.Verbose("Store %s does not exist yet, starting empty", path)
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.doc); err != nil {
		return nil, fmt.Errorf("unmarshal store %s: %w", path, err)
	}
	debug.Verbose("Store %s: %d positions, %d sequences", path, len(f.doc.Positions), len(f.doc.Sequences))
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Positions returns every saved position sorted by name.
func (f *File) Positions() []NamedPosition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]NamedPosition, len(f.doc.Positions))
	copy(out, f.doc.Positions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Position looks a position up by name.
func (f *File) Position(name string) (NamedPosition, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.findPosition(name); ok {
		return p, nil
	}
	return NamedPosition{}, fmt.Errorf("position %q: %w", name, ErrNotFound)
}

func (f *File) findPosition(name string) (NamedPosition, bool) {
	for _, p := range f.doc.Positions {
		if p.Name == name {
			return p, true
		}
	}
	return NamedPosition{}, false
}

// SavePosition adds p or replaces the position with the same name.
func (f *File) SavePosition(p NamedPosition) error {
	if p.Name == "" {
		return &arm.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !p.Finite() {
		return &arm.ValidationError{Field: "position", Reason: "axis values must be finite numbers"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	replaced := false
	for i := range f.doc.Positions {
		if f.doc.Positions[i].Name == p.Name {
			f.doc.Positions[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		f.doc.Positions = append(f.doc.Positions, p)
	}
	debug.Info("Saved position %q: %s", p.Name, p.Position)
	return f.saveLocked()
}

// Sequences returns every saved sequence sorted by name.
func (f *File) Sequences() []SequenceRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]SequenceRecord, len(f.doc.Sequences))
	copy(out, f.doc.Sequences)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SaveSequence adds rec or replaces the sequence with the same name.
// Every step must reference a saved position and orders must be dense.
func (f *File) SaveSequence(rec SequenceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.resolveLocked(rec, arm.SpeedRange.Min); err != nil {
		return err
	}

	replaced := false
	for i := range f.doc.Sequences {
		if f.doc.Sequences[i].Name == rec.Name {
			f.doc.Sequences[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		f.doc.Sequences = append(f.doc.Sequences, rec)
	}
	debug.Info("Saved sequence %q (%d steps)", rec.Name, len(rec.Steps))
	return f.saveLocked()
}

// Sequence resolves a saved sequence into a playable one. Positions saved
// without a speed play at defaultSpeed.
func (f *File) Sequence(name string, defaultSpeed int) (sequence.Sequence, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, rec := range f.doc.Sequences {
		if rec.Name == name {
			return f.resolveLocked(rec, float64(defaultSpeed))
		}
	}
	return sequence.Sequence{}, fmt.Errorf("sequence %q: %w", name, ErrNotFound)
}

func (f *File) resolveLocked(rec SequenceRecord, defaultSpeed float64) (sequence.Sequence, error) {
	steps := make([]sequence.Step, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		p, ok := f.findPosition(s.Position)
		if !ok {
			return sequence.Sequence{}, &arm.ValidationError{
				Field:  "steps",
				Reason: fmt.Sprintf("step %d references unknown position %q", s.Order, s.Position),
			}
		}
		pos := p.Position
		if pos.Speed == 0 {
			pos.Speed = int(defaultSpeed)
		}
		steps = append(steps, sequence.Step{Order: s.Order, Position: pos, Delay: s.Delay()})
	}
	return sequence.New(rec.Name, steps)
}

// saveLocked writes to a temporary file in the same directory, then renames it.
func (f *File) saveLocked() error {
	data, err := yaml.Marshal(&f.doc)
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".scara-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	debug.Trace("Store written to %s (%d bytes)", f.path, len(data))
	return nil
}
