package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/ScaraGo/internal/debug"
	"github.com/cjeanneret/ScaraGo/internal/hw/arm"
	"github.com/cjeanneret/ScaraGo/internal/logic/motion"
	"github.com/cjeanneret/ScaraGo/internal/logic/sequence"
	"github.com/cjeanneret/ScaraGo/internal/store"
)

// ConfigView is what GET /config exposes to the page.
type ConfigView struct {
	Port         string    `json:"port"`
	Mock         bool      `json:"mock"`
	DefaultSpeed int       `json:"default_speed"`
	Arm1Range    arm.Range `json:"arm1_range"`
	Arm2Range    arm.Range `json:"arm2_range"`
	BaseRange    arm.Range `json:"base_range"`
	SpeedRange   arm.Range `json:"speed_range"`
	Link1Mm      float64   `json:"link1_mm"`
	Link2Mm      float64   `json:"link2_mm"`
	MaxReachMm   float64   `json:"max_reach_mm"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Gateway     *motion.Gateway
	Store       *store.File
	Config      ConfigView

	ctx       context.Context
	runningMu sync.Mutex
	running   bool // a command worker is active
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// Background work is bound to ctx.
func NewHandlers(ctx context.Context, broadcaster *StatusBroadcaster, gw *motion.Gateway, st *store.File, cfg ConfigView, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Gateway:     gw,
		Store:       st,
		Config:      cfg,
		ctx:         ctx,
		staticFS:    staticFS,
	}
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		vErr    *arm.ValidationError
		connErr *arm.ConnectionError
		status  int
	)
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, arm.ErrBusy), errors.Is(err, sequence.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &connErr):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &arm.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	return nil
}

// ready reconnects once when the link is down and rejects while a
// command is outstanding, before any worker is started.
func (h *Handlers) ready(ctx context.Context) error {
	if err := h.Gateway.EnsureConnected(ctx); err != nil {
		return err
	}
	if h.Gateway.Status().Busy {
		return arm.ErrBusy
	}
	return nil
}

// runAsync runs fn on a worker goroutine and broadcasts its outcome.
// Only one worker runs at a time.
func (h *Handlers) runAsync(w http.ResponseWriter, name string, fn func(ctx context.Context) error) {
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		writeError(w, arm.ErrBusy)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		if err := fn(h.ctx); err != nil {
			h.Broadcaster.Broadcast("error", name+" failed: "+err.Error())
			debug.Error(fmt.Errorf("%s: %w", name, err))
			return
		}
		h.Broadcaster.Broadcast("info", name+" complete")
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "status": "started", "command": name})
}

// ---------- pages & config ----------

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleConfig returns limits and defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ---------- arm ----------

// HandleStatus handles GET /status. It never touches the device.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.Status())
}

// HandleCommand handles POST /command with {"arm1","arm2","base","gripper","speed"}.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req motion.Request
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.Gateway.Normalize(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ready(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.runAsync(w, "move "+p.String(), func(ctx context.Context) error {
		return h.Gateway.MoveTo(ctx, p)
	})
}

// HandleHome handles POST /home.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.runAsync(w, "home", h.Gateway.Home)
}

// HandleGripper handles POST /gripper/{action} with action open, close or toggle.
func (h *Handlers) HandleGripper(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context) error
	action := r.PathValue("action")
	switch action {
	case "open":
		fn = h.Gateway.OpenGripper
	case "close":
		fn = h.Gateway.CloseGripper
	case "toggle":
		fn = h.Gateway.ToggleGripper
	default:
		writeError(w, &arm.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown gripper action %q", action)})
		return
	}
	if err := h.ready(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	h.runAsync(w, "gripper "+action, fn)
}

// ---------- sequences ----------

type startRequest struct {
	Name string `json:"name"`
	Auto bool   `json:"auto"` // play to the end on the server instead of waiting for /sequence/advance
}

// HandleSequenceStart handles POST /sequence/start.
func (h *Handlers) HandleSequenceStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	seq, err := h.Store.Sequence(req.Name, h.Gateway.DefaultSpeed())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Gateway.EnsureConnected(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Gateway.StartSequence(seq); err != nil {
		writeError(w, err)
		return
	}
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Sequence %q started (%d steps)", seq.Name, seq.Len()))

	if req.Auto {
		go func() {
			err := h.Gateway.RunSequence(h.ctx, h.broadcastStep)
			if err != nil {
				h.Broadcaster.Broadcast("error", "Sequence interrupted: "+err.Error())
			}
		}()
	}
	writeJSON(w, http.StatusAccepted, h.Gateway.SequenceProgress())
}

func (h *Handlers) broadcastStep(res sequence.StepResult) {
	switch res.Status {
	case sequence.StatusFailed:
		h.Broadcaster.Broadcast("error", fmt.Sprintf("Step %d/%d failed: %s", res.Index, res.Total, res.Message))
	case sequence.StatusSuccess:
		h.Broadcaster.Broadcast("info", fmt.Sprintf("Step %d/%d done", res.Index, res.Total))
	default:
		h.Broadcaster.Broadcast("info", fmt.Sprintf("Sequence %s at %d/%d", res.Status, res.Index, res.Total))
	}
}

// HandleSequenceStop handles POST /sequence/stop. A move already sent completes.
func (h *Handlers) HandleSequenceStop(w http.ResponseWriter, r *http.Request) {
	h.Gateway.StopSequence()
	writeJSON(w, http.StatusOK, h.Gateway.SequenceProgress())
}

// HandleSequenceAdvance handles POST /sequence/advance. It blocks for the
// step's move and delay, then returns the step result.
func (h *Handlers) HandleSequenceAdvance(w http.ResponseWriter, r *http.Request) {
	res := h.Gateway.AdvanceSequence(r.Context())
	h.broadcastStep(res)
	writeJSON(w, http.StatusOK, res)
}

// HandleSequenceProgress handles GET /sequence/progress.
func (h *Handlers) HandleSequenceProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Gateway.SequenceProgress())
}

// ---------- persistence ----------

// HandleListPositions handles GET /positions.
func (h *Handlers) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Positions())
}

type savePositionRequest struct {
	Name string `json:"name"`
	motion.Request
}

// HandleSavePosition handles POST /positions. Without axis values the
// current position is saved.
func (h *Handlers) HandleSavePosition(w http.ResponseWriter, r *http.Request) {
	var req savePositionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("Position %d", len(h.Store.Positions())+1)
	}

	var p arm.Position
	if req.Arm1 == nil && req.Arm2 == nil && req.Base == nil {
		p = h.Gateway.LastPosition()
	} else {
		var err error
		if p, err = h.Gateway.Normalize(req.Request); err != nil {
			writeError(w, err)
			return
		}
	}

	np := store.NamedPosition{Name: req.Name, Position: p}
	if err := h.Store.SavePosition(np); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, np)
}

// HandleListSequences handles GET /sequences.
func (h *Handlers) HandleListSequences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Sequences())
}

// HandleSaveSequence handles POST /sequences.
func (h *Handlers) HandleSaveSequence(w http.ResponseWriter, r *http.Request) {
	var rec store.SequenceRecord
	if err := decode(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Store.SaveSequence(rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ---------- streaming ----------

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// current state first, so the page does not wait for the next transition
	if data, err := json.Marshal(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: "status", Status: ptr(h.Gateway.Status().Status)}); err == nil {
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func ptr[T any](v T) *T { return &v }
