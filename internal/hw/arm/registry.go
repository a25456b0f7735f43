package arm

import (
	"errors"
	"sync"

	"github.com/cjeanneret/ScaraGo/internal/hw/serialport"
)

// Registry hands out one Session per serial address so every caller in the
// process shares the same busy gate and position cache.
type Registry struct {
	newTransport func() serialport.Transport

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry building transports with newTransport.
func NewRegistry(newTransport func() serialport.Transport) *Registry {
	return &Registry{
		newTransport: newTransport,
		sessions:     make(map[string]*Session),
	}
}

// Session returns the session for cfg.Address, creating it on first use.
// The config of later calls for the same address is ignored.
func (r *Registry) Session(cfg Config) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[cfg.Address]; ok {
		return s
	}
	s := NewSession(r.newTransport(), cfg)
	r.sessions[cfg.Address] = s
	return s
}

// CloseAll closes every session and forgets them.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
