package session

import (
	"sync"

	"github.com/vocalis-ai/vocalis/pkg/Logger"
)

// Registry tracks live sessions by session id. One per server process,
// injected into every component that needs session lookup.
type Registry struct {
	logger *Logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(logger *Logger.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.logger.Debugf("session registered: %s", s.ID)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ByDevice returns the session currently attached to a device id, if any.
func (r *Registry) ByDevice(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if d := s.Device(); d != nil && d.DeviceID == deviceID {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close tears down and deregisters a session. Closing twice, or closing an
// unknown id, is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	r.logger.Debugf("session closed: %s", id)
}

// CloseAll tears down every live session. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	r.logger.Infof("closed %d sessions", len(all))
}
