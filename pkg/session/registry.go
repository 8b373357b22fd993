package session

import (
	"log/slog"
	"sync"

	"github.com/voxa-ai/voxa/pkg/logging"
)

// Registry tracks live sessions by participant identity. One participant
// owns at most one session; registering a replacement closes the old one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logging.NewComponentLogger(slog.Default(), "session_registry"),
	}
}

// Add registers a session for a participant, closing any previous one.
func (r *Registry) Add(participant string, s *Session) {
	r.mu.Lock()
	old := r.sessions[participant]
	r.sessions[participant] = s
	r.mu.Unlock()
	if old != nil {
		r.logger.Warn("replacing live session", slog.String("participant", participant))
		_ = old.Close()
	}
}

// Get returns the participant's session, or nil.
func (r *Registry) Get(participant string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[participant]
}

// Remove unregisters and closes the participant's session, if any.
func (r *Registry) Remove(participant string) error {
	r.mu.Lock()
	s := r.sessions[participant]
	delete(r.sessions, participant)
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every session. Used on engine shutdown; failures are
// logged, not returned, so one stuck session cannot skip the rest.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		if err := s.Close(); err != nil {
			r.logger.Warn("session close", slog.String("error", err.Error()))
		}
	}
}
