package ws

import (
	"sync"
)

// Registry tracks live sessions per user and device. A reconnect from
// the same device replaces the previous session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.UserID] == nil {
		r.sessions[s.UserID] = make(map[string]*Session)
	}

	if old, ok := r.sessions[s.UserID][s.DeviceID]; ok {
		// The replaced session's read loop will call Remove later; the
		// identity check there keeps it from evicting the new session.
		old.CloseWithReason(4000, "session_replaced")
	}

	r.sessions[s.UserID][s.DeviceID] = s
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if devices, ok := r.sessions[s.UserID]; ok {
		if current, ok := devices[s.DeviceID]; ok && current.ID == s.ID {
			delete(devices, s.DeviceID)
			if len(devices) == 0 {
				delete(r.sessions, s.UserID)
			}
		}
	}
}

func (r *Registry) UserSessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Session
	for _, s := range r.sessions[userID] {
		result = append(result, s)
	}
	return result
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, devices := range r.sessions {
		for _, s := range devices {
			s.Close()
		}
	}
}
