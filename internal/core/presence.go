package core

import "sync"

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Registry maps usernames to their live sessions. A user may hold several
// sessions at once (multi-device); the user is online iff the set is
// non-empty. The went-online/went-offline decision is taken under the same
// lock as the set mutation, so concurrent connects and disconnects of the
// same user can never both observe themselves as the first or the last.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}
}

// NewRegistry constructs an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[*Session]struct{}),
	}
}

// Register adds a session to its user's set. Returns the resulting session
// count and whether the user just transitioned to online.
func (r *Registry) Register(s *Session) (count int, wentOnline bool) {
	user := s.Identity().Username

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[user]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessions[user] = set
	}
	if _, exists := set[s]; exists {
		return len(set), false
	}
	set[s] = struct{}{}
	return len(set), len(set) == 1
}

// Unregister removes a session from its user's set. Returns the remaining
// session count and whether the user just transitioned to offline.
// Unknown sessions are ignored.
func (r *Registry) Unregister(s *Session) (count int, wentOffline bool) {
	user := s.Identity().Username

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[user]
	if !ok {
		return 0, false
	}
	if _, exists := set[s]; !exists {
		return len(set), false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, user)
		return 0, true
	}
	return len(set), false
}

// SessionsFor returns the live sessions of a user. Offline or unknown
// users yield an empty slice, never an error.
func (r *Registry) SessionsFor(user string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[user]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// AllSessions returns every registered session.
func (r *Registry) AllSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, set := range r.sessions {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

// Online reports whether the user has at least one live session.
func (r *Registry) Online(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[user]) > 0
}

// Snapshot answers "who is online right now": a map of every online
// username to StatusOnline.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string]Status, len(r.sessions))
	for user, set := range r.sessions {
		if len(set) > 0 {
			snap[user] = StatusOnline
		}
	}
	return snap
}
