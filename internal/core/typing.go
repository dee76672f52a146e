package core

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays live without a
// refresh.
const DefaultTypingTTL = 3 * time.Second

// Typing tracks ephemeral per-user typing state. Entries expire lazily
// against the clock; absence means "not typing". MarkTyping debounces:
// repeated keystrokes inside one TTL window coalesce into a single edge.
type Typing struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	expiry map[string]time.Time
}

// NewTyping constructs a typing coordinator with the given TTL.
func NewTyping(ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typing{
		ttl:    ttl,
		now:    time.Now,
		expiry: make(map[string]time.Time),
	}
}

// MarkTyping sets or refreshes the user's typing expiry. Returns true only
// when the user was not already typing, i.e. on the edge that warrants a
// broadcast.
func (t *Typing) MarkTyping(user string) (started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	exp, ok := t.expiry[user]
	t.expiry[user] = now.Add(t.ttl)
	return !ok || !exp.After(now)
}

// MarkStopped clears the user's typing state immediately, even mid-TTL.
// Returns true if the user was typing.
func (t *Typing) MarkStopped(user string) (stopped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.expiry[user]
	if !ok {
		return false
	}
	delete(t.expiry, user)
	return exp.After(t.now())
}

// IsTyping reports whether the user's typing entry is still live.
func (t *Typing) IsTyping(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	exp, ok := t.expiry[user]
	if !ok {
		return false
	}
	if !exp.After(t.now()) {
		delete(t.expiry, user)
		return false
	}
	return true
}
