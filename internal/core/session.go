package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int32

const (
	// StateConnecting means the transport is up but no identity is bound.
	StateConnecting SessionState = iota
	// StateAuthenticated means the credential was verified.
	StateAuthenticated
	// StateActive means the session is registered and routing events.
	StateActive
	// StateClosed is terminal.
	StateClosed
)

// DefaultSessionBuffer bounds the per-session outbound queue.
const DefaultSessionBuffer = 32

// Session binds one live connection to an identity. Outbound events are
// queued on a bounded channel; when the queue is full the oldest event is
// dropped so a slow consumer never back-pressures the routing loop.
type Session struct {
	ID          string
	ConnectedAt time.Time

	identity Identity
	state    atomic.Int32

	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session in the Connecting state.
func NewSession(id string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSessionBuffer
	}
	return &Session{
		ID:          id,
		ConnectedAt: time.Now(),
		events:      make(chan *Event, buffer),
		done:        make(chan struct{}),
	}
}

// Bind attaches a verified identity, moving Connecting -> Authenticated.
func (s *Session) Bind(identity Identity) bool {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return false
	}
	s.identity = identity
	return true
}

// Activate moves Authenticated -> Active once the session is registered.
func (s *Session) Activate() bool {
	return s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// Identity returns the bound identity. Zero value before Bind.
func (s *Session) Identity() Identity {
	return s.identity
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Events is the outbound queue drained by the transport write loop.
func (s *Session) Events() <-chan *Event {
	return s.events
}

// Deliver queues an event without blocking. If the queue is full the
// oldest pending event is dropped to make room. Events to a closed
// session are discarded.
func (s *Session) Deliver(ev *Event) {
	if s.State() == StateClosed {
		return
	}
	select {
	case s.events <- ev:
		return
	default:
	}
	// Queue full: shed the oldest entry, then try once more.
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Close marks the session terminal. Idempotent: repeated close signals
// are ignored.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
