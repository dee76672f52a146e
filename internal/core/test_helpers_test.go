package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pingline/pingline-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent drains for a short window and fails if an event of the given
// kind shows up.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// memStore is an in-memory store.MessageStore mirroring the SQLite
// semantics: server-assigned ids and timestamps, conversation scoping,
// sender-only tombstones.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	messages   []*store.Message
	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) Append(_ context.Context, msg *store.Message) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppend {
		return nil, fmt.Errorf("append: disk full")
	}

	m.nextID++
	stored := *msg
	stored.ID = m.nextID
	stored.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, &stored)
	return &stored, nil
}

func (m *memStore) Conversation(_ context.Context, userID, peer string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Message
	for _, msg := range m.messages {
		switch {
		case msg.Broadcast():
			out = append(out, msg)
		case peer == "" || peer == store.RecipientBroadcast:
		case msg.Sender == userID && msg.Recipient == peer:
			out = append(out, msg)
		case msg.Sender == peer && msg.Recipient == userID:
			out = append(out, msg)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, ids []int64, requestedBy string) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var deleted []*store.Message
	var kept []*store.Message
	for _, msg := range m.messages {
		if _, ok := wanted[msg.ID]; ok && msg.Sender == requestedBy {
			deleted = append(deleted, msg)
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// startHub runs a hub over the given store and stops it with the test.
func startHub(t *testing.T, messages store.MessageStore) *Hub {
	t.Helper()

	hub := NewHub(messages, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// connect binds an identity to a fresh session and registers it, waiting
// for the presence snapshot that confirms registration.
func connect(t *testing.T, hub *Hub, id, user string) *Session {
	t.Helper()

	s := NewSession(id, 16)
	if !s.Bind(Identity{Username: user}) {
		t.Fatalf("bind failed for %s", user)
	}
	hub.RegisterSession(s)
	mustEvent(t, s.Events(), EventPresenceSnapshot)
	return s
}
