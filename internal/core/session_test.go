package core

import "testing"

func TestSessionLifecycle(t *testing.T) {
	s := NewSession("s1", 0)
	if s.State() != StateConnecting {
		t.Fatalf("new session state = %v", s.State())
	}

	// Activation before authentication is not a legal transition.
	if s.Activate() {
		t.Fatal("activated without identity")
	}

	if !s.Bind(Identity{UserID: 1, Username: "alice"}) {
		t.Fatal("bind failed")
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("state after bind = %v", s.State())
	}
	if s.Bind(Identity{Username: "mallory"}) {
		t.Fatal("identity rebound after authentication")
	}
	if s.Identity().Username != "alice" {
		t.Fatalf("identity = %q", s.Identity().Username)
	}

	if !s.Activate() {
		t.Fatal("activate failed")
	}
	if s.State() != StateActive {
		t.Fatalf("state after activate = %v", s.State())
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession("s1", 0)
	s.Bind(Identity{Username: "alice"})
	s.Activate()

	s.Close()
	s.Close() // second close must be ignored
	if s.State() != StateClosed {
		t.Fatalf("state after close = %v", s.State())
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}

	// Events to a closed session are discarded.
	s.Deliver(&Event{Kind: EventUserTyping, User: "bob"})
	select {
	case ev := <-s.Events():
		t.Fatalf("closed session accepted event %+v", ev)
	default:
	}
}

func TestSessionDeliverDropsOldestWhenFull(t *testing.T) {
	s := NewSession("s1", 2)
	s.Bind(Identity{Username: "alice"})
	s.Activate()

	first := &Event{Kind: EventUserTyping, User: "u1"}
	second := &Event{Kind: EventUserTyping, User: "u2"}
	third := &Event{Kind: EventUserTyping, User: "u3"}

	s.Deliver(first)
	s.Deliver(second)
	s.Deliver(third) // queue full: first is shed

	got := <-s.Events()
	if got != second {
		t.Fatalf("expected oldest surviving event %q, got %q", second.User, got.User)
	}
	got = <-s.Events()
	if got != third {
		t.Fatalf("expected newest event %q, got %q", third.User, got.User)
	}
}
