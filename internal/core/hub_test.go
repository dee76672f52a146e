package core

import (
	"testing"
	"time"
)

// drainCount empties the channel for a short window and counts events
// matching kind and filter.
func drainCount(ch <-chan *Event, kind EventKind, match func(*Event) bool) int {
	count := 0
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind && (match == nil || match(ev)) {
				count++
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	return count
}

func TestHubPresenceSnapshotOnConnect(t *testing.T) {
	hub := startHub(t, newMemStore())

	alice := NewSession("a1", 16)
	alice.Bind(Identity{Username: "alice"})
	hub.RegisterSession(alice)

	snap := mustEvent(t, alice.Events(), EventPresenceSnapshot)
	if snap.Presence["alice"] != StatusOnline {
		t.Fatalf("snapshot missing the connecting user: %v", snap.Presence)
	}

	bob := connect(t, hub, "b1", "bob")
	_ = bob

	// Alice learns about bob going online, once.
	ev := mustEvent(t, alice.Events(), EventPresenceChanged)
	if ev.User != "bob" || ev.Status != StatusOnline {
		t.Fatalf("unexpected presence event: %+v", ev)
	}
}

func TestHubMultiDevicePresenceEdges(t *testing.T) {
	hub := startHub(t, newMemStore())

	bob := connect(t, hub, "b1", "bob")
	aliceS1 := connect(t, hub, "a1", "alice")
	mustEvent(t, bob.Events(), EventPresenceChanged) // alice online

	// Second device: no second online announcement.
	aliceS2 := connect(t, hub, "a2", "alice")
	if n := drainCount(bob.Events(), EventPresenceChanged, nil); n != 0 {
		t.Fatalf("second device produced %d presence events", n)
	}

	// First device leaves: alice is still online, no offline event.
	hub.UnregisterSession(aliceS1)
	if n := drainCount(bob.Events(), EventPresenceChanged, nil); n != 0 {
		t.Fatalf("non-final disconnect produced %d presence events", n)
	}

	// Last device leaves: exactly one offline event.
	hub.UnregisterSession(aliceS2)
	offline := func(ev *Event) bool { return ev.User == "alice" && ev.Status == StatusOffline }
	if n := drainCount(bob.Events(), EventPresenceChanged, offline); n != 1 {
		t.Fatalf("final disconnect produced %d offline events, want 1", n)
	}
}

func TestHubBroadcastReachesEverySession(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	aliceS1 := connect(t, hub, "a1", "alice")
	aliceS2 := connect(t, hub, "a2", "alice")
	bob := connect(t, hub, "b1", "bob")
	carol := connect(t, hub, "c1", "carol")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: aliceS1, Body: "hello everyone"})

	for _, s := range []*Session{aliceS1, aliceS2, bob, carol} {
		ev := mustEvent(t, s.Events(), EventChatMessage)
		if ev.Message.Body != "hello everyone" || !ev.Message.Broadcast() {
			t.Fatalf("unexpected message on %s: %+v", s.ID, ev.Message)
		}
		if ev.Message.ID == 0 || ev.Message.CreatedAt.IsZero() {
			t.Fatalf("message delivered without canonical id/timestamp: %+v", ev.Message)
		}
	}

	if ms.count() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", ms.count())
	}
}

func TestHubPrivateMessageScope(t *testing.T) {
	hub := startHub(t, newMemStore())

	aliceS1 := connect(t, hub, "a1", "alice")
	aliceS2 := connect(t, hub, "a2", "alice")
	bob := connect(t, hub, "b1", "bob")
	carol := connect(t, hub, "c1", "carol")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "hi", Recipient: "alice"})

	// Delivered to all of alice's devices and echoed to bob.
	for _, s := range []*Session{aliceS1, aliceS2, bob} {
		ev := mustEvent(t, s.Events(), EventChatMessage)
		if ev.Message.Sender != "bob" || ev.Message.Recipient != "alice" {
			t.Fatalf("unexpected message on %s: %+v", s.ID, ev.Message)
		}
	}

	// Carol is not a participant and sees nothing.
	mustNoEvent(t, carol.Events(), EventChatMessage)
}

func TestHubOfflineRecipientStillPersists(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	bob := connect(t, hub, "b1", "bob")
	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "see you", Recipient: "dave"})

	// No error; bob's own session still gets the echo.
	ev := mustEvent(t, bob.Events(), EventChatMessage)
	if ev.Message.Recipient != "dave" {
		t.Fatalf("unexpected echo: %+v", ev.Message)
	}
	if ms.count() != 1 {
		t.Fatalf("message to offline user not persisted")
	}
}

func TestHubRejectsEmptyMessage(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	bob := connect(t, hub, "b1", "bob")
	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob})

	ev := mustEvent(t, bob.Events(), EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", ev)
	}
	if ms.count() != 0 {
		t.Fatal("invalid message was persisted")
	}
}

func TestHubStoreFailureFailsFast(t *testing.T) {
	ms := newMemStore()
	ms.failAppend = true
	hub := startHub(t, ms)

	bob := connect(t, hub, "b1", "bob")
	alice := connect(t, hub, "a1", "alice")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "hi", Recipient: "alice"})

	ev := mustEvent(t, bob.Events(), EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeStoreFailure {
		t.Fatalf("expected store_error, got %+v", ev)
	}

	// Fan-out must not proceed on a failed append.
	mustNoEvent(t, alice.Events(), EventChatMessage)
}

func TestHubTypingDebounceAndExclusion(t *testing.T) {
	hub := startHub(t, newMemStore())

	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")

	for i := 0; i < 3; i++ {
		hub.Submit(&Command{Kind: CommandTyping, Session: alice})
	}

	if n := drainCount(bob.Events(), EventUserTyping, nil); n != 1 {
		t.Fatalf("three keystrokes produced %d typing events, want 1", n)
	}
	// The typer's own session never hears about it.
	mustNoEvent(t, alice.Events(), EventUserTyping)

	hub.Submit(&Command{Kind: CommandStopTyping, Session: alice})
	ev := mustEvent(t, bob.Events(), EventStopTyping)
	if ev.User != "alice" {
		t.Fatalf("unexpected stop typing event: %+v", ev)
	}

	// Typing again after stop re-triggers immediately, even mid-TTL.
	hub.Submit(&Command{Kind: CommandTyping, Session: alice})
	if n := drainCount(bob.Events(), EventUserTyping, nil); n != 1 {
		t.Fatalf("typing after stop produced %d events, want 1", n)
	}
}

func TestHubHistoryRepliesToRequesterOnly(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "hi", Recipient: "alice"})
	mustEvent(t, alice.Events(), EventChatMessage)
	mustEvent(t, bob.Events(), EventChatMessage)

	hub.Submit(&Command{Kind: CommandGetHistory, Session: alice, Peer: "bob"})

	ev := mustEvent(t, alice.Events(), EventHistory)
	if len(ev.Messages) != 1 || ev.Messages[0].Body != "hi" || ev.Peer != "bob" {
		t.Fatalf("unexpected history: %+v", ev)
	}
	mustNoEvent(t, bob.Events(), EventHistory)
}

func TestHubDeleteScopedToParticipants(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")
	carol := connect(t, hub, "c1", "carol")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "hi", Recipient: "alice"})
	sent := mustEvent(t, bob.Events(), EventChatMessage).Message
	mustEvent(t, alice.Events(), EventChatMessage)

	// A non-sender cannot delete: silently skipped, message survives.
	hub.Submit(&Command{Kind: CommandDeleteMessages, Session: alice, IDs: []int64{sent.ID}})
	ev := mustEvent(t, alice.Events(), EventMessagesDeleted)
	if len(ev.Deleted) != 0 {
		t.Fatalf("non-sender deleted messages: %v", ev.Deleted)
	}
	if ms.count() != 1 {
		t.Fatal("message vanished after unauthorized delete")
	}

	// The sender can; participants are notified, bystanders are not.
	hub.Submit(&Command{Kind: CommandDeleteMessages, Session: bob, IDs: []int64{sent.ID}})
	for _, s := range []*Session{alice, bob} {
		ev := mustEvent(t, s.Events(), EventMessagesDeleted)
		if len(ev.Deleted) != 1 || ev.Deleted[0] != sent.ID {
			t.Fatalf("unexpected delete event on %s: %+v", s.ID, ev)
		}
	}
	mustNoEvent(t, carol.Events(), EventMessagesDeleted)

	if ms.count() != 0 {
		t.Fatal("message still present after sender delete")
	}
}

func TestHubDeletedBroadcastNotifiesEveryone(t *testing.T) {
	ms := newMemStore()
	hub := startHub(t, ms)

	alice := connect(t, hub, "a1", "alice")
	bob := connect(t, hub, "b1", "bob")
	carol := connect(t, hub, "c1", "carol")

	hub.Submit(&Command{Kind: CommandSendMessage, Session: bob, Body: "to all"})
	sent := mustEvent(t, bob.Events(), EventChatMessage).Message

	hub.Submit(&Command{Kind: CommandDeleteMessages, Session: bob, IDs: []int64{sent.ID}})
	for _, s := range []*Session{alice, bob, carol} {
		ev := mustEvent(t, s.Events(), EventMessagesDeleted)
		if len(ev.Deleted) != 1 || ev.Deleted[0] != sent.ID {
			t.Fatalf("unexpected delete event on %s: %+v", s.ID, ev)
		}
	}
}
