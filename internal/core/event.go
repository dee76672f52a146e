package core

import "github.com/pingline/pingline-server/internal/store"

// EventKind is a notification the core emits to sessions.
type EventKind int

const (
	// EventChatMessage carries a persisted chat message to its recipients.
	EventChatMessage EventKind = iota
	// EventPresenceChanged notifies that a user went online or offline.
	EventPresenceChanged
	// EventPresenceSnapshot delivers the current online set to one session.
	EventPresenceSnapshot
	// EventUserTyping notifies that a user started typing.
	EventUserTyping
	// EventStopTyping notifies that a user stopped typing.
	EventStopTyping
	// EventHistory delivers message history to the requesting session.
	EventHistory
	// EventMessagesDeleted notifies that messages were tombstoned.
	EventMessagesDeleted
	// EventError notifies a session about a domain error.
	EventError
)

// Event is sent to sessions to describe what happened in the system.
type Event struct {
	Kind     EventKind
	User     string            // subject of presence/typing events
	Status   Status            // for EventPresenceChanged
	Presence map[string]Status // for EventPresenceSnapshot
	Message  *store.Message    // for EventChatMessage
	Messages []*store.Message  // for EventHistory
	Peer     string            // conversation scope of EventHistory
	Deleted  []int64           // for EventMessagesDeleted
	Error    *CoreError        // for EventError
}
