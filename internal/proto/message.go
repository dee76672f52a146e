package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeAuthenticate   = "authenticate"
	InboundTypeChatMessage    = "chatMessage"
	InboundTypeTyping         = "typing"
	InboundTypeStopTyping     = "stopTyping"
	InboundTypeGetHistory     = "getHistory"
	InboundTypeDeleteMessages = "deleteMessages"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventChatMessage      = "chatMessage"
	EventPresenceChanged  = "presenceChanged"
	EventPresenceSnapshot = "presenceSnapshot"
	EventUserTyping       = "userTyping"
	EventStopTyping       = "stopTyping"
	EventPreviousMessages = "previousMessages"
	EventMessagesDeleted  = "messagesDeleted"
)

// AuthenticateData carries the bearer credential presented at connection
// time.
type AuthenticateData struct {
	Token string `json:"token"`
}

// Attachment references uploaded media attached to a message.
type Attachment struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// ChatMessageData is a chat message from the client. An empty or "all"
// recipient addresses everyone.
type ChatMessageData struct {
	Body       string      `json:"body"`
	Recipient  string      `json:"recipient,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// GetHistoryData requests a conversation's history. An absent peer scopes
// the request to broadcast messages.
type GetHistoryData struct {
	Peer  string `json:"peer,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// DeleteMessagesData requests tombstoning of the sender's own messages.
type DeleteMessagesData struct {
	IDs []int64 `json:"ids"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is the canonical persisted message pushed to recipients.
type EventMessage struct {
	ID         int64       `json:"id"`
	Sender     string      `json:"sender"`
	Recipient  string      `json:"recipient"`
	Body       string      `json:"body,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  int64       `json:"createdAt"`
}

// EventPresence notifies that a user went online or offline.
type EventPresence struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// EventSnapshot delivers the current online set to a newly connected
// session.
type EventSnapshot struct {
	Users map[string]string `json:"users"`
}

// EventTyping names the user whose typing state changed.
type EventTyping struct {
	UserID string `json:"userId"`
}

// EventHistory delivers message history for one conversation scope.
type EventHistory struct {
	Peer     string         `json:"peer,omitempty"`
	Messages []EventMessage `json:"messages"`
}

// EventDeleted lists the ids of tombstoned messages.
type EventDeleted struct {
	IDs []int64 `json:"ids"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
