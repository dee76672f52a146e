package core

import "github.com/pingline/pingline-server/internal/store"

// CommandKind describes what a session wants to do.
type CommandKind int

const (
	// CommandSendMessage routes a chat message to its recipients.
	CommandSendMessage CommandKind = iota
	// CommandTyping marks the session's user as typing.
	CommandTyping
	// CommandStopTyping clears the session's user typing state.
	CommandStopTyping
	// CommandGetHistory requests message history for a conversation.
	CommandGetHistory
	// CommandDeleteMessages tombstones the user's own messages.
	CommandDeleteMessages
)

// Command represents an action requested by a session. The sender identity
// is always taken from Session, never from client-supplied payload fields.
type Command struct {
	Kind    CommandKind
	Session *Session

	// CommandSendMessage
	Body       string
	Recipient  string
	Attachment *store.Attachment

	// CommandGetHistory
	Peer  string
	Limit int

	// CommandDeleteMessages
	IDs []int64
}
