package store

import (
	"context"
	"errors"
	"time"
)

// RecipientBroadcast is the reserved recipient for messages addressed to
// everyone rather than a single user.
const RecipientBroadcast = "broadcast"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Attachment references an uploaded media object by its durable URL.
type Attachment struct {
	URL  string
	Kind string // image, video, audio or file
}

// Message represents a persisted chat message. Sender and Recipient are
// usernames; Recipient may be RecipientBroadcast.
type Message struct {
	ID         int64
	Sender     string
	Recipient  string
	Body       string
	Attachment *Attachment
	CreatedAt  time.Time
}

// Broadcast reports whether the message is addressed to everyone.
func (m *Message) Broadcast() bool {
	return m.Recipient == RecipientBroadcast
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserBySessionID retrieves a guest user by session ID.
	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)

	// ListUsernames returns every known username, registered and guest.
	ListUsernames(ctx context.Context) ([]string, error)

	// SearchUsers searches for registered users by username.
	SearchUsers(ctx context.Context, query string) ([]*User, error)
}

// MessageStore handles message persistence. Appends are linearized by the
// underlying database so Conversation observes a total order.
type MessageStore interface {
	// Append persists a message, assigning its id and server timestamp, and
	// returns the canonical stored record. A message is either fully
	// persisted or not persisted at all.
	Append(ctx context.Context, msg *Message) (*Message, error)

	// Conversation returns messages visible to userID in its conversation
	// with peer: every broadcast message plus messages sent between userID
	// and peer in either direction, ordered by creation time ascending.
	// An empty peer (or RecipientBroadcast) scopes to broadcasts only.
	Conversation(ctx context.Context, userID, peer string, limit int) ([]*Message, error)

	// Delete tombstones the given messages on behalf of requestedBy. Only
	// messages sent by requestedBy are deleted; the rest are silently
	// skipped. Returns the records that were actually tombstoned.
	Delete(ctx context.Context, ids []int64, requestedBy string) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
