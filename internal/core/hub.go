package core

import (
	"context"
	"time"

	"github.com/pingline/pingline-server/internal/store"
	"github.com/rs/zerolog"
)

// storeTimeout bounds every persistence call so a degraded store fails the
// send instead of hanging the routing loop.
const storeTimeout = 5 * time.Second

// defaultHistoryLimit caps history replies when the client does not ask
// for a specific window.
const defaultHistoryLimit = 100

// Hub is the routing engine: a single goroutine that owns session
// registration, presence edges, typing broadcasts and message fan-out.
// All mutations flow through its Run loop, so routing decisions are
// serialized.
type Hub struct {
	log      zerolog.Logger
	messages store.MessageStore
	presence *Registry
	typing   *Typing

	register     chan *Session
	unregister   chan *Session
	commands     chan *Command
	historyLimit int
}

// NewHub creates a hub over the given message store. A nil logger is
// replaced with a no-op one.
func NewHub(messages store.MessageStore, typingTTL time.Duration, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:          *logger,
		messages:     messages,
		presence:     NewRegistry(),
		typing:       NewTyping(typingTTL),
		register:     make(chan *Session, 8),
		unregister:   make(chan *Session, 8),
		commands:     make(chan *Command, 64),
		historyLimit: defaultHistoryLimit,
	}
}

// SetHistoryLimit overrides the default cap on history replies.
func (h *Hub) SetHistoryLimit(limit int) {
	if limit > 0 {
		h.historyLimit = limit
	}
}

// Presence exposes the registry for read-only consumers (user directory).
func (h *Hub) Presence() *Registry {
	return h.presence
}

// RegisterSession hands an authenticated session to the routing loop.
func (h *Hub) RegisterSession(s *Session) {
	h.register <- s
}

// UnregisterSession removes a session from the routing loop. Safe to call
// for sessions that were never registered or are already gone.
func (h *Hub) UnregisterSession(s *Session) {
	h.unregister <- s
}

// Submit queues a command for the routing loop.
func (h *Hub) Submit(cmd *Command) {
	h.commands <- cmd
}

// Run processes registrations and commands until the context is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, cmd *Command) {
	if cmd.Session == nil || cmd.Session.State() != StateActive {
		return
	}
	switch cmd.Kind {
	case CommandSendMessage:
		h.handleSendMessage(ctx, cmd)
	case CommandTyping:
		h.handleTyping(cmd.Session)
	case CommandStopTyping:
		h.handleStopTyping(cmd.Session)
	case CommandGetHistory:
		h.handleGetHistory(ctx, cmd)
	case CommandDeleteMessages:
		h.handleDeleteMessages(ctx, cmd)
	}
}

func (h *Hub) handleRegister(s *Session) {
	if !s.Activate() {
		return
	}
	user := s.Identity().Username

	count, wentOnline := h.presence.Register(s)
	h.log.Info().
		Str("user", user).
		Str("session_id", s.ID).
		Int("sessions", count).
		Msg("session registered")

	// The new session alone gets the current online set.
	s.Deliver(&Event{Kind: EventPresenceSnapshot, Presence: h.presence.Snapshot()})

	if wentOnline {
		h.broadcast(&Event{Kind: EventPresenceChanged, User: user, Status: StatusOnline}, "")
	}
}

func (h *Hub) handleUnregister(s *Session) {
	count, wentOffline := h.presence.Unregister(s)
	s.Close()

	user := s.Identity().Username
	if user == "" {
		return
	}

	h.log.Info().
		Str("user", user).
		Str("session_id", s.ID).
		Int("sessions", count).
		Msg("session unregistered")

	if !wentOffline {
		return
	}

	// A user who vanished mid-keystroke should not stay "typing" forever.
	if h.typing.MarkStopped(user) {
		h.broadcast(&Event{Kind: EventStopTyping, User: user}, user)
	}
	h.broadcast(&Event{Kind: EventPresenceChanged, User: user, Status: StatusOffline}, "")
}

func (h *Hub) handleSendMessage(ctx context.Context, cmd *Command) {
	sender := cmd.Session.Identity().Username

	if cmd.Body == "" && cmd.Attachment == nil {
		cmd.Session.Deliver(&Event{
			Kind:  EventError,
			Error: coreError(ErrCodeBadRequest, "message body or attachment required"),
		})
		return
	}

	recipient := cmd.Recipient
	if recipient == "" || recipient == "all" {
		recipient = store.RecipientBroadcast
	}

	// Persist first, always: recipients and the store must agree on order.
	msg := &store.Message{
		Sender:     sender,
		Recipient:  recipient,
		Body:       cmd.Body,
		Attachment: cmd.Attachment,
	}
	stored, err := h.append(ctx, msg)
	if err != nil {
		h.log.Error().Err(err).Str("user", sender).Msg("append message")
		cmd.Session.Deliver(&Event{
			Kind:  EventError,
			Error: coreError(ErrCodeStoreFailure, "message could not be saved"),
		})
		return
	}

	ev := &Event{Kind: EventChatMessage, Message: stored}
	for _, target := range h.resolveTargets(stored) {
		target.Deliver(ev)
	}
}

// resolveTargets picks the sessions a stored message fans out to.
// Broadcasts reach every registered session, the sender's other devices
// included. Private messages reach both participants' sessions; an
// offline recipient simply yields no targets there, which is not an
// error — the message is already persisted for their next connect.
func (h *Hub) resolveTargets(msg *store.Message) []*Session {
	if msg.Broadcast() {
		return h.presence.AllSessions()
	}

	seen := make(map[*Session]struct{})
	var targets []*Session
	for _, s := range h.presence.SessionsFor(msg.Recipient) {
		seen[s] = struct{}{}
		targets = append(targets, s)
	}
	for _, s := range h.presence.SessionsFor(msg.Sender) {
		if _, ok := seen[s]; !ok {
			targets = append(targets, s)
		}
	}
	return targets
}

func (h *Hub) handleTyping(s *Session) {
	user := s.Identity().Username
	if h.typing.MarkTyping(user) {
		h.broadcast(&Event{Kind: EventUserTyping, User: user}, user)
	}
}

func (h *Hub) handleStopTyping(s *Session) {
	user := s.Identity().Username
	if h.typing.MarkStopped(user) {
		h.broadcast(&Event{Kind: EventStopTyping, User: user}, user)
	}
}

func (h *Hub) handleGetHistory(ctx context.Context, cmd *Command) {
	user := cmd.Session.Identity().Username

	limit := cmd.Limit
	if limit <= 0 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	messages, err := h.conversation(ctx, user, cmd.Peer, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Str("peer", cmd.Peer).Msg("load history")
		cmd.Session.Deliver(&Event{
			Kind:  EventError,
			Error: coreError(ErrCodeStoreFailure, "history could not be loaded"),
		})
		return
	}

	cmd.Session.Deliver(&Event{Kind: EventHistory, Messages: messages, Peer: cmd.Peer})
}

func (h *Hub) handleDeleteMessages(ctx context.Context, cmd *Command) {
	user := cmd.Session.Identity().Username

	deleted, err := h.delete(ctx, cmd.IDs, user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("delete messages")
		cmd.Session.Deliver(&Event{
			Kind:  EventError,
			Error: coreError(ErrCodeStoreFailure, "messages could not be deleted"),
		})
		return
	}

	ids := make([]int64, 0, len(deleted))
	for _, msg := range deleted {
		ids = append(ids, msg.ID)
	}
	ev := &Event{Kind: EventMessagesDeleted, Deleted: ids}

	if len(deleted) == 0 {
		// Nothing was deletable by this user; tell only the requester.
		cmd.Session.Deliver(ev)
		return
	}

	for _, target := range h.deletionAudience(cmd.Session, deleted) {
		target.Deliver(ev)
	}
}

// deletionAudience scopes a messagesDeleted broadcast to the participants
// of the affected conversations plus the requester's own sessions. A
// deleted broadcast message widens the audience to everyone.
func (h *Hub) deletionAudience(requester *Session, deleted []*store.Message) []*Session {
	for _, msg := range deleted {
		if msg.Broadcast() {
			return h.presence.AllSessions()
		}
	}

	seen := make(map[*Session]struct{})
	var targets []*Session
	add := func(sessions []*Session) {
		for _, s := range sessions {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				targets = append(targets, s)
			}
		}
	}
	add([]*Session{requester})
	for _, msg := range deleted {
		add(h.presence.SessionsFor(msg.Sender))
		add(h.presence.SessionsFor(msg.Recipient))
	}
	return targets
}

// broadcast delivers an event to every registered session, except the
// sessions of exclude when set. Delivery is per-target and non-blocking,
// so one dead connection never aborts fan-out to the rest.
func (h *Hub) broadcast(ev *Event, exclude string) {
	for _, s := range h.presence.AllSessions() {
		if exclude != "" && s.Identity().Username == exclude {
			continue
		}
		s.Deliver(ev)
	}
}

func (h *Hub) append(ctx context.Context, msg *store.Message) (*store.Message, error) {
	if h.messages == nil {
		return nil, errNoStore
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return h.messages.Append(ctx, msg)
}

func (h *Hub) conversation(ctx context.Context, user, peer string, limit int) ([]*store.Message, error) {
	if h.messages == nil {
		return nil, errNoStore
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return h.messages.Conversation(ctx, user, peer, limit)
}

func (h *Hub) delete(ctx context.Context, ids []int64, requestedBy string) ([]*store.Message, error) {
	if h.messages == nil {
		return nil, errNoStore
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return h.messages.Delete(ctx, ids, requestedBy)
}
