package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/pingline/pingline-server/internal/core"
	"github.com/pingline/pingline-server/internal/store"
)

// UserHandlers serves the user directory: every known identity, annotated
// with live presence, minus the requester.
type UserHandlers struct {
	users    store.UserStore
	presence *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(users store.UserStore, presence *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users:    users,
		presence: presence,
		log:      logger,
	}
}

// DirectoryEntry is one row of the user directory.
type DirectoryEntry struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// ListUsers returns the contact list for the authenticated user. With a
// ?q= filter only registered users whose name matches are returned.
// GET /api/users
func (h *UserHandlers) ListUsers(c *gin.Context) {
	requester := c.GetString(ContextKeyUsername)

	names, err := h.usernames(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	snapshot := h.presence.Snapshot()
	entries := lo.FilterMap(names, func(name string, _ int) (DirectoryEntry, bool) {
		if name == requester {
			return DirectoryEntry{}, false
		}
		status := core.StatusOffline
		if s, ok := snapshot[name]; ok {
			status = s
		}
		return DirectoryEntry{Username: name, Status: string(status)}, true
	})

	c.JSON(http.StatusOK, gin.H{"users": entries})
}

func (h *UserHandlers) usernames(ctx context.Context, query string) ([]string, error) {
	if query == "" {
		return h.users.ListUsernames(ctx)
	}
	matches, err := h.users.SearchUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	return lo.Map(matches, func(u *store.User, _ int) string {
		return u.Username
	}), nil
}
