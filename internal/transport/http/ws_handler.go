package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pingline/pingline-server/internal/auth"
	"github.com/pingline/pingline-server/internal/core"
	"github.com/pingline/pingline-server/internal/proto"
)

// authDeadline bounds how long an unauthenticated connection may sit
// waiting for its credential frame.
const authDeadline = 5 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	hub           *core.Hub
	authService   *auth.Service
	sessionBuffer int
	log           *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, sessionBuffer int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:           hub,
		authService:   authService,
		sessionBuffer: sessionBuffer,
		log:           logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	session := core.NewSession(uuid.NewString(), h.sessionBuffer)

	// The credential comes either as a ?token= query parameter (the way
	// browser clients connect) or as a first authenticate frame. Either
	// way the connection is rejected before any registry mutation.
	identity, protoErr := h.authenticate(ctx, conn, r.URL.Query().Get("token"))
	if protoErr != nil {
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr})
		conn.Close(websocket.StatusPolicyViolation, protoErr.Code)
		return
	}
	if !session.Bind(identity) {
		conn.Close(websocket.StatusInternalError, "session state")
		return
	}

	h.hub.RegisterSession(session)
	defer h.hub.UnregisterSession(session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("session_id", session.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate resolves the connection's credential into an identity, or
// a wire error that is fatal to this connection attempt.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn, token string) (core.Identity, *proto.Error) {
	if token == "" {
		ctx, cancel := context.WithTimeout(ctx, authDeadline)
		defer cancel()

		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return core.Identity{}, &proto.Error{Code: "auth_missing", Msg: "credential required"}
		}
		if inbound.Type != proto.InboundTypeAuthenticate {
			return core.Identity{}, &proto.Error{Code: "auth_missing", Msg: "authenticate frame expected"}
		}
		var data proto.AuthenticateData
		if err := unmarshalData(inbound.Data, &data); err != nil {
			return core.Identity{}, &proto.Error{Code: "auth_invalid", Msg: "malformed authenticate frame"}
		}
		token = data.Token
	}

	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws credential rejected")
		return core.Identity{}, authErrorToProto(err)
	}

	return core.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		IsGuest:  claims.IsGuest,
	}, nil
}

func authErrorToProto(err error) *proto.Error {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return &proto.Error{Code: "auth_missing", Msg: "credential required"}
	case errors.Is(err, auth.ErrTokenExpired):
		return &proto.Error{Code: "auth_expired", Msg: "credential expired"}
	default:
		return &proto.Error{Code: "auth_invalid", Msg: "credential rejected"}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(session, inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to map inbound")
			return err
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd != nil {
			h.hub.Submit(cmd)
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case event := <-session.Events():
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("session_id", session.ID).Msg("write ws event")
				return err
			}
		case <-session.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
