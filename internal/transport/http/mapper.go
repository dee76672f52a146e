package http

import (
	"encoding/json"
	"fmt"

	"github.com/pingline/pingline-server/internal/core"
	"github.com/pingline/pingline-server/internal/proto"
	"github.com/pingline/pingline-server/internal/store"
)

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty data payload")
	}
	return json.Unmarshal(data, v)
}

func inboundToCommand(session *core.Session, inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeAuthenticate:
		// Already authenticated; a repeated frame is a no-op.
		return nil, nil, nil

	case proto.InboundTypeChatMessage:
		var msg proto.ChatMessageData
		if err := unmarshalData(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		if msg.Body == "" && msg.Attachment == nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "body or attachment is required"}, nil
		}
		cmd := &core.Command{
			Kind:      core.CommandSendMessage,
			Session:   session,
			Body:      msg.Body,
			Recipient: msg.Recipient,
		}
		if msg.Attachment != nil {
			cmd.Attachment = &store.Attachment{URL: msg.Attachment.URL, Kind: msg.Attachment.Kind}
		}
		return cmd, nil, nil

	case proto.InboundTypeTyping:
		return &core.Command{Kind: core.CommandTyping, Session: session}, nil, nil

	case proto.InboundTypeStopTyping:
		return &core.Command{Kind: core.CommandStopTyping, Session: session}, nil, nil

	case proto.InboundTypeGetHistory:
		var hist proto.GetHistoryData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &hist); err != nil {
				return nil, nil, err
			}
		}
		return &core.Command{
			Kind:    core.CommandGetHistory,
			Session: session,
			Peer:    hist.Peer,
			Limit:   hist.Limit,
		}, nil, nil

	case proto.InboundTypeDeleteMessages:
		var del proto.DeleteMessagesData
		if err := unmarshalData(inbound.Data, &del); err != nil {
			return nil, nil, err
		}
		if len(del.IDs) == 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "ids are required"}, nil
		}
		return &core.Command{
			Kind:    core.CommandDeleteMessages,
			Session: session,
			IDs:     del.IDs,
		}, nil, nil

	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func messageToProto(msg *store.Message) proto.EventMessage {
	out := proto.EventMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt.Unix(),
	}
	if msg.Attachment != nil {
		out.Attachment = &proto.Attachment{URL: msg.Attachment.URL, Kind: msg.Attachment.Kind}
	}
	return out
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventChatMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChatMessage,
			Data:  messageToProto(event.Message),
		}

	case core.EventPresenceChanged:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresenceChanged,
			Data: proto.EventPresence{
				UserID: event.User,
				Status: string(event.Status),
			},
		}

	case core.EventPresenceSnapshot:
		users := make(map[string]string, len(event.Presence))
		for user, status := range event.Presence {
			users[user] = string(status)
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresenceSnapshot,
			Data:  proto.EventSnapshot{Users: users},
		}

	case core.EventUserTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserTyping,
			Data:  proto.EventTyping{UserID: event.User},
		}

	case core.EventStopTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventStopTyping,
			Data:  proto.EventTyping{UserID: event.User},
		}

	case core.EventHistory:
		messages := make([]proto.EventMessage, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messageToProto(msg))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPreviousMessages,
			Data:  proto.EventHistory{Peer: event.Peer, Messages: messages},
		}

	case core.EventMessagesDeleted:
		ids := event.Deleted
		if ids == nil {
			ids = []int64{}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessagesDeleted,
			Data:  proto.EventDeleted{IDs: ids},
		}

	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}

	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
