// Package engine binds the connection registry and the three room managers
// behind a single event entry point. An Engine is not safe for concurrent
// use: the transport hub is its only caller and processes one event at a
// time, which is what keeps the managers lock free.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/chatrooms/internal/auth"
	"github.com/Tyrowin/chatrooms/internal/broadcast"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/matchmaking"
	"github.com/Tyrowin/chatrooms/internal/persistent"
	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/internal/session"
	"github.com/Tyrowin/chatrooms/internal/topic"
	"github.com/samber/lo"
)

// ErrUnknownEvent is returned by Handle for frames naming no known event.
var ErrUnknownEvent = errors.New("unknown event")

// Engine owns every registry of one chat server.
type Engine struct {
	sessions *session.Registry
	router   *broadcast.Router
	pairs    *matchmaking.Queue
	topics   *topic.Manager
	rooms    *persistent.Manager
	log      *slog.Logger
}

// New wires a fresh engine delivering frames through transport.
func New(transport broadcast.Transport, filter topic.Filter, store history.Store, log *slog.Logger) *Engine {
	sessions := session.NewRegistry()
	router := broadcast.NewRouter(transport, log.With("component", "router"))
	return &Engine{
		sessions: sessions,
		router:   router,
		pairs:    matchmaking.NewQueue(sessions, router, log.With("component", "matchmaking")),
		topics:   topic.NewManager(sessions, router, filter, log.With("component", "topic")),
		rooms:    persistent.NewManager(sessions, router, store, log.With("component", "persistent")),
		log:      log,
	}
}

// Connect registers a new connection, seeded with the verified identity when
// the transport authenticated it.
func (e *Engine) Connect(connID string, identity auth.Identity) {
	s := e.sessions.Connect(connID)
	s.SetIdentity(identity.UserID, identity.DisplayName)
	e.log.Debug("Connected", "conn_id", connID, "total", e.sessions.Len())
}

// Disconnect releases every membership held by connID, then forgets it.
// Calling it again for the same id does nothing.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	if _, ok := e.sessions.Get(connID); !ok {
		return
	}
	e.pairs.Disconnect(connID)
	e.topics.Disconnect(connID)
	e.rooms.Disconnect(ctx, connID)
	e.router.LeaveAll(connID)
	e.sessions.Remove(connID)
	e.log.Debug("Disconnected", "conn_id", connID, "total", e.sessions.Len())
}

// Handle decodes one inbound frame from connID and applies it. The returned
// error is for diagnostics only; nothing is sent back to the client.
func (e *Engine) Handle(ctx context.Context, connID string, raw []byte) error {
	s, ok := e.sessions.Get(connID)
	if !ok {
		return fmt.Errorf("frame from unknown connection %s", connID)
	}
	frame, err := protocol.Decode(raw)
	if err != nil {
		return err
	}

	switch frame.Event {
	case protocol.EventReadyForChat:
		var p protocol.ReadyForChat
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.pairs.RequestPairing(connID, p.User)

	case protocol.EventMessage:
		var p protocol.PairMessage
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.pairs.SendMessage(connID, p.RoomID, p.Text)

	case protocol.EventLeaveRoom:
		var p protocol.LeaveRoom
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		if s.PairRoom() == p.RoomID {
			e.pairs.Leave(connID, p.RoomID)
			return nil
		}
		e.rooms.Leave(ctx, connID, p.RoomID, p.UserID)

	case protocol.EventJoinGroup:
		var p protocol.JoinGroup
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.topics.Join(connID, p.Topic, p.User)

	case protocol.EventGroupMessage:
		var p protocol.GroupMessage
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		p.Sender = lo.CoalesceOrEmpty(p.Sender, s.DisplayName())
		e.topics.RelayMessage(connID, p)

	case protocol.EventTyping, protocol.EventStopTyping:
		var p protocol.TopicUser
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		if frame.Event == protocol.EventTyping {
			e.topics.Typing(connID, p.Topic, p.User)
		} else {
			e.topics.StopTyping(connID, p.Topic, p.User)
		}

	case protocol.EventLeaveGroup:
		var p protocol.TopicUser
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.topics.Leave(connID, p.Topic)

	case protocol.EventJoinRoom:
		var p protocol.JoinRoom
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		userID := lo.CoalesceOrEmpty(p.UserID, s.UserID())
		name := lo.CoalesceOrEmpty(p.UserName, s.DisplayName())
		e.rooms.Join(ctx, connID, p.RoomID, userID, name, p.IsAdmin)

	case protocol.EventSendMessage:
		var p protocol.SendMessage
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		sender := lo.CoalesceOrEmpty(p.Sender, s.DisplayName())
		userID := lo.CoalesceOrEmpty(p.UserID, s.UserID())
		e.rooms.SendMessage(ctx, p.RoomID, p.Message, sender, userID)

	case protocol.EventRemoveUser:
		var p protocol.RemoveUser
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.rooms.RemoveUser(ctx, p.RoomID, p.TargetUserID, p.AdminUserID)

	case protocol.EventEndMeeting:
		var p protocol.EndMeeting
		if err := protocol.Bind(frame, &p); err != nil {
			return err
		}
		e.rooms.EndMeeting(ctx, p.RoomID, p.AdminUserID)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}
	return nil
}

// Stats is a point-in-time view of the engine registries.
type Stats struct {
	Connections int `json:"connections"`
	Waiting     int `json:"waiting"`
	Pairs       int `json:"pairs"`
	Topics      int `json:"topics"`
	Rooms       int `json:"rooms"`
}

// Stats counts live connections, waiting users and open rooms of each kind.
func (e *Engine) Stats() Stats {
	return Stats{
		Connections: e.sessions.Len(),
		Waiting:     e.pairs.Waiting(),
		Pairs:       e.pairs.Rooms(),
		Topics:      e.topics.Rooms(),
		Rooms:       e.rooms.Rooms(),
	}
}

// Topics returns the topic manager. Like the engine itself it may only be
// used from the goroutine that drives Handle.
func (e *Engine) Topics() *topic.Manager { return e.topics }

// Rooms returns the persistent room manager, under the same rule as Topics.
func (e *Engine) Rooms() *persistent.Manager { return e.rooms }

// Session returns the session of connID.
func (e *Engine) Session(connID string) (*session.Session, bool) {
	return e.sessions.Get(connID)
}
