// Package topic manages many-to-many rooms keyed by a topic string. Rooms
// keep a live roster only; messages are relayed, never stored.
package topic

import (
	"log/slog"
	"strings"

	"github.com/Tyrowin/chatrooms/internal/broadcast"
	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/internal/session"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Predefined lists the built-in topics. They bypass the custom topic filter.
var Predefined = []string{
	"coding", "music", "travel", "photography", "books", "coffee",
	"gaming", "art", "movies", "sports", "culture", "general",
}

// Normalize trims and lower-cases topic and joins inner whitespace with
// dashes, so "Cooking  Recipes" and "cooking-recipes" name the same room.
func Normalize(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), "-")
}

type member struct {
	connID string
	user   protocol.UserInfo
}

// room is the single source of truth for a topic roster.
type room struct {
	members []member
}

func (r *room) indexOf(connID string) int {
	_, idx, _ := lo.FindIndexOf(r.members, func(m member) bool { return m.connID == connID })
	return idx
}

// Manager owns every topic room.
type Manager struct {
	sessions   *session.Registry
	router     *broadcast.Router
	filter     Filter
	predefined map[string]struct{}
	rooms      map[string]*room
	log        *slog.Logger
}

// NewManager returns a Manager screening custom topics with filter.
func NewManager(sessions *session.Registry, router *broadcast.Router, filter Filter, log *slog.Logger) *Manager {
	predefined := make(map[string]struct{}, len(Predefined))
	for _, t := range Predefined {
		predefined[t] = struct{}{}
	}
	return &Manager{
		sessions:   sessions,
		router:     router,
		filter:     filter,
		predefined: predefined,
		rooms:      make(map[string]*room),
		log:        log,
	}
}

// Accepts reports whether topic may be joined.
func (m *Manager) Accepts(topic string) bool {
	t := Normalize(topic)
	if t == "" {
		return false
	}
	if _, ok := m.predefined[t]; ok {
		return true
	}
	return m.filter == nil || m.filter.Allowed(t)
}

// Join adds connID to topic, announcing the arrival and the new roster to
// the whole room, joiner included.
func (m *Manager) Join(connID, topic string, user protocol.UserInfo) {
	t := Normalize(topic)
	if !m.Accepts(t) {
		m.log.Warn("Topic rejected", "conn_id", connID, "topic", topic)
		return
	}

	s, ok := m.sessions.Get(connID)
	if !ok {
		return
	}
	if current := s.TopicRoom(); current != "" {
		if current == t {
			m.log.Debug("Already joined", "conn_id", connID, "topic", t)
			return
		}
		m.leave(connID, current)
	}
	if user.ID == "" {
		user.ID = lo.CoalesceOrEmpty(s.UserID(), user.Name)
	}
	s.SetIdentity(user.ID, user.Name)

	r, ok := m.rooms[t]
	if !ok {
		r = &room{}
		m.rooms[t] = r
	}
	r.members = append(r.members, member{connID: connID, user: user})
	s.EnterTopic(t)
	key := broadcast.TopicKey(t)
	m.router.Join(key, connID)
	m.log.Info("Joined topic", "conn_id", connID, "name", user.Name, "topic", t, "members", len(r.members))

	m.router.Emit(key, protocol.EventUserJoined, protocol.Presence{
		User:      user,
		Timestamp: protocol.Now(),
		MessageID: "join-" + uuid.NewString(),
	})
	m.router.Emit(key, protocol.EventOnlineUsers, m.Roster(t))
}

// RelayMessage broadcasts a chat line to the whole room, sender included.
// Clients drop their own echo by messageID.
func (m *Manager) RelayMessage(connID string, msg protocol.GroupMessage) {
	t := Normalize(msg.Topic)
	if !m.isMember(t, connID) {
		m.log.Debug("Group message from non-member", "conn_id", connID, "topic", t)
		return
	}
	out := protocol.GroupText{
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: lo.CoalesceOrEmpty(msg.Timestamp, protocol.Now()),
		MessageID: lo.CoalesceOrEmpty(msg.MessageID, "msg-"+uuid.NewString()),
	}
	m.router.Emit(broadcast.TopicKey(t), protocol.EventGroupMessage, out)
}

// Typing tells the other members that user is typing.
func (m *Manager) Typing(connID, topic string, user protocol.UserInfo) {
	m.relayTyping(connID, topic, protocol.EventUserTyping, user)
}

// StopTyping tells the other members that user stopped typing.
func (m *Manager) StopTyping(connID, topic string, user protocol.UserInfo) {
	m.relayTyping(connID, topic, protocol.EventUserStoppedTyping, user)
}

func (m *Manager) relayTyping(connID, topic, event string, user protocol.UserInfo) {
	t := Normalize(topic)
	if !m.isMember(t, connID) {
		return
	}
	m.router.EmitExcept(broadcast.TopicKey(t), connID, event, protocol.TypingNotice{User: user})
}

// Leave removes connID from topic. Leaving a topic the connection is not in
// has no effect.
func (m *Manager) Leave(connID, topic string) {
	m.leave(connID, Normalize(topic))
}

// Disconnect removes connID from its current topic, if any.
func (m *Manager) Disconnect(connID string) {
	s, ok := m.sessions.Get(connID)
	if !ok || s.TopicRoom() == "" {
		return
	}
	m.leave(connID, s.TopicRoom())
}

func (m *Manager) leave(connID, t string) {
	r, ok := m.rooms[t]
	if !ok {
		return
	}
	idx := r.indexOf(connID)
	if idx < 0 {
		return
	}
	left := r.members[idx]
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	if len(r.members) == 0 {
		delete(m.rooms, t)
	}
	if s, ok := m.sessions.Get(connID); ok && s.TopicRoom() == t {
		s.ExitTopic()
	}
	key := broadcast.TopicKey(t)
	m.router.Leave(key, connID)
	m.log.Info("Left topic", "conn_id", connID, "name", left.user.Name, "topic", t, "members", len(r.members))

	m.router.Emit(key, protocol.EventUserLeft, protocol.Presence{
		User:      left.user,
		Timestamp: protocol.Now(),
		MessageID: "leave-" + uuid.NewString(),
	})
	m.router.Emit(key, protocol.EventOnlineUsers, m.Roster(t))
}

// Roster returns the members of topic in join order.
func (m *Manager) Roster(topic string) []protocol.RosterEntry {
	r, ok := m.rooms[Normalize(topic)]
	if !ok {
		return []protocol.RosterEntry{}
	}
	return lo.Map(r.members, func(item member, _ int) protocol.RosterEntry {
		return protocol.RosterEntry{ID: item.user.Key(), Name: item.user.Name}
	})
}

// Rooms returns the number of non-empty topic rooms.
func (m *Manager) Rooms() int {
	return len(m.rooms)
}

func (m *Manager) isMember(t, connID string) bool {
	r, ok := m.rooms[t]
	return ok && r.indexOf(connID) >= 0
}
