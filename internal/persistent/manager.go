// Package persistent manages admin-moderated rooms that keep their message
// history for late joiners until the last member leaves or an admin ends
// the meeting.
//
// Admin status is taken from the joining client's claim without further
// verification. The first joiner of a room created from the lobby sends the
// claim; nothing stops another client from doing the same.
package persistent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tyrowin/chatrooms/internal/broadcast"
	"github.com/Tyrowin/chatrooms/internal/history"
	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/internal/session"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	systemSender = "System"
	systemUserID = "system"
)

// Member is one participant of a persistent room.
type Member struct {
	UserID       string
	DisplayName  string
	ConnectionID string
	IsAdmin      bool
}

type room struct {
	id      string
	members []*Member
}

func (r *room) member(userID string) (*Member, bool) {
	return lo.Find(r.members, func(m *Member) bool { return m.UserID == userID })
}

func (r *room) memberByConn(connID string) (*Member, bool) {
	return lo.Find(r.members, func(m *Member) bool { return m.ConnectionID == connID })
}

func (r *room) remove(userID string) {
	r.members = lo.Reject(r.members, func(m *Member, _ int) bool { return m.UserID == userID })
}

func (r *room) isAdmin(userID string) (*Member, bool) {
	m, ok := r.member(userID)
	return m, ok && m.IsAdmin
}

// Manager owns every persistent room.
type Manager struct {
	sessions *session.Registry
	router   *broadcast.Router
	store    history.Store
	rooms    map[string]*room
	log      *slog.Logger
	now      func() time.Time
}

// NewManager returns a Manager logging room history into store.
func NewManager(sessions *session.Registry, router *broadcast.Router, store history.Store, log *slog.Logger) *Manager {
	return &Manager{
		sessions: sessions,
		router:   router,
		store:    store,
		rooms:    make(map[string]*room),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Join creates roomID on first use and adds userID to it. A user already in
// the member list only has its connection refreshed: no join message is
// logged. The joiner then receives the full history.
func (m *Manager) Join(ctx context.Context, connID, roomID, userID, displayName string, isAdminClaim bool) {
	if roomID == "" || userID == "" {
		m.log.Debug("Join without room or user", "conn_id", connID, "room_id", roomID)
		return
	}
	s, ok := m.sessions.Get(connID)
	if !ok {
		return
	}
	switch current := s.PersistentRoom(); {
	case current == "":
	case current != roomID:
		m.Leave(ctx, connID, current, "")
	default:
		// A connection holds one member record per room; joining under a
		// new user id replaces the old record.
		if r, ok := m.rooms[roomID]; ok {
			if bound, ok := r.memberByConn(connID); ok && bound.UserID != userID {
				m.removeMember(ctx, r, bound)
			}
		}
	}

	r, ok := m.rooms[roomID]
	if !ok {
		r = &room{id: roomID}
		m.rooms[roomID] = r
		m.log.Info("Room created", "room_id", roomID, "by", userID)
	}
	key := broadcast.PersistentKey(roomID)

	existing, rejoin := r.member(userID)
	if rejoin {
		if existing.ConnectionID != connID {
			m.detach(roomID, existing.ConnectionID)
			existing.ConnectionID = connID
		}
		if displayName != "" {
			existing.DisplayName = displayName
		}
	} else {
		existing = &Member{
			UserID:       userID,
			DisplayName:  lo.CoalesceOrEmpty(displayName, userID),
			ConnectionID: connID,
			IsAdmin:      isAdminClaim,
		}
		r.members = append(r.members, existing)
	}
	s.SetIdentity(userID, existing.DisplayName)
	s.EnterPersistent(roomID, existing.IsAdmin)
	m.router.Join(key, connID)

	if !rejoin {
		m.system(ctx, roomID, fmt.Sprintf("%s joined the chat", existing.DisplayName))
	}
	m.broadcastRoster(r)

	messages, err := m.store.List(ctx, roomID)
	if err != nil {
		m.log.Error("Failed to load history", "room_id", roomID, "error", err)
		messages = []protocol.ChatMessage{}
	}
	m.router.EmitTo(connID, protocol.EventChatHistory, messages)
	m.log.Info("Joined room", "room_id", roomID, "user_id", userID, "rejoin", rejoin, "members", len(r.members))
}

// SendMessage appends a client message to the room history and broadcasts
// it. Clients cannot author system messages.
func (m *Manager) SendMessage(ctx context.Context, roomID, body, sender, senderUserID string) {
	if _, ok := m.rooms[roomID]; !ok {
		m.log.Info("Room not found", "room_id", roomID)
		return
	}
	m.append(ctx, roomID, protocol.ChatMessage{
		ID:        newMessageID(),
		Sender:    sender,
		Type:      protocol.KindUser,
		Message:   body,
		Timestamp: m.now(),
		UserID:    senderUserID,
	})
}

// RemoveUser removes targetUserID from the room when adminUserID is an admin
// member of it. Any other request is refused without a trace on the wire.
func (m *Manager) RemoveUser(ctx context.Context, roomID, targetUserID, adminUserID string) {
	r, ok := m.rooms[roomID]
	if !ok {
		m.log.Info("Room not found", "room_id", roomID)
		return
	}
	admin, ok := r.isAdmin(adminUserID)
	if !ok {
		m.log.Warn("Not authorized to remove users", "room_id", roomID, "user_id", adminUserID)
		return
	}
	target, ok := r.member(targetUserID)
	if !ok {
		m.log.Info("User not found in room", "room_id", roomID, "user_id", targetUserID)
		return
	}

	r.remove(target.UserID)
	if m.detach(roomID, target.ConnectionID) {
		m.router.EmitTo(target.ConnectionID, protocol.EventRemovedFromRoom, protocol.RoomRef{RoomID: roomID})
	}
	m.system(ctx, roomID, fmt.Sprintf("%s was removed from the chat", target.DisplayName))
	m.broadcastRoster(r)
	m.log.Info("User removed", "room_id", roomID, "user_id", target.UserID, "admin", admin.DisplayName)
	m.destroyIfEmpty(ctx, r)
}

// EndMeeting closes the room for everyone when adminUserID is an admin
// member of it. The history is discarded with the room.
func (m *Manager) EndMeeting(ctx context.Context, roomID, adminUserID string) {
	r, ok := m.rooms[roomID]
	if !ok {
		m.log.Info("Room not found", "room_id", roomID)
		return
	}
	admin, ok := r.isAdmin(adminUserID)
	if !ok {
		m.log.Warn("Not authorized to end meeting", "room_id", roomID, "user_id", adminUserID)
		return
	}

	m.router.Emit(broadcast.PersistentKey(roomID), protocol.EventMeetingEnded, protocol.RoomRef{RoomID: roomID})
	for _, member := range r.members {
		m.detach(roomID, member.ConnectionID)
	}
	r.members = nil
	m.destroy(ctx, r)
	m.log.Info("Meeting ended", "room_id", roomID, "admin", admin.DisplayName)
}

// Leave removes a member from roomID. The member is looked up by userID, or
// by connID when userID is empty. Non-members are ignored.
func (m *Manager) Leave(ctx context.Context, connID, roomID, userID string) {
	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	var (
		leaving *Member
		found   bool
	)
	if userID != "" {
		leaving, found = r.member(userID)
	} else {
		leaving, found = r.memberByConn(connID)
	}
	if !found {
		return
	}
	m.removeMember(ctx, r, leaving)
}

// Disconnect removes the member bound to connID from its room.
func (m *Manager) Disconnect(ctx context.Context, connID string) {
	s, ok := m.sessions.Get(connID)
	if !ok || s.PersistentRoom() == "" {
		return
	}
	r, ok := m.rooms[s.PersistentRoom()]
	if !ok {
		s.ExitPersistent()
		return
	}
	leaving, ok := r.memberByConn(connID)
	if !ok {
		s.ExitPersistent()
		return
	}
	m.removeMember(ctx, r, leaving)
}

func (m *Manager) removeMember(ctx context.Context, r *room, leaving *Member) {
	r.remove(leaving.UserID)
	m.detach(r.id, leaving.ConnectionID)
	m.system(ctx, r.id, fmt.Sprintf("%s left the chat", leaving.DisplayName))
	m.broadcastRoster(r)
	m.log.Info("Left room", "room_id", r.id, "user_id", leaving.UserID, "remaining", len(r.members))
	m.destroyIfEmpty(ctx, r)
}

// detach drops connID from the room's broadcast group and clears its session
// pointer. It reports whether the connection was still attached.
func (m *Manager) detach(roomID, connID string) bool {
	key := broadcast.PersistentKey(roomID)
	attached := m.router.Has(key, connID)
	m.router.Leave(key, connID)
	if s, ok := m.sessions.Get(connID); ok && s.PersistentRoom() == roomID {
		s.ExitPersistent()
	}
	return attached
}

func (m *Manager) destroyIfEmpty(ctx context.Context, r *room) {
	if len(r.members) == 0 {
		m.destroy(ctx, r)
	}
}

func (m *Manager) destroy(ctx context.Context, r *room) {
	delete(m.rooms, r.id)
	if err := m.store.Drop(ctx, r.id); err != nil {
		m.log.Error("Failed to drop history", "room_id", r.id, "error", err)
	}
	m.log.Info("Room deleted", "room_id", r.id)
}

func (m *Manager) system(ctx context.Context, roomID, text string) {
	m.append(ctx, roomID, protocol.ChatMessage{
		ID:        newMessageID(),
		Sender:    systemSender,
		Type:      protocol.KindSystem,
		Message:   text,
		Timestamp: m.now(),
		UserID:    systemUserID,
	})
}

// append logs msg and broadcasts it. A message that cannot be logged is not
// broadcast, so the history never misses a line members saw.
func (m *Manager) append(ctx context.Context, roomID string, msg protocol.ChatMessage) {
	if err := m.store.Append(ctx, roomID, msg); err != nil {
		m.log.Error("Failed to append message", "room_id", roomID, "error", err)
		return
	}
	m.router.Emit(broadcast.PersistentKey(roomID), protocol.EventNewMessage, msg)
}

func (m *Manager) broadcastRoster(r *room) {
	users := lo.Map(r.members, func(item *Member, _ int) protocol.Member {
		return protocol.Member{UserID: item.UserID, UserName: item.DisplayName, IsAdmin: item.IsAdmin}
	})
	m.router.Emit(broadcast.PersistentKey(r.id), protocol.EventOnlineUsers, protocol.RoomRoster{
		Users:       users,
		TotalOnline: len(users),
	})
}

// History returns the ordered messages of roomID.
func (m *Manager) History(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	return m.store.List(ctx, roomID)
}

// Members returns a snapshot of the members of roomID in join order.
func (m *Manager) Members(roomID string) []Member {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return lo.Map(r.members, func(item *Member, _ int) Member { return *item })
}

// Exists reports whether roomID is live.
func (m *Manager) Exists(roomID string) bool {
	_, ok := m.rooms[roomID]
	return ok
}

// Rooms returns the number of live rooms.
func (m *Manager) Rooms() int {
	return len(m.rooms)
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}
