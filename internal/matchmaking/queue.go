// Package matchmaking pairs anonymous connections first-come first-served
// into ephemeral two-party rooms.
package matchmaking

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/chatrooms/internal/broadcast"
	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/Tyrowin/chatrooms/internal/session"
	"github.com/samber/lo"
)

// waitingEntry is a connection waiting for a partner.
type waitingEntry struct {
	connID string
	user   protocol.UserInfo
}

// pairRoom is a live two-member room.
type pairRoom struct {
	id      string
	members [2]string
}

func (p pairRoom) partnerOf(connID string) string {
	if p.members[0] == connID {
		return p.members[1]
	}
	return p.members[0]
}

// Queue holds the waiting list and the pair rooms it created.
type Queue struct {
	sessions *session.Registry
	router   *broadcast.Router
	log      *slog.Logger

	waiting []waitingEntry
	rooms   map[string]pairRoom
	byConn  map[string]string
}

// NewQueue returns an empty queue.
func NewQueue(sessions *session.Registry, router *broadcast.Router, log *slog.Logger) *Queue {
	return &Queue{
		sessions: sessions,
		router:   router,
		log:      log,
		rooms:    make(map[string]pairRoom),
		byConn:   make(map[string]string),
	}
}

// RequestPairing enqueues connID and pairs the two oldest entries whenever
// at least two are waiting. Duplicate requests are ignored.
func (q *Queue) RequestPairing(connID string, user *protocol.UserInfo) {
	if user == nil {
		q.log.Warn("No user info sent, skipping pairing", "conn_id", connID)
		return
	}
	if q.isQueued(connID) {
		q.log.Debug("Already queued", "conn_id", connID)
		return
	}
	if _, paired := q.byConn[connID]; paired {
		q.log.Debug("Already paired", "conn_id", connID)
		return
	}

	q.waiting = append(q.waiting, waitingEntry{connID: connID, user: *user})
	q.log.Info("Ready for chat", "conn_id", connID, "name", user.Name, "waiting", len(q.waiting))

	for len(q.waiting) >= 2 {
		first, second := q.waiting[0], q.waiting[1]
		q.waiting = q.waiting[2:]
		if first.connID == second.connID {
			q.log.Warn("Same connection matched with itself, skipping", "conn_id", first.connID)
			continue
		}
		q.pair(first, second)
	}
}

func (q *Queue) pair(a, b waitingEntry) {
	room := pairRoom{
		id:      fmt.Sprintf("room-%s-%s", a.connID, b.connID),
		members: [2]string{a.connID, b.connID},
	}
	q.rooms[room.id] = room
	key := broadcast.PairKey(room.id)
	for _, connID := range room.members {
		q.byConn[connID] = room.id
		q.router.Join(key, connID)
		if s, ok := q.sessions.Get(connID); ok {
			s.EnterPair(room.id)
		}
	}
	q.log.Info("Paired", "room_id", room.id, "first", a.user.Name, "second", b.user.Name)

	q.router.EmitTo(a.connID, protocol.EventMatchFound, protocol.MatchFound{RoomID: room.id, Partner: b.user})
	q.router.EmitTo(b.connID, protocol.EventMatchFound, protocol.MatchFound{RoomID: room.id, Partner: a.user})
}

// SendMessage relays text to both members of roomID.
func (q *Queue) SendMessage(connID, roomID, text string) {
	room, ok := q.rooms[roomID]
	if !ok {
		q.log.Debug("Message for unknown pair room", "conn_id", connID, "room_id", roomID)
		return
	}
	if room.members[0] != connID && room.members[1] != connID {
		q.log.Debug("Message from non-member", "conn_id", connID, "room_id", roomID)
		return
	}
	q.router.Emit(broadcast.PairKey(roomID), protocol.EventMessage, protocol.PairText{Sender: connID, Text: text})
}

// Leave closes the pair room of connID when it matches roomID and notifies
// the partner.
func (q *Queue) Leave(connID, roomID string) {
	if q.byConn[connID] != roomID || roomID == "" {
		return
	}
	q.closeRoom(connID, roomID)
	q.removeWaiting(connID)
}

// Disconnect drops connID from the waiting list and closes its pair room.
func (q *Queue) Disconnect(connID string) {
	q.removeWaiting(connID)
	if roomID, ok := q.byConn[connID]; ok {
		q.closeRoom(connID, roomID)
	}
}

func (q *Queue) closeRoom(leaver, roomID string) {
	room := q.rooms[roomID]
	key := broadcast.PairKey(roomID)
	q.log.Info("Leaving pair room", "conn_id", leaver, "room_id", roomID)

	q.router.EmitExcept(key, leaver, protocol.EventPartnerLeft, nil)

	for _, connID := range room.members {
		delete(q.byConn, connID)
		q.router.Leave(key, connID)
		if s, ok := q.sessions.Get(connID); ok {
			s.ExitPair()
		}
	}
	delete(q.rooms, roomID)
}

func (q *Queue) isQueued(connID string) bool {
	return lo.ContainsBy(q.waiting, func(e waitingEntry) bool { return e.connID == connID })
}

func (q *Queue) removeWaiting(connID string) {
	q.waiting = lo.Reject(q.waiting, func(e waitingEntry, _ int) bool { return e.connID == connID })
}

// Waiting returns the number of queued connections.
func (q *Queue) Waiting() int {
	return len(q.waiting)
}

// RoomOf returns the pair room of connID.
func (q *Queue) RoomOf(connID string) (string, bool) {
	roomID, ok := q.byConn[connID]
	return roomID, ok
}

// Rooms returns the number of live pair rooms.
func (q *Queue) Rooms() int {
	return len(q.rooms)
}
