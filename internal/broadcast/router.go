// Package broadcast fans events out to every connection joined to a room.
// It is the room primitive shared by the pairing, topic and persistent room
// managers and only depends on the transport through the Transport
// interface.
package broadcast

import (
	"log/slog"

	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/samber/lo"
)

// Transport delivers an encoded frame to one live connection. Send reports
// false when the frame could not be queued.
type Transport interface {
	Send(connID string, frame []byte) bool
}

// Kind namespaces rooms so that the three chat modes never share a group.
type Kind string

const (
	KindPair       Kind = "pair"
	KindTopic      Kind = "topic"
	KindPersistent Kind = "persistent"
)

// Key identifies one broadcast group.
type Key struct {
	Kind Kind
	Name string
}

// PairKey, TopicKey and PersistentKey name the group of each chat mode.
func PairKey(roomID string) Key       { return Key{Kind: KindPair, Name: roomID} }
func TopicKey(topic string) Key       { return Key{Kind: KindTopic, Name: topic} }
func PersistentKey(roomID string) Key { return Key{Kind: KindPersistent, Name: roomID} }

// group keeps members in join order.
type group struct {
	order   []string
	members map[string]struct{}
}

// Router owns the room membership primitive. Like the rest of the engine it
// is driven from a single goroutine and performs no locking.
type Router struct {
	transport Transport
	groups    map[Key]*group
	byConn    map[string]map[Key]struct{}
	log       *slog.Logger
}

// NewRouter returns a Router delivering through transport.
func NewRouter(transport Transport, log *slog.Logger) *Router {
	return &Router{
		transport: transport,
		groups:    make(map[Key]*group),
		byConn:    make(map[string]map[Key]struct{}),
		log:       log,
	}
}

// Join adds connID to room. Joining twice is a no-op.
func (r *Router) Join(room Key, connID string) {
	g, ok := r.groups[room]
	if !ok {
		g = &group{members: make(map[string]struct{})}
		r.groups[room] = g
	}
	if _, exists := g.members[connID]; exists {
		return
	}
	g.members[connID] = struct{}{}
	g.order = append(g.order, connID)

	keys, ok := r.byConn[connID]
	if !ok {
		keys = make(map[Key]struct{})
		r.byConn[connID] = keys
	}
	keys[room] = struct{}{}
}

// Leave removes connID from room and drops the group once empty.
func (r *Router) Leave(room Key, connID string) {
	g, ok := r.groups[room]
	if !ok {
		return
	}
	if _, exists := g.members[connID]; !exists {
		return
	}
	delete(g.members, connID)
	g.order = lo.Without(g.order, connID)
	if len(g.members) == 0 {
		delete(r.groups, room)
	}

	if keys, ok := r.byConn[connID]; ok {
		delete(keys, room)
		if len(keys) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll removes connID from every group it belongs to.
func (r *Router) LeaveAll(connID string) {
	for room := range r.byConn[connID] {
		r.Leave(room, connID)
	}
}

// Members returns the connections of room in join order.
func (r *Router) Members(room Key) []string {
	g, ok := r.groups[room]
	if !ok {
		return nil
	}
	return append([]string(nil), g.order...)
}

// Has reports whether connID is joined to room.
func (r *Router) Has(room Key, connID string) bool {
	g, ok := r.groups[room]
	if !ok {
		return false
	}
	_, exists := g.members[connID]
	return exists
}

// Emit sends event to every member of room.
func (r *Router) Emit(room Key, event string, payload any) {
	r.EmitExcept(room, "", event, payload)
}

// EmitExcept sends event to every member of room except one connection.
func (r *Router) EmitExcept(room Key, except string, event string, payload any) {
	g, ok := r.groups[room]
	if !ok {
		return
	}
	frame, ok := r.encode(event, payload)
	if !ok {
		return
	}
	for _, connID := range g.order {
		if connID == except {
			continue
		}
		r.deliver(connID, event, frame)
	}
}

// EmitTo sends event to a single connection.
func (r *Router) EmitTo(connID string, event string, payload any) {
	frame, ok := r.encode(event, payload)
	if !ok {
		return
	}
	r.deliver(connID, event, frame)
}

func (r *Router) encode(event string, payload any) ([]byte, bool) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		r.log.Error("Failed to encode frame", "event", event, "error", err)
		return nil, false
	}
	return frame, true
}

func (r *Router) deliver(connID, event string, frame []byte) {
	if !r.transport.Send(connID, frame) {
		r.log.Debug("Frame dropped", "conn_id", connID, "event", event)
	}
}
