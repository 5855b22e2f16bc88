// Package session tracks the live connections known to the engine and the
// per-connection attributes each room manager relies on.
package session

// Session holds the attributes of one live transport connection. Fields are
// only changed through the typed mutation methods so every transition is
// visible at the call site.
type Session struct {
	id             string
	userID         string
	displayName    string
	pairRoom       string
	topicRoom      string
	persistentRoom string
	isAdmin        bool
}

// ID returns the transport-assigned connection id.
func (s *Session) ID() string { return s.id }

// UserID returns the external identity, empty until supplied.
func (s *Session) UserID() string { return s.userID }

// DisplayName returns the public name of the connection.
func (s *Session) DisplayName() string { return s.displayName }

// PairRoom returns the current pairing room id, if any.
func (s *Session) PairRoom() string { return s.pairRoom }

// TopicRoom returns the current topic, if any.
func (s *Session) TopicRoom() string { return s.topicRoom }

// PersistentRoom returns the current persistent room id, if any.
func (s *Session) PersistentRoom() string { return s.persistentRoom }

// IsAdmin reports whether the connection holds admin rights in its current
// persistent room.
func (s *Session) IsAdmin() bool { return s.isAdmin }

// SetIdentity records the user identity. Empty values keep the current ones.
func (s *Session) SetIdentity(userID, displayName string) {
	if userID != "" {
		s.userID = userID
	}
	if displayName != "" {
		s.displayName = displayName
	}
}

// EnterPair binds the session to a pairing room.
func (s *Session) EnterPair(roomID string) { s.pairRoom = roomID }

// ExitPair clears the pairing room.
func (s *Session) ExitPair() { s.pairRoom = "" }

// EnterTopic binds the session to a normalized topic.
func (s *Session) EnterTopic(topic string) { s.topicRoom = topic }

// ExitTopic clears the topic room.
func (s *Session) ExitTopic() { s.topicRoom = "" }

// EnterPersistent binds the session to a persistent room. Admin rights are
// scoped to that room and reset on exit.
func (s *Session) EnterPersistent(roomID string, isAdmin bool) {
	s.persistentRoom = roomID
	s.isAdmin = isAdmin
}

// ExitPersistent clears the persistent room and the admin flag with it.
func (s *Session) ExitPersistent() {
	s.persistentRoom = ""
	s.isAdmin = false
}

// Registry maps connection ids to sessions. It is owned by a single engine
// goroutine and performs no locking.
type Registry struct {
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Connect creates the session for a new connection. Connecting an id twice
// returns the existing session untouched.
func (r *Registry) Connect(id string) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := &Session{id: id}
	r.sessions[id] = s
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session for id. The boolean is false when the id was
// unknown, which lets callers run disconnect cleanup exactly once.
func (r *Registry) Remove(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return s, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
