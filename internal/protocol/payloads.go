package protocol

import "time"

// UserInfo is the public identity a client presents in pairing and topic
// events.
type UserInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email,omitempty"`
}

// Key returns the identifier used in rosters: the id when present, the
// name otherwise.
func (u UserInfo) Key() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Name
}

// ReadyForChat asks to be paired with a stranger.
type ReadyForChat struct {
	User *UserInfo `json:"user" validate:"required"`
}

// PairMessage is a line sent to a pairing room.
type PairMessage struct {
	RoomID string `json:"roomId" validate:"required"`
	Text   string `json:"text"`
}

// LeaveRoom serves both the pairing and the persistent variant; UserID is
// only set by persistent room clients.
type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId,omitempty"`
}

// JoinGroup enters a topic room.
type JoinGroup struct {
	Topic string   `json:"topic" validate:"required"`
	User  UserInfo `json:"user"`
}

// GroupMessage is a line sent to a topic room.
type GroupMessage struct {
	Topic     string `json:"topic" validate:"required"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// TopicUser carries typing indicators and group leaves. The user is only
// echoed back to other members and is not validated.
type TopicUser struct {
	Topic string   `json:"topic" validate:"required"`
	User  UserInfo `json:"user" validate:"-"`
}

// JoinRoom enters a persistent room, creating it on first use.
type JoinRoom struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserName string `json:"userName"`
	UserID   string `json:"userId"`
	IsAdmin  bool   `json:"isAdmin"`
}

// SendMessage is a line sent to a persistent room.
type SendMessage struct {
	RoomID  string `json:"roomId" validate:"required"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
	UserID  string `json:"userId"`
	Type    string `json:"type,omitempty"`
}

// RemoveUser is an admin request to drop a member.
type RemoveUser struct {
	RoomID       string `json:"roomId" validate:"required"`
	TargetUserID string `json:"targetUserId" validate:"required"`
	AdminUserID  string `json:"adminUserId" validate:"required"`
}

// EndMeeting is an admin request to close the room.
type EndMeeting struct {
	RoomID      string `json:"roomId" validate:"required"`
	AdminUserID string `json:"adminUserId" validate:"required"`
}

// Outbound payloads.

// MatchFound tells both partners their shared room.
type MatchFound struct {
	RoomID  string   `json:"roomId"`
	Partner UserInfo `json:"partner"`
}

// PairText is a relayed pairing message.
type PairText struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Presence announces a topic join or leave.
type Presence struct {
	User      UserInfo `json:"user"`
	Timestamp string   `json:"timestamp"`
	MessageID string   `json:"messageId"`
}

// GroupText is a relayed topic message.
type GroupText struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	MessageID string `json:"messageId"`
}

// TypingNotice carries typing indicators.
type TypingNotice struct {
	User UserInfo `json:"user"`
}

// RosterEntry is one topic room member.
type RosterEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is one persistent room member as shown to clients.
type Member struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsAdmin  bool   `json:"isAdmin"`
}

// RoomRoster lists the members of a persistent room.
type RoomRoster struct {
	Users       []Member `json:"users"`
	TotalOnline int      `json:"totalOnline"`
}

// MessageKind distinguishes client-authored from server-synthesized messages.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindSystem MessageKind = "system"
)

// ChatMessage is a persistent room message as stored and sent.
type ChatMessage struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Type      MessageKind `json:"type"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"userId"`
}

// RoomRef names the room a removal or meeting end applies to.
type RoomRef struct {
	RoomID string `json:"roomId"`
}
