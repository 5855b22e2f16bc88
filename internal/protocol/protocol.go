// Package protocol defines the wire catalogue exchanged over the WebSocket
// endpoint: the frame envelope, event names and payload shapes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound events (client to server).
const (
	EventReadyForChat = "ready-for-chat"
	EventMessage      = "message"
	EventLeaveRoom    = "leave-room"
	EventJoinGroup    = "join-group"
	EventGroupMessage = "group-message"
	EventTyping       = "typing"
	EventStopTyping   = "stop-typing"
	EventLeaveGroup   = "leave-group"
	EventJoinRoom     = "join-room"
	EventSendMessage  = "send-message"
	EventRemoveUser   = "remove-user"
	EventEndMeeting   = "end-meeting"
)

// Outbound events (server to client).
const (
	EventMatchFound        = "match-found"
	EventPartnerLeft       = "partner-left"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventOnlineUsers       = "online-users-updated"
	EventNewMessage        = "new-message"
	EventChatHistory       = "chat-history"
	EventRemovedFromRoom   = "removed-from-room"
	EventMeetingEnded      = "meeting-ended"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Frame is the envelope of every WebSocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outFrame is the encoding-side twin of Frame so payloads are marshalled once.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode builds the wire bytes for event with payload.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}

// Decode parses a raw frame. The payload stays raw until Bind is called.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return f, nil
}

var validate = validator.New()

// Bind unmarshals the frame payload into dst and validates its struct tags.
func Bind(f Frame, dst any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	return nil
}

// Now returns the timestamp format used in outbound payloads.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
