//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_history_store.go -package=mocks

// Package history is the append-only message log behind persistent rooms.
// Both backends live only as long as the process.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/chatrooms/internal/protocol"
)

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("unknown history backend")

// Store appends and replays the ordered messages of a room.
type Store interface {
	Append(ctx context.Context, roomID string, msg protocol.ChatMessage) error
	List(ctx context.Context, roomID string) ([]protocol.ChatMessage, error)
	Drop(ctx context.Context, roomID string) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Open returns the Store named by backend.
func Open(backend string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadgerStore()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// MemoryStore keeps each room's history in a slice.
type MemoryStore struct {
	rooms map[string][]protocol.ChatMessage
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]protocol.ChatMessage)}
}

// Append adds msg at the end of the room log.
func (s *MemoryStore) Append(_ context.Context, roomID string, msg protocol.ChatMessage) error {
	s.rooms[roomID] = append(s.rooms[roomID], msg)
	return nil
}

// List returns a copy so callers cannot alter the log.
func (s *MemoryStore) List(_ context.Context, roomID string) ([]protocol.ChatMessage, error) {
	return append([]protocol.ChatMessage{}, s.rooms[roomID]...), nil
}

// Drop forgets the room log.
func (s *MemoryStore) Drop(_ context.Context, roomID string) error {
	delete(s.rooms, roomID)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
