package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/chatrooms/internal/protocol"
	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps room history in an in-memory badger instance.
// Keys are "msg:{hex room}:{seq}" with a 19 digit zero padded sequence so
// a prefix scan returns messages in append order. The room id is hex encoded
// so one room prefix never matches another room.
type BadgerStore struct {
	db   *badger.DB
	seqs map[string]uint64
}

// OpenBadgerStore opens an in-memory badger database.
func OpenBadgerStore() (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, seqs: make(map[string]uint64)}, nil
}

func roomPrefix(roomID string) []byte {
	return []byte(fmt.Sprintf("msg:%x:", roomID))
}

// Append writes msg under the next sequence number of the room.
func (s *BadgerStore) Append(_ context.Context, roomID string, msg protocol.ChatMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	seq := s.seqs[roomID] + 1
	key := fmt.Sprintf("%s%019d", roomPrefix(roomID), seq)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return err
	}
	s.seqs[roomID] = seq
	return nil
}

// List scans the room prefix in key order.
func (s *BadgerStore) List(_ context.Context, roomID string) ([]protocol.ChatMessage, error) {
	messages := []protocol.ChatMessage{}
	prefix := roomPrefix(roomID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var msg protocol.ChatMessage
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Drop deletes every key of the room.
func (s *BadgerStore) Drop(_ context.Context, roomID string) error {
	delete(s.seqs, roomID)
	return s.db.DropPrefix(roomPrefix(roomID))
}

// Close releases the badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
