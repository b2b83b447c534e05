package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

var sequenceKey = []byte("seq:messages")

// Store persists messages in BadgerDB.
//
// Keys are "msg:{len(a)}:{a}:{len(b)}:{b}:{createdAt:019}:{seq:019}" where
// {a, b} is the sorted participant pair. A prefix scan over one pair yields
// its conversation in createdAt order; the sequence number keeps insertion
// order should two records ever share a timestamp.
type Store struct {
	db    *badger.DB
	log   *zap.Logger
	seq   *badger.Sequence
	clock *chat.Clock
	mu    sync.Mutex
}

// Open opens (or creates) a Badger database at path.
func Open(path string) (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
}

// New wraps db. Close releases the sequence lease but not db itself.
func New(db *badger.DB, log *zap.Logger) (*Store, error) {
	seq, err := db.GetSequence(sequenceKey, 128)
	if err != nil {
		return nil, fmt.Errorf("lease message sequence: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, seq: seq, clock: chat.NewClock(0)}, nil
}

// Close returns unused sequence numbers to the database.
func (s *Store) Close() error {
	return s.seq.Release()
}

// Append writes the draft in a single transaction.
func (s *Store) Append(ctx context.Context, draft chat.Draft) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		ID:         uuid.NewString(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Text:       draft.Text,
		Image:      draft.Image,
		CreatedAt:  s.clock.Next(),
	}

	value, err := json.Marshal(message)
	if err != nil {
		return chat.Message{}, err
	}

	key := fmt.Sprintf("%s%019d:%019d", pairPrefix(message.Pair()), message.CreatedAt.UnixNano(), n)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return chat.Message{}, err
	}

	s.log.Debug("message stored", zap.String("key", key))
	return message, nil
}

// ListConversation scans the pair's prefix in ascending key order.
func (s *Store) ListConversation(ctx context.Context, pair chat.Pair) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(pairPrefix(pair))
	messages := make([]chat.Message, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var message chat.Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			})
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// pairPrefix length-prefixes both identifiers so that no pair's prefix can
// be a prefix of another pair's.
func pairPrefix(pair chat.Pair) string {
	return fmt.Sprintf("msg:%d:%s:%d:%s:", len(pair.A), pair.A, len(pair.B), pair.B)
}
