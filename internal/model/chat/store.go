package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store is the durable, append-only conversation log.
type Store interface {
	// Append persists draft as a new Message, assigning ID and CreatedAt.
	Append(ctx context.Context, draft Draft) (Message, error)
	// ListConversation returns every message of pair, oldest first.
	ListConversation(ctx context.Context, pair Pair) ([]Message, error)
}

// MemoryStore implements Store in process memory, suitable for tests and
// single-node demos.
type MemoryStore struct {
	mu            sync.RWMutex
	clock         *Clock
	conversations map[string][]Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:         NewClock(0),
		conversations: make(map[string][]Message),
	}
}

// Append stores the draft under its pair.
func (s *MemoryStore) Append(_ context.Context, draft Draft) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := Message{
		ID:         uuid.NewString(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Text:       draft.Text,
		Image:      draft.Image,
		CreatedAt:  s.clock.Next(),
	}
	key := message.Pair().Key()
	s.conversations[key] = append(s.conversations[key], message)
	return message, nil
}

// ListConversation returns a copy of the pair's messages.
func (s *MemoryStore) ListConversation(_ context.Context, pair Pair) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.conversations[pair.Key()]
	copied := make([]Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Len returns the total number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, messages := range s.conversations {
		total += len(messages)
	}
	return total
}
