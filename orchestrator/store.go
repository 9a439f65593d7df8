package orchestrator

import (
	"sync"

	"github.com/parley-ai/parley/core"
)

// InMemoryConversationStore keeps conversations for the process lifetime.
// Conversations are never deleted, only marked terminal.
type InMemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

// NewConversationStore creates an empty store.
func NewConversationStore() *InMemoryConversationStore {
	return &InMemoryConversationStore{conversations: make(map[string]*core.Conversation)}
}

// GetOrCreate returns the conversation for id, creating an active one bound
// to userID when absent. An empty id gets a generated one.
func (s *InMemoryConversationStore) GetOrCreate(id, userID string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = core.NewID()
	}
	if c, ok := s.conversations[id]; ok {
		return c, nil
	}
	c := core.NewConversation(id, userID)
	s.conversations[id] = c
	return c, nil
}

// Get returns the conversation for id or core.ErrConversationNotFound.
func (s *InMemoryConversationStore) Get(id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrConversationNotFound
	}
	return c, nil
}
