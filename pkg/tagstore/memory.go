package tagstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryTagStore is the in-process catalogue used by tests and the file
// persistence development setup.
type MemoryTagStore struct {
	mu sync.Mutex

	tags          map[string]map[string]string // workspace -> name -> tag id
	conversations map[string]map[string]bool   // conversation -> tag id set
}

func NewMemoryTagStore() *MemoryTagStore {
	return &MemoryTagStore{
		tags:          make(map[string]map[string]string),
		conversations: make(map[string]map[string]bool),
	}
}

func (s *MemoryTagStore) UpsertTag(_ context.Context, workspaceID, normalizedName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tags[workspaceID] == nil {
		s.tags[workspaceID] = make(map[string]string)
	}

	if id, ok := s.tags[workspaceID][normalizedName]; ok {
		return id, nil
	}

	id := uuid.New().String()
	s.tags[workspaceID][normalizedName] = id

	return id, nil
}

func (s *MemoryTagStore) SetAssociation(_ context.Context, conversationID, tagID string, present bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversations[conversationID] == nil {
		s.conversations[conversationID] = make(map[string]bool)
	}

	if present {
		s.conversations[conversationID][tagID] = true
	} else {
		delete(s.conversations[conversationID], tagID)
	}

	return nil
}

// ConversationTags returns the tag ids currently on the conversation.
func (s *MemoryTagStore) ConversationTags(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.conversations[conversationID]))
	for id := range s.conversations[conversationID] {
		ids = append(ids, id)
	}

	return ids
}
