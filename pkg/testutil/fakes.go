package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/engageline/series/pkg/models"
	"github.com/engageline/series/pkg/protocol"
)

// PassEvaluator matches every visitor against every predicate.
type PassEvaluator struct{}

func (PassEvaluator) Evaluate(_ context.Context, _ *models.RuleTree, _ *models.Visitor) (bool, error) {
	return true, nil
}

// FakeContentAdapter records delivery attempts for one channel. Failures
// can be injected per block id.
type FakeContentAdapter struct {
	mu sync.Mutex

	channel    models.BlockType
	Deliveries []protocol.DeliveryContext
	FailBlocks map[string]string
}

func NewFakeContentAdapter(channel models.BlockType) *FakeContentAdapter {
	return &FakeContentAdapter{
		channel:    channel,
		FailBlocks: make(map[string]string),
	}
}

func (a *FakeContentAdapter) Channel() models.BlockType {
	return a.channel
}

func (a *FakeContentAdapter) AttemptDelivery(_ context.Context, delivery protocol.DeliveryContext) protocol.DeliveryResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Deliveries = append(a.Deliveries, delivery)

	if reason, ok := a.FailBlocks[delivery.Block.ID]; ok {
		return protocol.DeliveryResult{Attempted: true, Failed: true, Err: reason}
	}

	return protocol.DeliveryResult{Attempted: true}
}

// DeliveryCount returns how many attempts hit the given block.
func (a *FakeContentAdapter) DeliveryCount(blockID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0

	for _, delivery := range a.Deliveries {
		if delivery.Block.ID == blockID {
			count++
		}
	}

	return count
}

// FakeTagStore is an in-memory tag catalogue recording associations.
type FakeTagStore struct {
	mu sync.Mutex

	Tags         map[string]string          // workspace/name -> tag id
	Associations map[string]map[string]bool // conversation id -> tag id -> present
	Fail         bool
}

func NewFakeTagStore() *FakeTagStore {
	return &FakeTagStore{
		Tags:         make(map[string]string),
		Associations: make(map[string]map[string]bool),
	}
}

func (s *FakeTagStore) UpsertTag(_ context.Context, workspaceID, normalizedName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail {
		return "", errors.New("tag store unavailable")
	}

	key := workspaceID + "/" + normalizedName
	if id, ok := s.Tags[key]; ok {
		return id, nil
	}

	id := "tag-" + normalizedName
	s.Tags[key] = id

	return id, nil
}

func (s *FakeTagStore) SetAssociation(_ context.Context, conversationID, tagID string, present bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail {
		return errors.New("tag store unavailable")
	}

	if s.Associations[conversationID] == nil {
		s.Associations[conversationID] = make(map[string]bool)
	}

	s.Associations[conversationID][tagID] = present

	return nil
}

// HasAssociation reports whether the conversation currently carries the tag.
func (s *FakeTagStore) HasAssociation(conversationID, tagID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.Associations[conversationID][tagID]
}
