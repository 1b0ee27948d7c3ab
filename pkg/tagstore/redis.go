// Package tagstore implements the workspace tag catalogue. The redis
// store is the deployable implementation; the memory store backs tests
// and single-process development.
package tagstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisTagStore keeps the tag catalogue in redis: one hash per workspace
// mapping normalized names to tag ids, one set per conversation holding
// associated tag ids.
type RedisTagStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTagStore(client redis.UniversalClient, prefix string) *RedisTagStore {
	if prefix == "" {
		prefix = "series"
	}

	return &RedisTagStore{client: client, prefix: prefix}
}

func (s *RedisTagStore) catalogueKey(workspaceID string) string {
	return fmt.Sprintf("%s:tags:%s", s.prefix, workspaceID)
}

func (s *RedisTagStore) conversationKey(conversationID string) string {
	return fmt.Sprintf("%s:conversation-tags:%s", s.prefix, conversationID)
}

// UpsertTag finds or creates the tag by normalized name. Creation races
// resolve to the first writer via HSetNX.
func (s *RedisTagStore) UpsertTag(ctx context.Context, workspaceID, normalizedName string) (string, error) {
	key := s.catalogueKey(workspaceID)

	id, err := s.client.HGet(ctx, key, normalizedName).Result()
	if err == nil {
		return id, nil
	}

	if err != redis.Nil {
		return "", fmt.Errorf("get tag %q: %w", normalizedName, err)
	}

	candidate := uuid.New().String()

	created, err := s.client.HSetNX(ctx, key, normalizedName, candidate).Result()
	if err != nil {
		return "", fmt.Errorf("create tag %q: %w", normalizedName, err)
	}

	if created {
		return candidate, nil
	}

	id, err = s.client.HGet(ctx, key, normalizedName).Result()
	if err != nil {
		return "", fmt.Errorf("get tag %q after create race: %w", normalizedName, err)
	}

	return id, nil
}

// SetAssociation adds or removes the tag on the conversation's tag set.
func (s *RedisTagStore) SetAssociation(ctx context.Context, conversationID, tagID string, present bool) error {
	key := s.conversationKey(conversationID)

	if present {
		if err := s.client.SAdd(ctx, key, tagID).Err(); err != nil {
			return fmt.Errorf("add tag association: %w", err)
		}

		return nil
	}

	if err := s.client.SRem(ctx, key, tagID).Err(); err != nil {
		return fmt.Errorf("remove tag association: %w", err)
	}

	return nil
}
