package cmd

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/tagstore"
)

// NewTagStore selects the tag catalogue backend. A redis URL gets the
// shared redis store; an empty URL falls back to the in-process store for
// development.
func NewTagStore(redisURL string) protocol.TagStore {
	if redisURL == "" {
		return tagstore.NewMemoryTagStore()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse redis URL: %w", err))
	}

	return tagstore.NewRedisTagStore(redis.NewClient(opts), "series")
}
