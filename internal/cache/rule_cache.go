package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"approval-matrix-service/internal/models"
)

const (
	keyPrefix     = "approval:rules:active"
	generationKey = keyPrefix + ":generation"
)

// RuleCache holds the active rules per transaction type in Redis for a bounded time.
// Entries are keyed by a generation that every invalidation bumps, so a list
// loaded before a write can never be stored where later readers look.
// A nil client degrades to no caching.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRuleCache creates a new rule cache instance
func NewRuleCache(client *redis.Client, ttl time.Duration) *RuleCache {
	return &RuleCache{client: client, ttl: ttl}
}

func (c *RuleCache) cacheKey(generation int64, transactionType models.TransactionType) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, generation, transactionType)
}

// Generation returns the current cache generation
func (c *RuleCache) Generation(ctx context.Context) (int64, error) {
	if !c.IsAvailable() {
		return 0, nil
	}
	n, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Get returns the cached active rules for a transaction type; ok is false on a miss.
// The generation it read is returned for a follow-up Set.
func (c *RuleCache) Get(ctx context.Context, transactionType models.TransactionType) ([]models.ApprovalRule, bool, int64, error) {
	if !c.IsAvailable() {
		return nil, false, 0, nil
	}

	generation, err := c.Generation(ctx)
	if err != nil {
		return nil, false, 0, err
	}

	data, err := c.client.Get(ctx, c.cacheKey(generation, transactionType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, generation, nil
	}
	if err != nil {
		return nil, false, generation, err
	}

	var rules []models.ApprovalRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, false, generation, err
	}
	return rules, true, generation, nil
}

// Set caches the active rules for a transaction type under generation
func (c *RuleCache) Set(ctx context.Context, generation int64, transactionType models.TransactionType, rules []models.ApprovalRule) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.cacheKey(generation, transactionType), data, c.ttl).Err()
}

// InvalidateAll bumps the generation and drops every cached rule list. Called after any rule write.
func (c *RuleCache) InvalidateAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return err
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+":*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		if key := iter.Val(); key != generationKey {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// IsAvailable returns true if the cache is backed by Redis
func (c *RuleCache) IsAvailable() bool {
	return c != nil && c.client != nil
}
