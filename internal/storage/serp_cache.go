package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rank-tracker/internal/types"
)

const serpCacheKeyPrefix = "serp:results:"

// SerpCache stores the most recent fetched result set per keyword in Redis.
// The API serves keyword results from here so a status poll does not hit
// Postgres for the full result payload.
type SerpCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewSerpCache creates a SERP result cache with the given entry TTL
func NewSerpCache(cache *RedisCache, ttl time.Duration) *SerpCache {
	return &SerpCache{cache: cache, ttl: ttl}
}

type cachedSerpEntry struct {
	KeywordID string             `json:"keywordId"`
	Results   []types.SerpResult `json:"results"`
	FetchedAt time.Time          `json:"fetchedAt"`
}

// Set stores the result set for a keyword
func (c *SerpCache) Set(ctx context.Context, keywordID string, results []types.SerpResult) error {
	entry := cachedSerpEntry{
		KeywordID: keywordID,
		Results:   results,
		FetchedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cached results: %w", err)
	}

	if err := c.cache.Client().Set(ctx, serpCacheKeyPrefix+keywordID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache results: %w", err)
	}

	return nil
}

// Get returns the cached result set for a keyword. found is false on a miss.
func (c *SerpCache) Get(ctx context.Context, keywordID string) (results []types.SerpResult, fetchedAt time.Time, found bool, err error) {
	data, err := c.cache.Client().Get(ctx, serpCacheKeyPrefix+keywordID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("failed to read cached results: %w", err)
	}

	var entry cachedSerpEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is dropped rather than surfaced; the caller falls
		// back to the persisted copy.
		_ = c.Invalidate(ctx, keywordID)
		return nil, time.Time{}, false, nil
	}

	return entry.Results, entry.FetchedAt, true, nil
}

// Invalidate removes the cached result set for a keyword
func (c *SerpCache) Invalidate(ctx context.Context, keywordID string) error {
	return c.cache.Client().Del(ctx, serpCacheKeyPrefix+keywordID).Err()
}
