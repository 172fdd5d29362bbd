package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
)

// Cache is the subset of *redis.Client used by CachedSearcher.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedSearcher serves repeated queries from redis. Cache errors never fail
// a search.
type CachedSearcher struct {
	next   types.Searcher
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedSearcher(next types.Searcher, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedSearcher {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &CachedSearcher{next: next, cache: cache, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (c *CachedSearcher) key(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(query), " "))))
	return "research:" + hex.EncodeToString(sum[:])
}

func (c *CachedSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	key := c.key(query)

	data, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		var results []models.SearchResult
		if err := json.Unmarshal([]byte(data), &results); err == nil {
			return results, nil
		}
		c.logger.Debug().Str("key", key).Msg("Ignoring unreadable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Msg("Search cache unavailable")
	}

	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		// an empty page is often a throttled engine; ask again next time
		return results, nil
	}

	if encoded, err := json.Marshal(results); err == nil {
		if err := c.cache.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache search results")
		}
	}
	return results, nil
}
