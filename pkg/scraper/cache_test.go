package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/assessor/internal/models"
)

type fakeCache struct {
	data   map[string]string
	getErr error
	ttls   map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) *redis.StringCmd {
	if c.getErr != nil {
		return redis.NewStringResult("", c.getErr)
	}
	v, ok := c.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.data[key] = string(value.([]byte))
	c.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingSearcher struct {
	calls int
	err   error
	empty bool
}

func (s *countingSearcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.empty {
		return []models.SearchResult{}, nil
	}
	return []models.SearchResult{{Title: "Entropy", URL: "https://example.org/entropy", Snippet: "Disorder."}}, nil
}

func TestCachedSearcherServesRepeats(t *testing.T) {
	next := &countingSearcher{}
	cache := newFakeCache()
	cs := NewCachedSearcher(next, cache, time.Hour, zerolog.Nop())

	first, err := cs.Search(context.Background(), "Entropy  definition")
	require.NoError(t, err)
	second, err := cs.Search(context.Background(), "entropy definition")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	for _, ttl := range cache.ttls {
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestCachedSearcherIgnoresCacheFailure(t *testing.T) {
	next := &countingSearcher{}
	cache := newFakeCache()
	cache.getErr = errors.New("dial tcp: connection refused")
	cs := NewCachedSearcher(next, cache, 0, zerolog.Nop())

	results, err := cs.Search(context.Background(), "entropy")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, next.calls)
}

func TestCachedSearcherSkipsEmptyResults(t *testing.T) {
	next := &countingSearcher{empty: true}
	cache := newFakeCache()
	cs := NewCachedSearcher(next, cache, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		results, err := cs.Search(context.Background(), "entropy")
		require.NoError(t, err)
		assert.Empty(t, results)
	}
	assert.Empty(t, cache.data)
	assert.Equal(t, 2, next.calls)
}

func TestCachedSearcherPropagatesSearchError(t *testing.T) {
	boom := errors.New("search down")
	cache := newFakeCache()
	cs := NewCachedSearcher(&countingSearcher{err: boom}, cache, 0, zerolog.Nop())

	_, err := cs.Search(context.Background(), "entropy")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cache.data)
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	require.NoError(t, client.Close())

	_, err = NewRedisClient("not a url")
	assert.Error(t, err)
}
