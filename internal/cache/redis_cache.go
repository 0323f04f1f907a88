// Package cache keeps enriched card lists in Redis between writes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ideaboard/api/internal/store"
)

// CardCache stores one hash per board. Each field is one viewer's view of one
// filter, so a single DEL drops every cached list of the board. A counter per
// board records evictions; Put refuses lists read before the latest one.
type CardCache struct {
	client    *redis.Client
	prefix    string
	genPrefix string
	ttl       time.Duration
}

// Lookup is what Get found. Generation is the board's eviction count at read
// time and goes back to Put with the list loaded after a miss.
type Lookup struct {
	Cards      []store.CardDetails
	Hit        bool
	Generation int64
}

// putScript stores a list only while the board's eviction count still matches
// the one the caller read.
var putScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// NewCardCache connects to Redis and verifies the connection.
func NewCardCache(redisURL string, ttl time.Duration) (*CardCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCardCacheWithClient(client, ttl), nil
}

// NewCardCacheWithClient creates a cache from an existing Redis client
func NewCardCacheWithClient(client *redis.Client, ttl time.Duration) *CardCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CardCache{
		client:    client,
		prefix:    "ideaboard:cards:",
		genPrefix: "ideaboard:cardgen:",
		ttl:       ttl,
	}
}

func (c *CardCache) key(boardID string) string {
	return c.prefix + boardID
}

func (c *CardCache) genKey(boardID string) string {
	return c.genPrefix + boardID
}

func field(viewerID string, filter store.CardFilter) string {
	values := url.Values{}
	values.Set("viewer", viewerID)
	values.Set("q", filter.Query)
	values.Set("priority", filter.Priority)
	values.Set("creator", filter.Creator)
	values.Set("column", filter.ColumnID)
	values.Set("archived", strconv.FormatBool(filter.IncludeArchived))
	return values.Encode()
}

// Get returns the cached list, if any, with the board's eviction count read
// in the same transaction. A miss is not an error.
func (c *CardCache) Get(ctx context.Context, boardID, viewerID string, filter store.CardFilter) (Lookup, error) {
	pipe := c.client.TxPipeline()
	genCmd := pipe.Get(ctx, c.genKey(boardID))
	listCmd := pipe.HGet(ctx, c.key(boardID), field(viewerID, filter))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Lookup{}, fmt.Errorf("read cached cards: %w", err)
	}

	var lookup Lookup
	gen, err := genCmd.Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Lookup{}, fmt.Errorf("read card generation: %w", err)
	default:
		lookup.Generation = gen
	}

	raw, err := listCmd.Result()
	if errors.Is(err, redis.Nil) {
		return lookup, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("read cached cards: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &lookup.Cards); err != nil {
		return Lookup{}, fmt.Errorf("unmarshal cached cards: %w", err)
	}
	lookup.Hit = true
	return lookup, nil
}

// Put caches a list loaded after a Get that returned generation. It reports
// false without writing when the board was evicted in between. The board
// hash expires ttl after the latest Put.
func (c *CardCache) Put(ctx context.Context, boardID, viewerID string, filter store.CardFilter, generation int64, cards []store.CardDetails) (bool, error) {
	payload, err := json.Marshal(cards)
	if err != nil {
		return false, fmt.Errorf("marshal cards: %w", err)
	}

	stored, err := putScript.Run(ctx, c.client,
		[]string{c.key(boardID), c.genKey(boardID)},
		strconv.FormatInt(generation, 10), field(viewerID, filter), payload, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache cards: %w", err)
	}
	return stored == 1, nil
}

// Evict drops every cached list of the board and bumps its eviction count,
// so reads that started before the eviction cannot store their lists.
func (c *CardCache) Evict(ctx context.Context, boardID string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, c.genKey(boardID))
	pipe.Del(ctx, c.key(boardID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict cards: %w", err)
	}
	return nil
}

// Client exposes the underlying connection so other Redis users can share it.
func (c *CardCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *CardCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *CardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
