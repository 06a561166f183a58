package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"docquery/internal/redis"
)

// Default TTLs for the cached artifacts.
const (
	ResponseTTL  = time.Hour
	EmbeddingTTL = 24 * time.Hour
	SummaryTTL   = 24 * time.Hour
	ExportTTL    = 24 * time.Hour
)

// scanBatch bounds how many keys one DeletePattern round trip removes.
const scanBatch = 500

// Cache stores JSON values under deterministic tenant-scoped keys. Every
// operation fails open: redis errors are logged and reported as a miss or
// no-op, never returned to callers.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// GetJSON loads key into dest. Returns false on miss, decode failure or
// any redis error.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if err != redis.ErrCacheMiss {
			log.Warn().Err(err).Str("key", key).Msg("cache get degraded")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache decode failed")
		return false
	}
	return true
}

// SetJSON stores value under key with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set degraded")
	}
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache delete degraded")
	}
}

// DeletePattern removes every key matching pattern. It walks the keyspace
// incrementally with SCAN and deletes in bounded batches, so it never
// blocks redis the way KEYS would. Returns the number of keys removed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	if c == nil || c.client == nil {
		return 0
	}
	var (
		cursor  uint64
		removed int
		batch   []string
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("cache scan degraded")
			return removed
		}
		batch = append(batch, keys...)
		for len(batch) >= scanBatch {
			if err := c.client.Del(ctx, batch[:scanBatch]...); err != nil {
				log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete degraded")
				return removed
			}
			removed += scanBatch
			batch = batch[scanBatch:]
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...); err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete degraded")
			return removed
		}
		removed += len(batch)
	}
	return removed
}

// AddMember adds members to a bulk-listable group.
func (c *Cache) AddMember(ctx context.Context, key string, members ...interface{}) {
	if c == nil || c.client == nil || len(members) == 0 {
		return
	}
	if err := c.client.SAdd(ctx, key, members...); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache sadd degraded")
	}
}

// Members lists a group; empty on any failure.
func (c *Cache) Members(ctx context.Context, key string) []string {
	if c == nil || c.client == nil {
		return nil
	}
	members, err := c.client.SMembers(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache smembers degraded")
		return nil
	}
	return members
}

// RemoveMember removes members from a group.
func (c *Cache) RemoveMember(ctx context.Context, key string, members ...interface{}) {
	if c == nil || c.client == nil || len(members) == 0 {
		return
	}
	if err := c.client.SRem(ctx, key, members...); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache srem degraded")
	}
}
