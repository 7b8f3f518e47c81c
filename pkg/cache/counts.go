package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCountsKey is where active enrollment counts are cached.
const DefaultCountsKey = "outreach:enrollments:active_counts"

// DefaultGenerationKey holds the counter Invalidate advances.
const DefaultGenerationKey = "outreach:enrollments:active_counts:gen"

var errStaleGeneration = errors.New("count cache generation moved")

// HitRecorder is told about cache hits and misses.
type HitRecorder interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

// CountCache caches active enrollment counts per sequence as one JSON value.
// Writes are guarded by a generation counter so a count computed before an
// invalidation is never stored after it.
type CountCache struct {
	client   *Client
	key      string
	genKey   string
	ttl      time.Duration
	recorder HitRecorder
}

// NewCountCache creates a count cache. A zero ttl keeps entries until
// they are invalidated.
func NewCountCache(client *Client, ttl time.Duration, recorder HitRecorder) *CountCache {
	return &CountCache{client: client, key: DefaultCountsKey, genKey: DefaultGenerationKey, ttl: ttl, recorder: recorder}
}

// GetCounts returns the cached counts and the current generation. ok is
// false on a miss.
func (c *CountCache) GetCounts(ctx context.Context) (map[string]int, int64, bool, error) {
	vals, err := c.client.Redis.MGet(ctx, c.key, c.genKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read counts: %w", err)
	}

	gen, err := parseGeneration(vals[1])
	if err != nil {
		return nil, 0, false, err
	}

	raw, ok := vals[0].(string)
	if !ok {
		c.miss()
		return nil, gen, false, nil
	}

	counts := make(map[string]int)
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		c.miss()
		return nil, gen, false, fmt.Errorf("failed to decode counts: %w", err)
	}

	c.hit()
	return counts, gen, true, nil
}

// SetCounts stores counts with the configured TTL unless the generation moved
// past gen. A dropped write is not an error.
func (c *CountCache) SetCounts(ctx context.Context, gen int64, counts map[string]int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to encode counts: %w", err)
	}

	err = c.client.Redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		current, err := parseGeneration(cur)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, data, c.ttl)
			return nil
		})
		return err
	}, c.genKey)

	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("failed to write counts: %w", err)
	}
}

// Invalidate drops the cached counts and advances the generation.
func (c *CountCache) Invalidate(ctx context.Context) error {
	_, err := c.client.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate counts: %w", err)
	}
	return nil
}

func parseGeneration(v interface{}) (int64, error) {
	switch g := v.(type) {
	case nil:
		return 0, nil
	case string:
		if g == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(g, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to decode count generation: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected count generation %v", v)
	}
}

func (c *CountCache) hit() {
	if c.recorder != nil {
		c.recorder.CacheHit("enrollment_counts")
	}
}

func (c *CountCache) miss() {
	if c.recorder != nil {
		c.recorder.CacheMiss("enrollment_counts")
	}
}
