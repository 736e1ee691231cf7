package crash

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	REDIS_KEY_ROUND_PREFIX  = "crash:round:"
	REDIS_KEY_CURRENT_ROUND = "crash:round:current"

	roundCacheTTL = time.Hour
)

// RedisRoundCache keeps the public round snapshot in Redis so the query
// surface (and additional instances) can serve live state without hitting
// the engine or the database.
type RedisRoundCache struct {
	client *redis.Client
}

func NewRedisRoundCache(client *redis.Client) *RedisRoundCache {
	return &RedisRoundCache{client: client}
}

func (c *RedisRoundCache) StoreSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, REDIS_KEY_CURRENT_ROUND, data, roundCacheTTL)
	pipe.Set(ctx, REDIS_KEY_ROUND_PREFIX+snap.RoundID, data, roundCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// CurrentSnapshot reads the cached live round state, if any.
func (c *RedisRoundCache) CurrentSnapshot(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, REDIS_KEY_CURRENT_ROUND).Bytes()
	if err == redis.Nil {
		return nil, ErrNoActiveRound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
