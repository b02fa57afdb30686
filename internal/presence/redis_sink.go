package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "presence:online"
)

// RedisSink publishes presence snapshots to a shared redis connection
// so other processes can read them. The connection is resolved once at
// startup through the cache manager and shared by reference.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink wraps a redis client. ttl bounds how long a stale
// record survives a process that died without signalling disconnects.
func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSink{client: client, ttl: ttl}
}

// Store writes the record under presence:<user_id> and maintains the
// online set. Offline users are removed rather than stored.
func (s *RedisSink) Store(ctx context.Context, rec Record) error {
	key := presenceKeyPrefix + rec.UserID

	if rec.Status == StatusOffline {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, onlineSetKey, rec.UserID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("clear presence: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.SAdd(ctx, onlineSetKey, rec.UserID)
	pipe.Expire(ctx, onlineSetKey, s.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store presence: %w", err)
	}
	return nil
}
