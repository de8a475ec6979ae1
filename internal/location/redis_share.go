package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisShareSink publishes shared positions for viewers. The latest fix is
// kept under location:shared:<userID> and every fix is also published on a
// channel of the same name for live viewers.
type RedisShareSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisShareSink creates a sink. ttl bounds how long a stale position
// stays visible if the sharer disappears without clearing it.
func NewRedisShareSink(client *redis.Client, ttl time.Duration) *RedisShareSink {
	return &RedisShareSink{client: client, ttl: ttl}
}

// SharedKey returns the key and channel used for userID.
func SharedKey(userID string) string {
	return "location:shared:" + userID
}

func (s *RedisShareSink) Publish(ctx context.Context, userID string, loc Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}

	key := SharedKey(userID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.Publish(ctx, key, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish shared location: %w", err)
	}
	return nil
}

func (s *RedisShareSink) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, SharedKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear shared location: %w", err)
	}
	return nil
}
