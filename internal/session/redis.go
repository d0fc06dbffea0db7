package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dinner-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dining:session:"

// RedisStore keeps sessions as JSON with a TTL equal to the idle timeout.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, idle time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: idle}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	data, err := r.client.Get(ctx, redisKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var s models.SessionContext
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.SessionContext) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	if err := r.client.Set(ctx, redisKey(s.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, redisKey(sessionID)).Err()
}
