package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/offerscout/offerscout/internal/scout"
)

// defaultKeyPrefix namespaces session keys in a shared Redis.
const defaultKeyPrefix = "session"

// RedisStore persists session records as JSON values in Redis. The value
// TTL mirrors the record's ExpiresAt, so Redis evicts lapsed records on
// its own; Get additionally applies the lazy-expiry check for records
// whose TTL has not fired yet.
type RedisStore struct {
	client redis.Cmdable
	clock  scout.Clock
	prefix string
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.Cmdable, clock scout.Clock, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, clock: clock, prefix: prefix}
}

func (s *RedisStore) key(owner string) string {
	return fmt.Sprintf("%s:%s", s.prefix, owner)
}

// Get loads the owner's record.
func (s *RedisStore) Get(ctx context.Context, owner string) (scout.SessionRecord, error) {
	raw, err := s.client.Get(ctx, s.key(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return scout.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return scout.SessionRecord{}, fmt.Errorf("redis get: %w", err)
	}

	var record scout.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return scout.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	if !s.clock.Now().Before(record.ExpiresAt) {
		return scout.SessionRecord{}, ErrNotFound
	}
	return record, nil
}

// Put stores the record with a TTL derived from its expiry.
func (s *RedisStore) Put(ctx context.Context, record scout.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	ttl := record.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.key(record.Owner), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the owner's record.
func (s *RedisStore) Delete(ctx context.Context, owner string) error {
	if err := s.client.Del(ctx, s.key(owner)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
