package cache

import (
	"alcyxob/trainer-console/internal/domain"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix matches the persisted wire contract: routines_v2_{ownerId}.
const keyPrefix = "routines_v2_"

// persistedEntry is the stored value shape: the hydrated routines plus an
// epoch-millisecond timestamp.
type persistedEntry struct {
	Data      []domain.Routine `json:"data"`
	Timestamp int64            `json:"timestamp"`
}

// RedisStore is the persisted cache tier. Entries expire server-side well
// past the freshness window so a stale-while-revalidate read still works
// after a process restart.
type RedisStore struct {
	client *redis.Client
	expiry time.Duration
}

// NewRedisStore connects to Redis by URL and verifies the connection.
func NewRedisStore(redisURL string, expiry time.Duration) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client, expiry), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, expiry time.Duration) *RedisStore {
	if expiry <= 0 {
		expiry = 12 * DefaultTTL
	}
	return &RedisStore{client: client, expiry: expiry}
}

func (s *RedisStore) key(ownerID string) string {
	return keyPrefix + ownerID
}

// Load reads an owner's persisted entry. ErrMiss when absent or expired.
func (s *RedisStore) Load(ctx context.Context, ownerID string) ([]domain.Routine, time.Time, error) {
	raw, err := s.client.Get(ctx, s.key(ownerID)).Result()
	if err == redis.Nil {
		return nil, time.Time{}, ErrMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load cache entry: %w", err)
	}

	var e persistedEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return e.Data, time.UnixMilli(e.Timestamp), nil
}

// Save writes an owner's entry with the store expiry.
func (s *RedisStore) Save(ctx context.Context, ownerID string, routines []domain.Routine, stamp time.Time) error {
	raw, err := json.Marshal(persistedEntry{Data: routines, Timestamp: stamp.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ownerID), raw, s.expiry).Err(); err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// Delete drops an owner's persisted entry. Absent keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
