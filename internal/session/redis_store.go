// Package session provides Redis-backed storage for admin session tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token is unknown, revoked or expired.
var ErrNotFound = errors.New("session: token not found or expired")

// Record holds the data stored for each admin session token.
type Record struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps admin sessions in Redis so sign-ins survive API restarts
// and revocation takes effect across instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client, prefix: "session:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Save stores a session token with expiration.
func (s *RedisStore) Save(ctx context.Context, token string, record Record, ttl time.Duration) error {
	record.CreatedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Lookup resolves a session token to its record.
func (s *RedisStore) Lookup(ctx context.Context, token string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup session: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return Record{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return record, nil
}

// Revoke deletes a session token. Revoking an unknown token is not an error.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
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
