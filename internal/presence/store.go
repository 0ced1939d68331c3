package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps per-user online markers in Redis so other instances (and the
// REST surface) can see who currently holds a live connection. The key
// expires on its own if an instance dies without cleaning up.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(userID string) string { return s.prefix + ":presence:" + userID }

func (s *Store) MarkOnline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, s.key(userID), "1", s.ttl).Err()
}

func (s *Store) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, s.key(userID), s.ttl).Err()
}

func (s *Store) MarkOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
