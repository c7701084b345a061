package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/inboxguard/internal/domain"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KVStore implements domain.KeyValueStore on Redis. Every method is a single
// command or script, so each is atomic on the server.
type KVStore struct {
	client *redis.Client
}

func NewKVStore(client *redis.Client) *KVStore {
	return &KVStore{client: client}
}

// SetIfAbsent issues SET key value NX PX ttl and folds the reply into a
// domain.SetResult.
func (s *KVStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (domain.SetResult, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.SetAlreadyHeld, nil
	case err != nil:
		return domain.SetStoreError, fmt.Errorf("failed to SET NX %s: %w", key, err)
	case ok:
		return domain.SetAcquired, nil
	default:
		return domain.SetAlreadyHeld, nil
	}
}

func (s *KVStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to GET %s: %w", key, err)
	}
	return val, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to DEL: %w", err)
	}
	return n, nil
}

func (s *KVStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to EXPIRE %s: %w", key, err)
	}
	return ok, nil
}
