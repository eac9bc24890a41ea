package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisService stores each lock as a key holding the owner token with a
// millisecond expiry.
type RedisService struct {
	client redis.UniversalClient
	prefix string
}

var _ Service = (*RedisService)(nil)

func NewRedisService(client redis.UniversalClient, prefix string) *RedisService {
	return &RedisService{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisService) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisService) Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error) {
	token := Token(uuid.NewString())
	ok, err := s.client.SetNX(ctx, s.redisKey(key), string(token), ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrUnavailable)
	}
	return token, nil
}

func (s *RedisService) Refresh(ctx context.Context, token Token, key string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, s.client, []string{s.redisKey(key)}, string(token), ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrLockLost)
	}
	return nil
}

func (s *RedisService) Release(ctx context.Context, token Token, key string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{s.redisKey(key)}, string(token)).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrLockLost)
	}
	return nil
}
