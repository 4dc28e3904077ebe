package markers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "plansync:marker"

// RedisDurableStore keeps durable markers in Redis so that every plansync
// instance shares one last-check timestamp per user.
type RedisDurableStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDurableStore wraps client. Keys are namespaced under prefix.
func NewRedisDurableStore(client redis.UniversalClient, prefix string) *RedisDurableStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultRedisPrefix
	}
	return &RedisDurableStore{client: client, prefix: trimmedPrefix}
}

// DialRedis parses redisURL, connects and pings.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisDurableStore) key(k string) string {
	return s.prefix + ":" + k
}

func (s *RedisDurableStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get marker %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisDurableStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set marker %s: %w", key, err)
	}
	return nil
}

func (s *RedisDurableStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete marker %s: %w", key, err)
	}
	return nil
}
