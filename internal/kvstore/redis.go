package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"enrollgate/pkg/platform/sentinel"
)

const (
	defaultRedisNamespace = "enrollgate:"
	redisScanBatch        = 256
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisStore keeps records as plain string keys under a namespace. Durability
// follows the server's persistence settings; run Redis with appendfsync
// always when it backs the offline queue.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithNamespace overrides the key prefix used for every record.
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// NewRedis wraps an existing client. The client lifecycle stays with the caller.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, namespace: defaultRedisNamespace}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	pattern := globEscaper.Replace(s.namespace+prefix) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, redisScanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}
	sort.Strings(keys)

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %s: %w", prefix, err)
	}
	out := make([]Entry, 0, len(keys))
	for i, v := range values {
		// deleted between SCAN and MGET
		str, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: strings.TrimPrefix(keys[i], s.namespace), Value: []byte(str)})
	}
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
