package adapter

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	elerrors "github.com/mirkobrombin/go-editlock/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	defaultRedisPrefix    = "editlock:record:"
)

// RedisStore implements Store using a Redis backend. Records are stored as
// JSON strings under a key prefix.
type RedisStore[T any] struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
	prefix  string
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// WithPrefix sets the key prefix records are stored under.
func WithPrefix(p string) RedisOption {
	return func(o *redisStoreOptions) {
		o.prefix = p
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore[T any](client *redis.Client, opts ...RedisOption) *RedisStore[T] {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[T]{client: client, timeout: o.timeout, prefix: o.prefix}
}

// mapErr translates context and client errors into the shared storage
// errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return elerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return elerrors.ErrConnectionClosed
	default:
		return err
	}
}

// Get implements Store.Get.
func (s *RedisStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapErr(err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return v, true, nil
}

// Set implements Store.Set.
func (s *RedisStore[T]) Set(ctx context.Context, id string, value T) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return mapErr(s.client.Set(cctx, s.prefix+id, data, 0).Err())
}

// Keys implements Store.Keys using SCAN over the key prefix.
func (s *RedisStore[T]) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		cursor uint64
		ids    []string
	)
	for {
		batch, next, err := s.client.Scan(cctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		for _, k := range batch {
			ids = append(ids, strings.TrimPrefix(k, s.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return ids, nil
}
