package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 4

// RedisKV implements KV on top of a Redis client.
type RedisKV struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisKV returns a KV that namespaces every key with prefix.
func NewRedisKV(redisClient redis.UniversalClient, prefix string) *RedisKV {
	return &RedisKV{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisKV) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl for %q", ErrBackend, key)
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return data, nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

func (s *RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another
// client modified the key in between.
func (s *RedisKV) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return s.update(ctx, key, fn, false)
}

// Upsert is Update for keys that may not exist yet. WATCH also fires when a
// concurrent client creates the key.
func (s *RedisKV) Upsert(ctx context.Context, key string, fn UpdateFunc) error {
	return s.update(ctx, key, fn, true)
}

func (s *RedisKV) update(ctx context.Context, key string, fn UpdateFunc, create bool) error {
	full := s.key(key)

	for i := 0; i < maxUpdateRetries; i++ {
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, full).Bytes()
			if errors.Is(err, redis.Nil) && create {
				data, err = nil, nil
			}
			if err != nil {
				return err
			}

			next, ttl, err := fn(data)
			if err != nil {
				fnErr = err
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil || ttl <= 0 {
					pipe.Del(ctx, full)
					return nil
				}
				pipe.Set(ctx, full, next, ttl)
				return nil
			})
			return err
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if fnErr != nil {
				return fnErr
			}
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	return ErrContention
}
