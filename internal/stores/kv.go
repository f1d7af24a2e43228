package stores

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or already expired.
	ErrNotFound = errors.New("key not found")
	// ErrBackend wraps failures of the underlying storage.
	ErrBackend = errors.New("kv backend unavailable")
	// ErrContention is returned when an optimistic update keeps losing races.
	ErrContention = errors.New("kv update contention")
)

// UpdateFunc receives the current value of a key and returns its
// replacement and the TTL to store it with. A nil value or a non-positive
// TTL deletes the key. Returning an error aborts the update and the error
// is passed back to the caller unchanged.
type UpdateFunc func(current []byte) (next []byte, ttl time.Duration, err error)

// KV is a TTL-keyed byte store with an atomic read-modify-write primitive.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Upsert is Update that also runs fn for an absent key, passing nil.
	Upsert(ctx context.Context, key string, fn UpdateFunc) error
}
