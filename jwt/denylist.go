package jwt

import (
	"context"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Denylist records fingerprints of revoked tokens until they would have
// expired anyway.
type Denylist interface {
	Add(ctx context.Context, fingerprint string, ttl time.Duration) error
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

var revokedMarker = []byte{1}

// KVDenylist keeps the denylist in a TTL key/value store.
type KVDenylist struct {
	kv stores.KV
}

// NewRedisDenylist stores revocations in Redis under prefix.
func NewRedisDenylist(client redis.UniversalClient, prefix string) *KVDenylist {
	if prefix == "" {
		prefix = "grev"
	}
	return &KVDenylist{kv: stores.NewRedisKV(client, prefix)}
}

// NewMemoryDenylist keeps revocations in process memory.
func NewMemoryDenylist(now func() time.Time) *KVDenylist {
	return NewKVDenylist(stores.NewMemoryKV(now))
}

// NewKVDenylist stores revocations in kv as given.
func NewKVDenylist(kv stores.KV) *KVDenylist {
	return &KVDenylist{kv: kv}
}

func (d *KVDenylist) Add(ctx context.Context, fingerprint string, ttl time.Duration) error {
	return d.kv.Set(ctx, fingerprint, revokedMarker, ttl)
}

func (d *KVDenylist) Contains(ctx context.Context, fingerprint string) (bool, error) {
	return d.kv.Exists(ctx, fingerprint)
}
