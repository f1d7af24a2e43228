package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/stores"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the lifetime of an MFA session.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxFailures is the number of bad codes that lock a session.
	DefaultMaxFailures = 5

	// expiryGrace keeps an elapsed record readable briefly so callers can
	// tell an expired session from an unknown one.
	expiryGrace = 30 * time.Second
)

var (
	// ErrSessionNotFound is returned for unknown or invalidated session ids.
	ErrSessionNotFound = errors.New("mfa session not found")
	// ErrSessionExpired is returned when the session outlived its TTL.
	ErrSessionExpired = errors.New("mfa session expired")
	// ErrSessionLocked is returned once the failure limit has been reached.
	ErrSessionLocked = errors.New("mfa session locked")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("mfa session store unavailable")
)

// Config tunes a Store.
type Config struct {
	TTL         time.Duration
	MaxFailures int
	Now         func() time.Time
}

// Store persists MFA sessions in a TTL key/value backend.
type Store struct {
	kv          stores.KV
	ttl         time.Duration
	maxFailures int
	now         func() time.Time
}

// NewStore wraps kv. Zero config fields take the package defaults.
func NewStore(kv stores.KV, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		kv:          kv,
		ttl:         cfg.TTL,
		maxFailures: cfg.MaxFailures,
		now:         cfg.Now,
	}
}

// NewRedisStore returns a Store backed by Redis keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, cfg Config) *Store {
	if prefix == "" {
		prefix = "gmfa"
	}
	return NewStore(stores.NewRedisKV(client, prefix), cfg)
}

// NewMemoryStore returns a Store kept in process memory.
func NewMemoryStore(cfg Config) *Store {
	return NewStore(stores.NewMemoryKV(cfg.Now), cfg)
}

// MaxFailures reports the configured attempt limit.
func (s *Store) MaxFailures() int {
	return s.maxFailures
}

// Create starts a session for userID and returns its id.
func (s *Store) Create(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("mfa session requires a user id")
	}

	now := s.now()
	record := &MfaSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	encoded, err := Encode(record)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, record.ID, encoded, s.ttl+expiryGrace); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return record.ID, nil
}

// Get returns a usable session. Expired sessions are evicted.
func (s *Store) Get(ctx context.Context, id string) (*MfaSession, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	data, err := s.kv.Get(ctx, id)
	if err != nil {
		return nil, s.mapErr(err)
	}
	record, err := Decode(data)
	if err != nil {
		_, _ = s.kv.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}
	record.ID = id

	if record.Expired(s.now()) {
		_, _ = s.kv.Delete(ctx, id)
		return nil, ErrSessionExpired
	}
	if record.Locked {
		return nil, ErrSessionLocked
	}
	return record, nil
}

// RecordFailure counts one bad code against the session. The returned
// session reflects the new counter; when it reaches the limit the session is
// locked and ErrSessionLocked is returned alongside it.
func (s *Store) RecordFailure(ctx context.Context, id string) (*MfaSession, error) {
	var updated *MfaSession

	err := s.kv.Update(ctx, id, func(current []byte) ([]byte, time.Duration, error) {
		record, err := Decode(current)
		if err != nil {
			return nil, 0, ErrSessionNotFound
		}
		record.ID = id

		now := s.now()
		if record.Expired(now) {
			return nil, 0, ErrSessionExpired
		}
		if record.Locked {
			updated = record
			return nil, 0, ErrSessionLocked
		}

		record.Failures++
		if int(record.Failures) >= s.maxFailures {
			record.Locked = true
		}
		encoded, err := Encode(record)
		if err != nil {
			return nil, 0, err
		}
		updated = record
		return encoded, record.ExpiresAt.Sub(now) + expiryGrace, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			_, _ = s.kv.Delete(ctx, id)
		}
		return updated, s.mapErr(err)
	}
	if updated != nil && updated.Locked {
		return updated, ErrSessionLocked
	}
	return updated, nil
}

// Consume deletes a live session in one atomic step. Exactly one of several
// concurrent callers succeeds; the others get ErrSessionNotFound. Locked and
// expired sessions are not consumed.
func (s *Store) Consume(ctx context.Context, id string) error {
	if id == "" {
		return ErrSessionNotFound
	}
	err := s.kv.Update(ctx, id, func(data []byte) ([]byte, time.Duration, error) {
		record, err := Decode(data)
		if err != nil {
			return nil, 0, errSessionCorrupt
		}
		if record.Expired(s.now()) {
			return nil, 0, ErrSessionExpired
		}
		if record.Locked {
			return nil, 0, ErrSessionLocked
		}
		return nil, 0, nil
	})
	switch {
	case errors.Is(err, errSessionCorrupt):
		_, _ = s.kv.Delete(ctx, id)
		return ErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		_, _ = s.kv.Delete(ctx, id)
	}
	return s.mapErr(err)
}

// Invalidate removes the session. Removing an unknown id is not an error.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionLocked):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
