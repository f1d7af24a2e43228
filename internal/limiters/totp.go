package limiters

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gmpAuth/internal/stores"
)

const (
	defaultTotpMaxAttempts = 5
	defaultTotpWindow      = 15 * time.Minute
)

var (
	// ErrTotpRateLimited is returned once a user has spent the window's
	// budget of wrong codes.
	ErrTotpRateLimited = errors.New("totp attempts rate limited")
	// ErrTotpUnavailable wraps backend failures.
	ErrTotpUnavailable = errors.New("totp limiter unavailable")
)

// TotpConfig configures the per-user wrong-code budget.
type TotpConfig struct {
	MaxAttempts int
	Window      time.Duration
	Now         func() time.Time
}

// TotpLimiter counts wrong TOTP and recovery codes per user in a TTL
// key/value store. The window is fixed: it starts at the first failure and
// is not extended by later ones.
type TotpLimiter struct {
	kv          stores.KV
	maxAttempts uint32
	window      time.Duration
	now         func() time.Time
}

// NewTotpLimiter counts in kv. Zero config fields take the defaults
// (5 attempts per 15 minutes).
func NewTotpLimiter(kv stores.KV, cfg TotpConfig) *TotpLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultTotpMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultTotpWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TotpLimiter{kv: kv, maxAttempts: uint32(cfg.MaxAttempts), window: cfg.Window, now: cfg.Now}
}

// attemptRecord is failures(4) | window end unix nanos(8).
type attemptRecord struct {
	failures uint32
	until    time.Time
}

func decodeAttempts(data []byte) (attemptRecord, bool) {
	if len(data) != 12 {
		return attemptRecord{}, false
	}
	return attemptRecord{
		failures: binary.BigEndian.Uint32(data[:4]),
		until:    time.Unix(0, int64(binary.BigEndian.Uint64(data[4:]))),
	}, true
}

func (r attemptRecord) encode() []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[:4], r.failures)
	binary.BigEndian.PutUint64(out[4:], uint64(r.until.UnixNano()))
	return out
}

// Check fails with ErrTotpRateLimited while userID is over budget.
func (l *TotpLimiter) Check(ctx context.Context, userID string) error {
	data, err := l.kv.Get(ctx, userID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTotpUnavailable, err)
	}
	rec, ok := decodeAttempts(data)
	if !ok || !l.now().Before(rec.until) {
		return nil
	}
	if rec.failures >= l.maxAttempts {
		return ErrTotpRateLimited
	}
	return nil
}

// RecordFailure counts one wrong code and reports ErrTotpRateLimited when
// it spent the last attempt.
func (l *TotpLimiter) RecordFailure(ctx context.Context, userID string) error {
	var failures uint32
	err := l.kv.Upsert(ctx, userID, func(current []byte) ([]byte, time.Duration, error) {
		now := l.now()
		rec, ok := decodeAttempts(current)
		if !ok || !now.Before(rec.until) {
			rec = attemptRecord{until: now.Add(l.window)}
		}
		rec.failures++
		failures = rec.failures
		return rec.encode(), rec.until.Sub(now), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTotpUnavailable, err)
	}
	if failures >= l.maxAttempts {
		return ErrTotpRateLimited
	}
	return nil
}

// Reset forgets userID's failures after a correct code.
func (l *TotpLimiter) Reset(ctx context.Context, userID string) error {
	if _, err := l.kv.Delete(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrTotpUnavailable, err)
	}
	return nil
}
