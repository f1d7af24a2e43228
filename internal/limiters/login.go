package limiters

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLoginThrottled is returned when a client address has exhausted its
// login budget.
var ErrLoginThrottled = errors.New("login attempts throttled")

// LoginConfig configures the per-address login token bucket.
type LoginConfig struct {
	Enabled bool
	// PerMinute is the sustained refill rate.
	PerMinute int
	Burst     int
	// IdleTTL is how long an untouched bucket is kept.
	IdleTTL time.Duration
	Now     func() time.Time
}

type loginBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles login attempts per client address in process.
// The zero address shares a single bucket.
type LoginLimiter struct {
	cfg     LoginConfig
	mu      sync.Mutex
	buckets map[string]*loginBucket
}

// NewLoginLimiter returns nil when cfg is disabled; a nil limiter allows
// everything.
func NewLoginLimiter(cfg LoginConfig) *LoginLimiter {
	if !cfg.Enabled {
		return nil
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LoginLimiter{cfg: cfg, buckets: make(map[string]*loginBucket)}
}

// Allow consumes one token for addr or returns ErrLoginThrottled.
func (l *LoginLimiter) Allow(_ context.Context, addr string) error {
	if l == nil {
		return nil
	}
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[addr]
	if !ok {
		b = &loginBucket{limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.PerMinute)/60), l.cfg.Burst)}
		l.buckets[addr] = b
	}
	b.lastSeen = now
	if !b.limiter.AllowN(now, 1) {
		return ErrLoginThrottled
	}
	return nil
}

// Sweep forgets buckets idle longer than IdleTTL and reports how many were
// removed.
func (l *LoginLimiter) Sweep() int {
	if l == nil {
		return 0
	}
	cutoff := l.cfg.Now().Add(-l.cfg.IdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for addr, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, addr)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (l *LoginLimiter) Run(ctx context.Context, interval time.Duration) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
