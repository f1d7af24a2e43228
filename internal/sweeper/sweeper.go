// Package sweeper runs the periodic transition of lapsed role assignments.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ExpireFunc moves lapsed assignments to EXPIRED and returns how many
// changed. gmpAuth.Engine.RefreshExpiredAssignments satisfies it.
type ExpireFunc func(ctx context.Context) (int, error)

// Sweeper calls an ExpireFunc once at start and then on every tick.
type Sweeper struct {
	expire   ExpireFunc
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// New returns a sweeper. Each pass is bounded by the interval so a stuck
// store cannot pile up overlapping passes.
func New(expire ExpireFunc, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if expire == nil {
		return nil, errors.New("sweeper: nil expire func")
	}
	if interval <= 0 {
		return nil, errors.New("sweeper: interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{expire: expire, interval: interval, timeout: interval, logger: logger}, nil
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.Once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Once(ctx)
		}
	}
}

// Once runs a single pass and returns the number of expired assignments.
func (s *Sweeper) Once(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.expire(ctx)
	if err != nil {
		s.logger.Error("assignment expiry sweep failed", zap.Error(err), zap.Int("expired", n))
		return n
	}
	if n > 0 {
		s.logger.Info("expired role assignments", zap.Int("expired", n), zap.Duration("took", time.Since(start)))
	} else {
		s.logger.Debug("no role assignments to expire")
	}
	return n
}
