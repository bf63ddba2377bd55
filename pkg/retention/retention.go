// Package retention periodically removes sessions that have been inactive
// longer than the configured maximum age.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner removes sessions idle since before the cutoff and reports how
// many were removed. The hub implements it, dropping its per-session
// state alongside the stored rows.
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper runs the cleanup loop.
type Sweeper struct {
	cleaner  Cleaner
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func New(cleaner Cleaner, maxAge, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{cleaner: cleaner, maxAge: maxAge, interval: interval, logger: logger}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	removed, err := s.cleaner.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("session cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed",
			zap.Int("count", removed),
			zap.Time("cutoff", cutoff))
	}
}
