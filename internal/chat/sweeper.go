package chat

import (
	"context"
	"time"

	"guest-messaging/internal/lock"
	"guest-messaging/internal/store"
	"guest-messaging/pkg/logger"
)

const sweepLockKey = "sweep:sessions"

// Sweeper moves sessions without inbound traffic for the idle timeout to
// inactive. Only one instance sweeps at a time.
type Sweeper struct {
	store store.Store
	locks *lock.Service
	idle  time.Duration
	clock func() time.Time
}

func NewSweeper(st store.Store, locks *lock.Service, idle time.Duration) *Sweeper {
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	return &Sweeper{store: st, locks: locks, idle: idle, clock: time.Now}
}

// SweepIdle deactivates idle sessions. ran is false when another instance
// holds the sweep lock.
func (s *Sweeper) SweepIdle(ctx context.Context) (n int, ran bool, err error) {
	cutoff := s.clock().UTC().Add(-s.idle)
	n, ran, err = lock.WithLock(ctx, s.locks, sweepLockKey, time.Minute, func(ctx context.Context) (int, error) {
		return s.store.DeactivateIdleSessions(ctx, cutoff)
	})
	if err == nil && n > 0 {
		logger.From(ctx).Info("idle sessions deactivated", "count", n, "cutoff", cutoff)
	}
	return n, ran, err
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, _, err := s.SweepIdle(ctx); err != nil && ctx.Err() == nil {
			logger.From(ctx).Error("idle sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
