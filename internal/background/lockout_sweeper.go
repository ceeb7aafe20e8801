package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sweepTimeout = 30 * time.Second

// LockoutReleaser clears lockouts whose end time has passed
type LockoutReleaser interface {
	ReleaseExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

// LockoutSweeper periodically unlocks accounts whose lockout has expired.
// Login already treats an expired lockout as unlocked; the sweep only keeps
// the stored flag in step for operators and reporting.
type LockoutSweeper struct {
	users    LockoutReleaser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLockoutSweeper creates a new sweeper
func NewLockoutSweeper(users LockoutReleaser, logger *slog.Logger, interval time.Duration) *LockoutSweeper {
	return &LockoutSweeper{
		users:    users,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once immediately and then on every tick until Stop or ctx ends
func (s *LockoutSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("lockout sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("lockout sweeper context cancelled")
			return
		}
	}
}

// Sweep releases expired lockouts once and returns how many were released
func (s *LockoutSweeper) Sweep(ctx context.Context) int64 {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	released, err := s.users.ReleaseExpiredLockouts(sweepCtx, s.now())
	if err != nil {
		s.logger.Error("failed to release expired lockouts", slog.Any("error", err))
		return 0
	}

	if released > 0 {
		s.logger.Info("expired lockouts released", slog.Int64("accounts", released))
	}
	return released
}

// Stop signals the sweeper to stop; safe to call more than once
func (s *LockoutSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
