// Package sweeper fails transactions that stayed PENDING past the staleness
// window. It talks to the ledger only through its public operations, so it
// can run in-process, as a standalone worker, or not at all.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval   = time.Minute
	DefaultStaleAfter = 5 * time.Minute
	DefaultLockKey    = "ledger:sweeper"
)

// Failer is the ledger operation the sweeper drives.
type Failer interface {
	FailStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Lock is a held exclusive lease.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker grants at most one holder per key. Contention is reported as
// (nil, false, nil), not as an error.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)
}

// Config holds the sweeper schedule.
type Config struct {
	// Interval between runs.
	Interval time.Duration

	// StaleAfter is the staleness window.
	StaleAfter time.Duration

	// LockKey names the lease shared by every instance.
	LockKey string
}

// Sweeper runs sweep passes on a fixed interval.
type Sweeper struct {
	failer Failer
	locker Locker
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a sweeper. locker may be nil for single-instance deployments.
func New(failer Failer, locker Locker, cfg Config, log zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	return &Sweeper{
		failer: failer,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "sweeper").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep runs one pass and returns how many transactions it failed.
// When another instance holds the lease the pass is skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.locker != nil {
		lock, acquired, err := s.locker.TryAcquire(ctx, s.cfg.LockKey, s.cfg.Interval)
		if err != nil {
			return 0, fmt.Errorf("Sweep: acquiring lock: %w", err)
		}
		if !acquired {
			s.log.Debug().Msg("Sweep skipped, lock held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Failed to release sweeper lock")
			}
		}()
	}

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	ids, err := s.failer.FailStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}

	if len(ids) > 0 {
		s.log.Info().Int("count", len(ids)).Strs("transaction_ids", ids).Msg("Failed stale pending transactions")
	} else {
		s.log.Debug().Msg("No stale pending transactions")
	}
	return len(ids), nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// A failed pass is logged and the schedule continues.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Bool("locked", s.locker != nil).
		Msg("Sweeper started")

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Sweep failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
