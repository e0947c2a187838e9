package service

import (
	"context"
	"log/slog"
	"time"

	"gatepass/internal/notify"
	"gatepass/internal/platform/metrics"
)

const sweepLockKey = "gatepass:expiration-sweep"

// Locker elects a single sweeping instance. A nil Locker means this process
// always sweeps (single-instance deployment).
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Sweeper proactively flips pending/approved visits past their expiration to
// expired, so tokens die even when nobody scans them. It agrees with the
// lazy scan-time check by construction: both funnel through the same state
// machine and version column.
type Sweeper struct {
	visits   VisitStore
	locker   Locker
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
	location *time.Location
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func SweeperWithLocker(l Locker) SweeperOption {
	return func(s *Sweeper) { s.locker = l }
}

func SweeperWithNotifier(n Notifier) SweeperOption {
	return func(s *Sweeper) { s.notifier = n }
}

func SweeperWithLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

func SweeperWithMetrics(m *metrics.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

func SweeperWithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func SweeperWithLocation(loc *time.Location) SweeperOption {
	return func(s *Sweeper) { s.location = loc }
}

// NewSweeper constructs a Sweeper running at the given interval.
func NewSweeper(visits VisitStore, interval, lockTTL time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		visits:   visits,
		logger:   slog.Default(),
		interval: interval,
		lockTTL:  lockTTL,
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("expiration sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single sweep, taking the leader lock when configured.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, sweepLockKey, s.lockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
				s.logger.Warn("failed to release sweep lock", "error", err)
			}
		}()
	}

	now := s.now().In(s.location)
	flipped, err := s.visits.ExpireDue(ctx, now)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}
	if len(flipped) == 0 {
		return nil
	}

	s.logger.Info("expired overdue visits", "count", len(flipped))
	for _, visit := range flipped {
		if s.metrics != nil {
			s.metrics.IncrementVisitsExpired()
		}
		if s.notifier != nil {
			s.notifier.Enqueue(notify.Event{
				Kind:    notify.EventVisitExpired,
				VisitID: visit.ID,
				At:      s.now(),
			})
		}
	}
	return nil
}
