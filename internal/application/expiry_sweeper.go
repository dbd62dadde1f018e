package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DwellExpiredFinder lists bookings that have sat in a state since before cutoff.
type DwellExpiredFinder interface {
	FindDwellExpired(ctx context.Context, state booking.State, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// SweeperConfig tunes the expiry sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned int64 `json:"scanned"`
	Expired int64 `json:"expired"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// ExpirySweeper forces expiry events on bookings that outstayed their state's dwell limit.
// It sends them through the regular state machine, so guards and version checks apply.
type ExpirySweeper struct {
	finder    DwellExpiredFinder
	lifecycle *Lifecycle
	clock     Clock
	cfg       SweeperConfig
	metrics   *Metrics
	logger    *zap.Logger
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(
	finder DwellExpiredFinder,
	lifecycle *Lifecycle,
	clock Clock,
	cfg SweeperConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &ExpirySweeper{
		finder:    finder,
		lifecycle: lifecycle,
		clock:     clock,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.Named("expiry-sweeper"),
	}
}

// Run sweeps every configured interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires every overdue booking found in one pass.
// Redundant or raced expiries are counted as skipped, not failed.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { s.metrics.sweepDuration.Observe(time.Since(start).Seconds()) }()

	now := s.clock.Now()
	var scanned, expired, skipped, failed atomic.Int64

	pool := pond.NewPool(s.cfg.Workers, pond.WithContext(ctx))
	defer pool.StopAndWait()
	group := pool.NewGroup()

	var findErr error
	for _, state := range booking.DwellBoundedStates() {
		meta := booking.MetadataFor(state)
		limit, _ := meta.DwellLimit()

		ids, err := s.finder.FindDwellExpired(ctx, state, now.Add(-limit), s.cfg.BatchSize)
		if err != nil {
			findErr = errors.Join(findErr, fmt.Errorf("failed to find expired %s bookings: %w", state, err))
			continue
		}
		scanned.Add(int64(len(ids)))

		for _, id := range ids {
			id, state, event := id, state, meta.ExpiryEvent
			group.Submit(func() {
				switch s.expire(ctx, id, state, event, now) {
				case expireOutcomeExpired:
					expired.Inc()
				case expireOutcomeSkipped:
					skipped.Inc()
				default:
					failed.Inc()
				}
			})
		}
	}
	if err := group.Wait(); err != nil {
		findErr = errors.Join(findErr, err)
	}

	report := SweepReport{
		Scanned: scanned.Load(),
		Expired: expired.Load(),
		Skipped: skipped.Load(),
		Failed:  failed.Load(),
	}
	if report.Scanned > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int64("scanned", report.Scanned),
			zap.Int64("expired", report.Expired),
			zap.Int64("skipped", report.Skipped),
			zap.Int64("failed", report.Failed),
		)
	}
	return report, findErr
}

type expireOutcome string

const (
	expireOutcomeExpired expireOutcome = "expired"
	expireOutcomeSkipped expireOutcome = "skipped"
	expireOutcomeFailed  expireOutcome = "failed"
)

func (s *ExpirySweeper) expire(ctx context.Context, id uuid.UUID, state booking.State, event booking.Event, now time.Time) expireOutcome {
	_, err := s.lifecycle.For(id).Send(ctx, event, booking.TransitionContext{
		Role: booking.RoleSystem,
		At:   now,
	})

	outcome := expireOutcomeExpired
	switch {
	case err == nil:
	case isBenignExpiryError(err):
		outcome = expireOutcomeSkipped
		s.logger.Debug("expiry skipped",
			zap.String("booking_id", id.String()),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	default:
		outcome = expireOutcomeFailed
		s.logger.Error("failed to expire booking",
			zap.String("booking_id", id.String()),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
	s.metrics.sweepExpired.WithLabelValues(string(state), string(outcome)).Inc()
	return outcome
}

// isBenignExpiryError reports errors caused by the booking having moved on since it was found.
func isBenignExpiryError(err error) bool {
	return errors.Is(err, booking.ErrInvalidTransition) ||
		errors.Is(err, booking.ErrTerminalState) ||
		errors.Is(err, booking.ErrGuardFailed) ||
		errors.Is(err, booking.ErrPersistenceConflict)
}
