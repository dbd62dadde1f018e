package application

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	Workers     int
	MaxAttempts int
	// Lease is how long a claimed entry stays invisible to other relays.
	Lease time.Duration
}

// OutboxRelay retries deferred side effects until they are delivered or given up on.
type OutboxRelay struct {
	outbox   booking.OutboxRepository
	payments PaymentGateway
	notifier Notifier
	clock    Clock
	cfg      RelayConfig
	metrics  *Metrics
	logger   *zap.Logger
}

// NewOutboxRelay creates a new OutboxRelay.
func NewOutboxRelay(
	outbox booking.OutboxRepository,
	payments PaymentGateway,
	notifier Notifier,
	clock Clock,
	cfg RelayConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &OutboxRelay{
		outbox:   outbox,
		payments: payments,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("outbox-relay"),
	}
}

// Run relays due entries every configured interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce attempts every due entry once and returns how many were delivered.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	entries, err := r.outbox.ClaimDue(ctx, now, now.Add(r.cfg.Lease), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var delivered atomic.Int64
	pool := pond.NewPool(r.cfg.Workers, pond.WithContext(ctx))
	defer pool.StopAndWait()
	group := pool.NewGroup()
	for _, entry := range entries {
		entry := entry
		group.Submit(func() {
			if r.deliver(ctx, entry, now) {
				delivered.Inc()
			}
		})
	}
	if err := group.Wait(); err != nil {
		return int(delivered.Load()), err
	}
	return int(delivered.Load()), nil
}

func (r *OutboxRelay) deliver(ctx context.Context, entry *booking.OutboxEntry, now time.Time) bool {
	log := r.logger.With(
		zap.String("booking_id", entry.BookingID.String()),
		zap.String("outbox_id", entry.ID.String()),
		zap.Stringer("side_effect", entry.Effect),
	)

	err := dispatchSideEffect(ctx, r.payments, r.notifier, entry.BookingID, entry.Effect)
	if err == nil {
		if markErr := r.outbox.MarkDelivered(ctx, entry.ID); markErr != nil {
			log.Error("failed to mark outbox entry delivered", zap.Error(markErr))
		}
		r.metrics.outbox.WithLabelValues(string(entry.Effect.Kind), "delivered").Inc()
		log.Info("deferred side effect delivered", zap.Int("attempts", entry.Attempts+1))
		return true
	}

	attempts := entry.Attempts + 1
	if attempts >= r.cfg.MaxAttempts {
		if markErr := r.outbox.MarkFailed(ctx, entry.ID, attempts, err.Error()); markErr != nil {
			log.Error("failed to mark outbox entry failed", zap.Error(markErr))
		}
		r.metrics.outbox.WithLabelValues(string(entry.Effect.Kind), "failed").Inc()
		log.Error("giving up on deferred side effect", zap.Int("attempts", attempts), zap.Error(err))
		return false
	}

	next := now.Add(retryDelay(attempts))
	if markErr := r.outbox.MarkRetry(ctx, entry.ID, attempts, next, err.Error()); markErr != nil {
		log.Error("failed to reschedule outbox entry", zap.Error(markErr))
	}
	r.metrics.outbox.WithLabelValues(string(entry.Effect.Kind), "retry").Inc()
	log.Warn("deferred side effect failed again", zap.Int("attempts", attempts), zap.Time("next_attempt_at", next), zap.Error(err))
	return false
}

// retryDelay returns the wait before the given attempt number.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.MaxInterval = time.Hour
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
