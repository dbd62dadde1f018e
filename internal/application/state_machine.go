package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultCommitAttempts = 3

// errStaleDecision means the booking left the state a decision was made from.
var errStaleDecision = errors.New("booking state changed since the decision was made")

// CommitResult describes a committed transition.
type CommitResult struct {
	BookingID uuid.UUID     `json:"booking_id"`
	From      booking.State `json:"from"`
	To        booking.State `json:"to"`
	Event     booking.Event `json:"event"`
	Version   int64         `json:"version"`
	EnteredAt time.Time     `json:"entered_at"`

	// Dispatched side effects completed synchronously.
	Dispatched []booking.SideEffect `json:"dispatched"`
	// Deferred side effects failed and were queued for retry.
	Deferred []booking.SideEffect `json:"deferred"`
}

// Lifecycle drives booking state machines against shared collaborators.
type Lifecycle struct {
	store     booking.StateStore
	executor  *booking.Executor
	payments  PaymentGateway
	notifier  Notifier
	deferred  DeferredQueue
	publisher TransitionPublisher
	clock     Clock
	metrics   *Metrics
	logger    *zap.Logger

	maxAttempts int
	newBackOff  func() backoff.BackOff
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithPublisher announces every committed transition through p.
func WithPublisher(p TransitionPublisher) LifecycleOption {
	return func(l *Lifecycle) { l.publisher = p }
}

// WithMetrics records lifecycle metrics on m.
func WithMetrics(m *Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// WithCommitAttempts bounds how many times a commit is tried on version conflicts.
func WithCommitAttempts(n int) LifecycleOption {
	return func(l *Lifecycle) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithCommitBackOff sets the wait policy between commit attempts.
func WithCommitBackOff(newBackOff func() backoff.BackOff) LifecycleOption {
	return func(l *Lifecycle) { l.newBackOff = newBackOff }
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle(
	store booking.StateStore,
	payments PaymentGateway,
	notifier Notifier,
	deferred DeferredQueue,
	clock Clock,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *Lifecycle {
	l := &Lifecycle{
		store:       store,
		executor:    booking.NewExecutor(),
		payments:    payments,
		notifier:    notifier,
		deferred:    deferred,
		clock:       clock,
		logger:      logger,
		maxAttempts: defaultCommitAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 250 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewNopMetrics()
	}
	return l
}

// For returns the state machine bound to one booking.
func (l *Lifecycle) For(bookingID uuid.UUID) *StateMachine {
	return &StateMachine{
		lifecycle: l,
		bookingID: bookingID,
		logger:    l.logger.With(zap.String("booking_id", bookingID.String())),
	}
}

// StateMachine is the lifecycle of a single booking.
type StateMachine struct {
	lifecycle *Lifecycle
	bookingID uuid.UUID
	logger    *zap.Logger
}

// BookingID returns the booking the machine is bound to.
func (m *StateMachine) BookingID() uuid.UUID { return m.bookingID }

// CurrentState reads the booking's state without side effects.
func (m *StateMachine) CurrentState(ctx context.Context) (booking.State, error) {
	snap, err := m.lifecycle.store.LoadState(ctx, m.bookingID)
	if err != nil {
		return "", err
	}
	return snap.State, nil
}

// CanSend reports whether event would currently be accepted. Nothing is committed.
func (m *StateMachine) CanSend(ctx context.Context, event booking.Event, tc booking.TransitionContext) bool {
	snap, err := m.lifecycle.store.LoadState(ctx, m.bookingID)
	if err != nil {
		return false
	}
	return m.lifecycle.executor.CanApply(snap.State, event, m.lifecycle.contextFor(tc, snap))
}

// AllowedEvents returns the events the role could send right now, in table order.
func (m *StateMachine) AllowedEvents(ctx context.Context, tc booking.TransitionContext) (booking.State, []booking.Event, error) {
	snap, err := m.lifecycle.store.LoadState(ctx, m.bookingID)
	if err != nil {
		return "", nil, err
	}
	tc = m.lifecycle.contextFor(tc, snap)

	var events []booking.Event
	for _, tr := range booking.ValidTransitionsFrom(snap.State) {
		if m.lifecycle.executor.CanApply(snap.State, tr.Event, tc) {
			events = append(events, tr.Event)
		}
	}
	return snap.State, events, nil
}

// Send applies event to the booking.
//
// The new state is committed with an optimistic version check. A payment capture
// required to enter the target state runs before the commit and must succeed.
// Refunds and notifications run after the commit; a failed one is queued for retry
// and reported in CommitResult.Deferred, never rolled back into the state.
func (m *StateMachine) Send(ctx context.Context, event booking.Event, tc booking.TransitionContext) (*CommitResult, error) {
	l := m.lifecycle
	log := m.logger.With(zap.String("event", string(event)))

	snap, err := l.store.LoadState(ctx, m.bookingID)
	if err != nil {
		return nil, err
	}
	decision, err := l.executor.Evaluate(snap.State, event, l.contextFor(tc, snap))
	if err != nil {
		l.metrics.rejections.WithLabelValues(string(event), rejectionReason(err)).Inc()
		log.Debug("event rejected", zap.String("state", string(snap.State)), zap.Error(err))
		return nil, err
	}

	dispatched := []booking.SideEffect{}
	for _, se := range decision.BlockingSideEffects() {
		if err := l.dispatch(ctx, m.bookingID, se); err != nil {
			l.metrics.rejections.WithLabelValues(string(event), "payment_capture").Inc()
			log.Warn("payment capture failed", zap.Error(err))
			return nil, &booking.PaymentCaptureError{BookingID: m.bookingID.String(), Err: err}
		}
		dispatched = append(dispatched, se)
	}

	commit, decision, attempts, err := m.commit(ctx, snap, decision, event, tc)
	if err != nil {
		if len(dispatched) > 0 {
			m.compensateCapture(ctx, snap, err)
		}
		if errors.Is(err, booking.ErrVersionConflict) || errors.Is(err, errStaleDecision) {
			log.Info("transition lost version race", zap.Int("attempts", attempts))
			return nil, &booking.PersistenceConflictError{BookingID: m.bookingID.String(), Attempts: attempts}
		}
		var stale *reevaluationError
		if errors.As(err, &stale) {
			return nil, stale.err
		}
		return nil, err
	}

	l.metrics.transitions.WithLabelValues(string(commit.From), string(commit.To), string(event)).Inc()

	result := &CommitResult{
		BookingID:  m.bookingID,
		From:       commit.From,
		To:         commit.To,
		Event:      event,
		Version:    commit.NewVersion,
		EnteredAt:  commit.EnteredAt,
		Dispatched: dispatched,
		Deferred:   []booking.SideEffect{},
	}
	for _, se := range decision.DeferrableSideEffects() {
		se = se.KeyedFor(m.bookingID, commit.NewVersion, "refund")
		if err := l.dispatch(ctx, m.bookingID, se); err != nil {
			m.deferSideEffect(ctx, se, err)
			result.Deferred = append(result.Deferred, se)
			continue
		}
		l.metrics.sideEffects.WithLabelValues(string(se.Kind), "dispatched").Inc()
		result.Dispatched = append(result.Dispatched, se)
	}

	if l.publisher != nil {
		if err := l.publisher.PublishTransition(ctx, result); err != nil {
			log.Error("failed to publish transition", zap.Error(err))
		}
	}

	log.Info("booking transitioned",
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.Int64("version", result.Version),
		zap.Int("deferred", len(result.Deferred)),
	)
	return result, nil
}

// reevaluationError carries an executor rejection raised while retrying a commit.
type reevaluationError struct{ err error }

func (e *reevaluationError) Error() string { return e.err.Error() }
func (e *reevaluationError) Unwrap() error { return e.err }

// commit writes the decision, re-reading and re-deciding on version conflicts while
// the stored state is still the one the decision was made from.
func (m *StateMachine) commit(
	ctx context.Context,
	snap booking.StateSnapshot,
	decision booking.TransitionResult,
	event booking.Event,
	tc booking.TransitionContext,
) (booking.StateCommit, booking.TransitionResult, int, error) {
	l := m.lifecycle
	decidedFrom := snap.State
	attempts := 0
	var committed booking.StateCommit

	op := func() error {
		attempts++
		c := booking.StateCommit{
			BookingID:       m.bookingID,
			ExpectedVersion: snap.Version,
			NewVersion:      snap.Version + 1,
			From:            decision.From,
			To:              decision.To,
			Event:           event,
			EnteredAt:       l.clock.Now(),
			PaidCents:       snap.PaidAfter(event),
			Role:            tc.Role,
			ActorID:         tc.ActorID,
			RefundAmount:    tc.RefundAmount,
			DisputeReason:   tc.DisputeReason,
		}
		err := l.store.CommitState(ctx, c)
		if err == nil {
			committed = c
			return nil
		}
		if !errors.Is(err, booking.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		l.metrics.conflicts.Inc()

		fresh, err := l.store.LoadState(ctx, m.bookingID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if fresh.State != decidedFrom {
			return backoff.Permanent(errStaleDecision)
		}
		redo, err := l.executor.Evaluate(fresh.State, event, l.contextFor(tc, fresh))
		if err != nil {
			return backoff.Permanent(&reevaluationError{err: err})
		}
		snap, decision = fresh, redo
		return booking.ErrVersionConflict
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), uint64(l.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return booking.StateCommit{}, decision, attempts, err
	}
	return committed, decision, attempts, nil
}

// compensateCapture queues a full refund for a capture whose transition was never committed.
func (m *StateMachine) compensateCapture(ctx context.Context, snap booking.StateSnapshot, cause error) {
	if snap.TotalPaid <= 0 {
		return
	}
	m.logger.Warn("refunding capture of uncommitted transition", zap.Error(cause))
	refund := booking.Refund(snap.TotalPaid).KeyedFor(m.bookingID, snap.Version+1, "capture-reversal")
	m.deferSideEffect(ctx, refund, cause)
}

func (m *StateMachine) deferSideEffect(ctx context.Context, se booking.SideEffect, cause error) {
	l := m.lifecycle
	l.metrics.sideEffects.WithLabelValues(string(se.Kind), "deferred").Inc()
	m.logger.Warn("side effect deferred",
		zap.Stringer("side_effect", se),
		zap.Error(cause),
	)
	if err := l.deferred.Enqueue(context.WithoutCancel(ctx), m.bookingID, se, cause); err != nil {
		m.logger.Error("failed to enqueue deferred side effect",
			zap.Stringer("side_effect", se),
			zap.Error(err),
		)
	}
}

func (l *Lifecycle) dispatch(ctx context.Context, bookingID uuid.UUID, se booking.SideEffect) error {
	return dispatchSideEffect(ctx, l.payments, l.notifier, bookingID, se)
}

func dispatchSideEffect(ctx context.Context, payments PaymentGateway, notifier Notifier, bookingID uuid.UUID, se booking.SideEffect) error {
	switch se.Kind {
	case booking.SideEffectCapturePayment:
		return payments.CaptureAuthorizedPayment(ctx, bookingID)
	case booking.SideEffectRefund:
		_, err := payments.IssueRefund(ctx, bookingID, se.Amount, se.IdempotencyKey)
		return err
	case booking.SideEffectNotify:
		return notifier.Notify(ctx, bookingID, se.Audience, se.NotificationKind)
	default:
		return fmt.Errorf("unknown side effect kind %q", se.Kind)
	}
}

// contextFor fills the stored facts of a snapshot into the caller's context.
func (l *Lifecycle) contextFor(tc booking.TransitionContext, snap booking.StateSnapshot) booking.TransitionContext {
	if tc.At.IsZero() {
		tc.At = l.clock.Now()
	}
	tc.EnteredAt = snap.EnteredAt
	tc.TotalPaid = snap.TotalPaid
	return tc
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, booking.ErrTerminalState):
		return "terminal"
	case errors.Is(err, booking.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, booking.ErrUnauthorizedTransition):
		return "unauthorized"
	case errors.Is(err, booking.ErrGuardFailed):
		return "guard"
	default:
		return "other"
	}
}
