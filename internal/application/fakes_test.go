package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/bookwell/service-booking/pkg/kafka"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRepo is an in-memory BookingRepository and TransitionLogRepository.
type memoryRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*booking.Booking
	log      map[uuid.UUID][]*booking.TransitionRecord

	// onLoad runs before every LoadState, outside the lock.
	onLoad func()
	// commitErr, when set, is returned by CommitState instead of writing.
	commitErr error
	// lostRaces makes that many CommitState calls fail with a version conflict.
	lostRaces int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		bookings: make(map[uuid.UUID]*booking.Booking),
		log:      make(map[uuid.UUID][]*booking.TransitionRecord),
	}
}

func (r *memoryRepo) LoadState(_ context.Context, id uuid.UUID) (booking.StateSnapshot, error) {
	if r.onLoad != nil {
		r.onLoad()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bk, ok := r.bookings[id]
	if !ok {
		return booking.StateSnapshot{}, domain.NewNotFoundError("Booking", id.String())
	}
	return bk.Snapshot(), nil
}

func (r *memoryRepo) CommitState(_ context.Context, c booking.StateCommit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	if r.lostRaces > 0 {
		r.lostRaces--
		return booking.ErrVersionConflict
	}
	bk, ok := r.bookings[c.BookingID]
	if !ok {
		return domain.NewNotFoundError("Booking", c.BookingID.String())
	}
	if bk.Version() != c.ExpectedVersion {
		return booking.ErrVersionConflict
	}
	r.bookings[c.BookingID] = booking.ReconstructBooking(
		bk.ID(), bk.BookingNumber(), bk.CustomerID(), bk.ProviderID(), bk.ServiceName(),
		c.To, c.EnteredAt, bk.PriceCents(), c.PaidCents, bk.Currency(), bk.ScheduledAt(), bk.Notes(),
		c.NewVersion, bk.CreatedAt(), c.EnteredAt,
	)
	r.log[c.BookingID] = append(r.log[c.BookingID], &booking.TransitionRecord{
		ID:            uuid.New(),
		BookingID:     c.BookingID,
		From:          c.From,
		To:            c.To,
		Event:         c.Event,
		Role:          c.Role,
		ActorID:       c.ActorID,
		Version:       c.NewVersion,
		RefundAmount:  c.RefundAmount,
		DisputeReason: c.DisputeReason,
		OccurredAt:    c.EnteredAt,
	})
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bk, ok := r.bookings[id]
	if !ok {
		return nil, domain.NewNotFoundError("Booking", id.String())
	}
	return bk, nil
}

func (r *memoryRepo) FindByNumber(_ context.Context, number string) (*booking.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bk := range r.bookings {
		if bk.BookingNumber() == number {
			return bk, nil
		}
	}
	return nil, domain.NewNotFoundError("Booking", number)
}

func (r *memoryRepo) filter(keep func(*booking.Booking) bool, page, limit int) ([]*booking.Booking, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*booking.Booking
	for _, bk := range r.bookings {
		if keep(bk) {
			all = append(all, bk)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt().After(all[j].CreatedAt()) })

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memoryRepo) FindByCustomerID(_ context.Context, customerID uuid.UUID, page, limit int) ([]*booking.Booking, int64, error) {
	return r.filter(func(bk *booking.Booking) bool { return bk.CustomerID() == customerID }, page, limit)
}

func (r *memoryRepo) FindByProviderID(_ context.Context, providerID uuid.UUID, page, limit int) ([]*booking.Booking, int64, error) {
	return r.filter(func(bk *booking.Booking) bool { return bk.ProviderID() == providerID }, page, limit)
}

func (r *memoryRepo) ListAll(_ context.Context, page, limit int) ([]*booking.Booking, int64, error) {
	return r.filter(func(*booking.Booking) bool { return true }, page, limit)
}

func (r *memoryRepo) FindDwellExpired(_ context.Context, state booking.State, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, bk := range r.bookings {
		if bk.State() == state && !bk.StateEnteredAt().After(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memoryRepo) CountByState(_ context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, bk := range r.bookings {
		counts[string(bk.State())]++
	}
	return counts, nil
}

func (r *memoryRepo) Save(_ context.Context, bk *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[bk.ID()] = bk
	return nil
}

func (r *memoryRepo) FindByBookingID(_ context.Context, id uuid.UUID) ([]*booking.TransitionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*booking.TransitionRecord(nil), r.log[id]...), nil
}

// seed stores a booking directly in state s, entered at enteredAt.
// Bookings past draft are seeded as fully paid.
func (r *memoryRepo) seed(s booking.State, enteredAt time.Time) *booking.Booking {
	paid := int64(10000)
	if s == booking.StateDraft {
		paid = 0
	}
	bk := booking.ReconstructBooking(
		uuid.New(), "BK-TEST01", uuid.New(), uuid.New(), "Deep clean",
		s, enteredAt, 10000, paid, "USD", nil, "", 1, enteredAt, enteredAt,
	)
	r.mu.Lock()
	r.bookings[bk.ID()] = bk
	r.mu.Unlock()
	return bk
}

func (r *memoryRepo) stateOf(id uuid.UUID) booking.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bookings[id].State()
}

type fakePayments struct {
	mu         sync.Mutex
	captureErr error
	refundErr  error
	authorized bool
	captures   int
	refunds    []int64
	refundKeys []string
}

func (p *fakePayments) CaptureAuthorizedPayment(context.Context, uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.captureErr != nil {
		return p.captureErr
	}
	p.captures++
	return nil
}

func (p *fakePayments) IssueRefund(_ context.Context, _ uuid.UUID, amount int64, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundKeys = append(p.refundKeys, key)
	if p.refundErr != nil {
		return "", p.refundErr
	}
	p.refunds = append(p.refunds, amount)
	return "rf_" + uuid.NewString(), nil
}

func (p *fakePayments) IsAuthorized(context.Context, uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized, nil
}

type sentNotification struct {
	bookingID uuid.UUID
	audience  booking.Audience
	kind      string
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []sentNotification
}

func (n *fakeNotifier) Notify(_ context.Context, id uuid.UUID, audience booking.Audience, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{bookingID: id, audience: audience, kind: kind})
	return nil
}

// memoryOutbox is an in-memory OutboxRepository that also serves as the DeferredQueue.
type memoryOutbox struct {
	mu      sync.Mutex
	entries []*booking.OutboxEntry
}

func (o *memoryOutbox) Enqueue(_ context.Context, id uuid.UUID, effect booking.SideEffect, cause error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := &booking.OutboxEntry{
		ID:        uuid.New(),
		BookingID: id,
		Effect:    effect,
		Status:    booking.OutboxPending,
		CreatedAt: testStart,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	o.entries = append(o.entries, entry)
	return nil
}

func (o *memoryOutbox) ClaimDue(_ context.Context, now, leaseUntil time.Time, limit int) ([]*booking.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var due []*booking.OutboxEntry
	for _, e := range o.entries {
		if e.Status == booking.OutboxPending && !e.NextAttemptAt.After(now) && len(due) < limit {
			e.NextAttemptAt = leaseUntil
			copied := *e
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (o *memoryOutbox) find(id uuid.UUID) *booking.OutboxEntry {
	for _, e := range o.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (o *memoryOutbox) MarkDelivered(_ context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.find(id).Status = booking.OutboxDelivered
	return nil
}

func (o *memoryOutbox) MarkRetry(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.find(id)
	e.Attempts, e.NextAttemptAt, e.LastError = attempts, next, lastErr
	return nil
}

func (o *memoryOutbox) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.find(id)
	e.Status, e.Attempts, e.LastError = booking.OutboxFailed, attempts, lastErr
	return nil
}

func (o *memoryOutbox) CountByStatus(context.Context) (map[string]int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range o.entries {
		counts[string(e.Status)]++
	}
	return counts, nil
}

func (o *memoryOutbox) snapshot() []booking.OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]booking.OutboxEntry, len(o.entries))
	for i, e := range o.entries {
		out[i] = *e
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []*CommitResult
	events  []*kafka.CloudEvent
}

func (p *recordingPublisher) PublishTransition(_ context.Context, r *CommitResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func (p *recordingPublisher) PublishEvent(_ context.Context, _ string, evt *kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

var errUnavailable = errors.New("collaborator unavailable")

type harness struct {
	repo      *memoryRepo
	payments  *fakePayments
	notifier  *fakeNotifier
	outbox    *memoryOutbox
	publisher *recordingPublisher
	clock     *fakeClock
	lifecycle *Lifecycle
}

func newHarness(opts ...LifecycleOption) *harness {
	h := &harness{
		repo:      newMemoryRepo(),
		payments:  &fakePayments{authorized: true},
		notifier:  &fakeNotifier{},
		outbox:    &memoryOutbox{},
		publisher: &recordingPublisher{},
		clock:     newFakeClock(),
	}
	opts = append([]LifecycleOption{
		WithPublisher(h.publisher),
		WithCommitBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	h.lifecycle = NewLifecycle(h.repo, h.payments, h.notifier, h.outbox, h.clock, zap.NewNop(), opts...)
	return h
}
