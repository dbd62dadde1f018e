package application

import (
	"context"
	"time"

	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/google/uuid"
)

// PaymentGateway captures authorized payments and issues refunds.
// A refund sent again with the same idempotency key must not pay out twice.
type PaymentGateway interface {
	CaptureAuthorizedPayment(ctx context.Context, bookingID uuid.UUID) error
	IssueRefund(ctx context.Context, bookingID uuid.UUID, amount int64, idempotencyKey string) (refundID string, err error)
}

// PaymentAuthorizer reports whether a booking's payment is currently authorized.
type PaymentAuthorizer interface {
	IsAuthorized(ctx context.Context, bookingID uuid.UUID) (bool, error)
}

// Notifier enqueues a notification for one party of a booking.
type Notifier interface {
	Notify(ctx context.Context, bookingID uuid.UUID, audience booking.Audience, kind string) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DeferredQueue stores side effects whose dispatch failed so they can be retried later.
type DeferredQueue interface {
	Enqueue(ctx context.Context, bookingID uuid.UUID, effect booking.SideEffect, cause error) error
}

// TransitionPublisher announces committed transitions to other services.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, result *CommitResult) error
}
