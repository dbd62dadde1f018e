package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery status of a deferred side effect.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEntry is a side effect whose dispatch failed after its transition committed.
type OutboxEntry struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	Effect        SideEffect
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// OutboxRepository persists deferred side effects until they are delivered.
type OutboxRepository interface {
	// Enqueue stores a new pending entry due immediately.
	Enqueue(ctx context.Context, bookingID uuid.UUID, effect SideEffect, cause error) error

	// ClaimDue returns up to limit pending entries due at now and leases them until leaseUntil.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*OutboxEntry, error)

	// MarkDelivered marks an entry as delivered.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	// MarkRetry records a failed attempt and schedules the next one.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error

	// MarkFailed gives up on an entry.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error

	// CountByStatus returns entry counts grouped by status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
