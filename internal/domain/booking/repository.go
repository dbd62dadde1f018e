package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StateSnapshot is the lifecycle view of a booking used by the state machine.
type StateSnapshot struct {
	BookingID uuid.UUID
	State     State
	Version   int64
	EnteredAt time.Time

	// PriceCents is the booking price; TotalPaid is how much of it the customer has paid.
	PriceCents int64
	TotalPaid  int64
}

// PaidAfter returns the amount paid once event has been committed.
// The price becomes paid when the payment is submitted; nothing else changes it.
func (s StateSnapshot) PaidAfter(event Event) int64 {
	if event == EventSubmitPayment {
		return s.PriceCents
	}
	return s.TotalPaid
}

// StateCommit is a conditional state write. It succeeds only while the stored
// version still equals ExpectedVersion.
type StateCommit struct {
	BookingID       uuid.UUID
	ExpectedVersion int64
	NewVersion      int64
	From            State
	To              State
	Event           Event
	EnteredAt       time.Time
	PaidCents       int64

	// Audit fields recorded in the transition log.
	Role          Role
	ActorID       uuid.UUID
	RefundAmount  *int64
	DisputeReason string
}

// TransitionRecord is an append-only audit row written with every committed transition.
type TransitionRecord struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	From          State
	To            State
	Event         Event
	Role          Role
	ActorID       uuid.UUID
	Version       int64
	RefundAmount  *int64
	DisputeReason string
	OccurredAt    time.Time
}

// StateStore is the persistence contract the state machine depends on.
type StateStore interface {
	// LoadState returns the current lifecycle snapshot of a booking.
	LoadState(ctx context.Context, id uuid.UUID) (StateSnapshot, error)

	// CommitState writes the new state and a transition record atomically.
	// It returns ErrVersionConflict when the expected version no longer matches.
	CommitState(ctx context.Context, commit StateCommit) error
}

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	StateStore

	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByNumber retrieves a booking by its human-readable booking number.
	FindByNumber(ctx context.Context, number string) (*Booking, error)

	// FindByCustomerID retrieves bookings belonging to a customer with pagination.
	FindByCustomerID(ctx context.Context, customerID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// FindByProviderID retrieves bookings assigned to a provider with pagination.
	FindByProviderID(ctx context.Context, providerID uuid.UUID, page, limit int) ([]*Booking, int64, error)

	// FindDwellExpired returns ids of bookings that entered state at or before cutoff.
	FindDwellExpired(ctx context.Context, state State, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// ListAll retrieves all bookings with pagination (admin).
	ListAll(ctx context.Context, page, limit int) ([]*Booking, int64, error)

	// CountByState returns booking counts grouped by state (admin).
	CountByState(ctx context.Context) (map[string]int64, error)

	// Save persists a new booking.
	Save(ctx context.Context, booking *Booking) error
}

// TransitionLogRepository reads the transition audit log.
type TransitionLogRepository interface {
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*TransitionRecord, error)
}
