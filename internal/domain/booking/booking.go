package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/google/uuid"
)

const bookingNumberChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Booking is the aggregate root for the booking domain.
// Its state is only ever changed through the state machine.
type Booking struct {
	id            uuid.UUID
	bookingNumber string
	customerID    uuid.UUID
	providerID    uuid.UUID
	serviceName   string

	state          State
	stateEnteredAt time.Time

	priceCents int64
	paidCents  int64
	currency   string

	scheduledAt *time.Time
	notes       string

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// generateBookingNumber creates a booking number in the format "BK-XXXXXX".
func generateBookingNumber() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bookingNumberChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking number: %w", err)
		}
		result[i] = bookingNumberChars[n.Int64()]
	}
	return "BK-" + string(result), nil
}

// NewBooking creates a new Booking aggregate in the draft state.
func NewBooking(
	customerID uuid.UUID,
	providerID uuid.UUID,
	serviceName string,
	priceCents int64,
	currency string,
	scheduledAt *time.Time,
	notes string,
	now time.Time,
) (*Booking, error) {
	if customerID == uuid.Nil {
		return nil, domain.NewValidationError("customer ID is required")
	}
	if providerID == uuid.Nil {
		return nil, domain.NewValidationError("provider ID is required")
	}
	if customerID == providerID {
		return nil, domain.NewValidationError("customer and provider must differ")
	}
	if serviceName == "" {
		return nil, domain.NewValidationError("service name is required")
	}
	if priceCents <= 0 {
		return nil, domain.NewValidationError("price must be positive")
	}
	if len(currency) != 3 {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid currency: %q", currency))
	}

	bookingNumber, err := generateBookingNumber()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Booking{
		id:             uuid.New(),
		bookingNumber:  bookingNumber,
		customerID:     customerID,
		providerID:     providerID,
		serviceName:    serviceName,
		state:          StateDraft,
		stateEnteredAt: now,
		priceCents:     priceCents,
		currency:       currency,
		scheduledAt:    scheduledAt,
		notes:          notes,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(
	id uuid.UUID,
	bookingNumber string,
	customerID uuid.UUID,
	providerID uuid.UUID,
	serviceName string,
	state State,
	stateEnteredAt time.Time,
	priceCents int64,
	paidCents int64,
	currency string,
	scheduledAt *time.Time,
	notes string,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Booking {
	return &Booking{
		id:             id,
		bookingNumber:  bookingNumber,
		customerID:     customerID,
		providerID:     providerID,
		serviceName:    serviceName,
		state:          state,
		stateEnteredAt: stateEnteredAt,
		priceCents:     priceCents,
		paidCents:      paidCents,
		currency:       currency,
		scheduledAt:    scheduledAt,
		notes:          notes,
		version:        version,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// --- Getters ---

// ID returns the booking's unique identifier.
func (b *Booking) ID() uuid.UUID { return b.id }

// BookingNumber returns the human-readable booking number.
func (b *Booking) BookingNumber() string { return b.bookingNumber }

// CustomerID returns the customer who requested the booking.
func (b *Booking) CustomerID() uuid.UUID { return b.customerID }

// ProviderID returns the provider delivering the service.
func (b *Booking) ProviderID() uuid.UUID { return b.providerID }

// ServiceName returns the name of the booked service.
func (b *Booking) ServiceName() string { return b.serviceName }

// State returns the current lifecycle state.
func (b *Booking) State() State { return b.state }

// StateEnteredAt returns when the booking entered its current state.
func (b *Booking) StateEnteredAt() time.Time { return b.stateEnteredAt }

// PriceCents returns the total price in minor units.
func (b *Booking) PriceCents() int64 { return b.priceCents }

// Currency returns the ISO 4217 currency code.
func (b *Booking) Currency() string { return b.currency }

// ScheduledAt returns the scheduled service time, if any.
func (b *Booking) ScheduledAt() *time.Time { return b.scheduledAt }

// Notes returns the customer notes.
func (b *Booking) Notes() string { return b.notes }

// Version returns the optimistic locking version.
func (b *Booking) Version() int64 { return b.version }

// CreatedAt returns the creation timestamp.
func (b *Booking) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-modified timestamp.
func (b *Booking) UpdatedAt() time.Time { return b.updatedAt }

// --- Behavior ---

// TotalPaid returns the amount that refunds are sized against.
// It is recorded when the payment is submitted, so a booking canceled as a draft has paid nothing.
func (b *Booking) TotalPaid() int64 { return b.paidCents }

// RoleOf returns the lifecycle role a user plays on this booking.
func (b *Booking) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case b.customerID:
		return RoleCustomer, true
	case b.providerID:
		return RoleProvider, true
	default:
		return "", false
	}
}

// Snapshot returns the persisted lifecycle view of the booking.
func (b *Booking) Snapshot() StateSnapshot {
	return StateSnapshot{
		BookingID:  b.id,
		State:      b.state,
		Version:    b.version,
		EnteredAt:  b.stateEnteredAt,
		PriceCents: b.priceCents,
		TotalPaid:  b.paidCents,
	}
}
