package booking

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrTerminalState          = errors.New("booking is in a terminal state")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrUnauthorizedTransition = errors.New("role not allowed to trigger transition")
	ErrGuardFailed            = errors.New("transition guard failed")
	ErrPersistenceConflict    = errors.New("booking state was modified concurrently")
	ErrPaymentCapture         = errors.New("payment capture failed")

	// ErrVersionConflict is returned by a StateStore when the expected version no longer matches.
	ErrVersionConflict = errors.New("state version conflict")
)

// TerminalStateError is returned for any event sent to a booking in a terminal state.
type TerminalStateError struct {
	State State
	Event Event
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("booking is in terminal state %s and cannot accept %s", e.State, e.Event)
}

func (e *TerminalStateError) Unwrap() error { return ErrTerminalState }

// InvalidTransitionError is returned when no transition is registered for (state, event).
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Event)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// UnauthorizedTransitionError is returned when the caller's role may not trigger the event.
type UnauthorizedTransitionError struct {
	From  State
	Event Event
	Role  Role
}

func (e *UnauthorizedTransitionError) Error() string {
	return fmt.Sprintf("role %q may not send %s from %s", e.Role, e.Event, e.From)
}

func (e *UnauthorizedTransitionError) Unwrap() error { return ErrUnauthorizedTransition }

// GuardFailedError is returned when a business precondition of the transition is unmet.
// Reason is safe to relay to the end user.
type GuardFailedError struct {
	From   State
	Event  Event
	Reason string
}

func (e *GuardFailedError) Error() string {
	return fmt.Sprintf("cannot send %s from %s: %s", e.Event, e.From, e.Reason)
}

func (e *GuardFailedError) Unwrap() error { return ErrGuardFailed }

// InvalidRefundAmountError is a guard failure caused by a refund amount outside (0, totalPaid].
type InvalidRefundAmountError struct {
	Event     Event
	Amount    int64
	TotalPaid int64
}

func (e *InvalidRefundAmountError) Error() string {
	return fmt.Sprintf("invalid refund amount %d for %s (total paid %d)", e.Amount, e.Event, e.TotalPaid)
}

func (e *InvalidRefundAmountError) Unwrap() error { return ErrGuardFailed }

// PersistenceConflictError is returned when the optimistic version race was lost.
// The caller must re-read the booking before retrying.
type PersistenceConflictError struct {
	BookingID string
	Attempts  int
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("booking %s was modified concurrently (after %d attempts)", e.BookingID, e.Attempts)
}

func (e *PersistenceConflictError) Unwrap() error { return ErrPersistenceConflict }

// PaymentCaptureError is returned when the payment collaborator refused to capture.
// The booking state is left unchanged.
type PaymentCaptureError struct {
	BookingID string
	Err       error
}

func (e *PaymentCaptureError) Error() string {
	return fmt.Sprintf("capture payment for booking %s: %v", e.BookingID, e.Err)
}

func (e *PaymentCaptureError) Unwrap() []error { return []error{ErrPaymentCapture, e.Err} }
