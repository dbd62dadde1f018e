package booking

import (
	"fmt"

	"github.com/google/uuid"
)

// SideEffectKind identifies the collaborator action a transition requires.
type SideEffectKind string

const (
	SideEffectCapturePayment SideEffectKind = "capture_payment"
	SideEffectRefund         SideEffectKind = "refund"
	SideEffectNotify         SideEffectKind = "notify"
)

// Audience is the party a notification is addressed to.
type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceProvider Audience = "provider"
)

// SideEffect describes an action to perform as a consequence of a transition.
// The executor only describes side effects; the state machine dispatches them.
type SideEffect struct {
	Kind SideEffectKind `json:"kind"`

	// Amount is the refund amount in minor units. Only set for refunds.
	Amount int64 `json:"amount,omitempty"`

	// Audience and NotificationKind are only set for notifications.
	Audience         Audience `json:"audience,omitempty"`
	NotificationKind string   `json:"notification_kind,omitempty"`

	// IdempotencyKey lets the payment service recognize a refund it already booked.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Blocking reports whether the side effect must succeed before the state is committed.
func (s SideEffect) Blocking() bool {
	return s.Kind == SideEffectCapturePayment
}

func (s SideEffect) String() string {
	switch s.Kind {
	case SideEffectRefund:
		return fmt.Sprintf("refund(%d)", s.Amount)
	case SideEffectNotify:
		return fmt.Sprintf("notify(%s:%s)", s.Audience, s.NotificationKind)
	default:
		return string(s.Kind)
	}
}

// KeyedFor stamps a refund with a key derived from the transition that produced it.
// Other side effects are returned unchanged.
func (s SideEffect) KeyedFor(bookingID uuid.UUID, version int64, purpose string) SideEffect {
	if s.Kind != SideEffectRefund || s.IdempotencyKey != "" {
		return s
	}
	s.IdempotencyKey = fmt.Sprintf("%s:v%d:%s", bookingID, version, purpose)
	return s
}

// CapturePayment returns a payment capture side effect.
func CapturePayment() SideEffect {
	return SideEffect{Kind: SideEffectCapturePayment}
}

// Refund returns a refund side effect for the given amount in minor units.
func Refund(amount int64) SideEffect {
	return SideEffect{Kind: SideEffectRefund, Amount: amount}
}

// Notify returns a notification side effect for the audience.
func Notify(audience Audience, kind string) SideEffect {
	return SideEffect{Kind: SideEffectNotify, Audience: audience, NotificationKind: kind}
}

// NotificationKindFor returns the notification kind emitted when a booking enters a state.
func NotificationKindFor(s State) string {
	return "booking." + string(s)
}
