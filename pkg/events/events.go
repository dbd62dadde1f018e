// Package events defines the topics, event types and payloads exchanged over Kafka.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicBookingEvents       = "booking.events"
	TopicPaymentEvents       = "payment.events"
	TopicBookingNotification = "booking.notifications"
)

// Booking event types.
const (
	BookingRequested    = "booking.requested"
	BookingStateChanged = "booking.state_changed"
)

// Payment event types consumed by the booking service.
const (
	PaymentAuthorized       = "payment.authorized"
	PaymentChargebackOpened = "payment.chargeback_opened"
)

// NotificationRequested is the event type of notification requests.
const NotificationRequested = "notification.requested"

// BookingRequestedEvent is published when a draft booking is created.
type BookingRequestedEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	CustomerID    uuid.UUID `json:"customer_id"`
	ProviderID    uuid.UUID `json:"provider_id"`
	ServiceName   string    `json:"service_name"`
	PriceCents    int64     `json:"price_cents"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// SideEffectPayload describes a side effect of a transition.
type SideEffectPayload struct {
	Kind             string `json:"kind"`
	Amount           int64  `json:"amount,omitempty"`
	Audience         string `json:"audience,omitempty"`
	NotificationKind string `json:"notification_kind,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
}

// BookingStateChangedEvent is published after every committed transition.
type BookingStateChangedEvent struct {
	BookingID  uuid.UUID           `json:"booking_id"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Event      string              `json:"event"`
	Version    int64               `json:"version"`
	Dispatched []SideEffectPayload `json:"dispatched"`
	Deferred   []SideEffectPayload `json:"deferred"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// NotificationRequestedEvent asks the notification service to message one party.
type NotificationRequestedEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	Audience   string    `json:"audience"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PaymentAuthorizedEvent is published by the payment service once a hold is placed.
type PaymentAuthorizedEvent struct {
	BookingID   uuid.UUID `json:"booking_id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ChargebackOpenedEvent is published by the payment service when a card dispute is opened.
type ChargebackOpenedEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
