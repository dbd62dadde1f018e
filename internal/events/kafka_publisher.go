package events

import (
	"context"
	"fmt"
	"time"

	"github.com/bookwell/service-booking/internal/application"
	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/events"
	"github.com/bookwell/service-booking/pkg/kafka"
	"github.com/google/uuid"
)

const source = "service-booking"

// KafkaNotifier requests notifications by publishing them to the notification topic.
type KafkaNotifier struct {
	producer application.EventPublisher
	now      func() time.Time
}

// NewKafkaNotifier creates a new KafkaNotifier.
func NewKafkaNotifier(producer application.EventPublisher) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify publishes a notification request for one party of the booking.
func (n *KafkaNotifier) Notify(ctx context.Context, bookingID uuid.UUID, audience booking.Audience, kind string) error {
	evt, err := kafka.NewCloudEvent(source, events.NotificationRequested, events.NotificationRequestedEvent{
		BookingID:  bookingID,
		Audience:   string(audience),
		Kind:       kind,
		OccurredAt: n.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to build notification event: %w", err)
	}
	return n.producer.PublishEvent(ctx, events.TopicBookingNotification, evt.WithSubject(bookingID.String()))
}

// KafkaTransitionPublisher announces committed transitions on the booking topic.
type KafkaTransitionPublisher struct {
	producer application.EventPublisher
}

// NewKafkaTransitionPublisher creates a new KafkaTransitionPublisher.
func NewKafkaTransitionPublisher(producer application.EventPublisher) *KafkaTransitionPublisher {
	return &KafkaTransitionPublisher{producer: producer}
}

// PublishTransition publishes a booking.state_changed event.
func (p *KafkaTransitionPublisher) PublishTransition(ctx context.Context, result *application.CommitResult) error {
	evt, err := kafka.NewCloudEvent(source, events.BookingStateChanged, events.BookingStateChangedEvent{
		BookingID:  result.BookingID,
		From:       string(result.From),
		To:         string(result.To),
		Event:      string(result.Event),
		Version:    result.Version,
		Dispatched: toPayloads(result.Dispatched),
		Deferred:   toPayloads(result.Deferred),
		OccurredAt: result.EnteredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to build state changed event: %w", err)
	}
	return p.producer.PublishEvent(ctx, events.TopicBookingEvents, evt.WithSubject(result.BookingID.String()))
}

func toPayloads(effects []booking.SideEffect) []events.SideEffectPayload {
	out := make([]events.SideEffectPayload, len(effects))
	for i, se := range effects {
		out[i] = events.SideEffectPayload{
			Kind:             string(se.Kind),
			Amount:           se.Amount,
			Audience:         string(se.Audience),
			NotificationKind: se.NotificationKind,
			IdempotencyKey:   se.IdempotencyKey,
		}
	}
	return out
}
