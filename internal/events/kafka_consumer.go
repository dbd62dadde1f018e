package events

import (
	"context"
	"encoding/json"

	"github.com/bookwell/service-booking/pkg/events"
	"github.com/bookwell/service-booking/pkg/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// PaymentEventHandler applies payment outcomes to bookings.
type PaymentEventHandler interface {
	HandlePaymentAuthorized(ctx context.Context, bookingID uuid.UUID) error
	HandleChargebackOpened(ctx context.Context, bookingID uuid.UUID, reason string) error
}

// PaymentEventConsumer listens to payment events and drives the matching booking transitions.
type PaymentEventConsumer struct {
	consumer *kafka.Consumer
	handler  PaymentEventHandler
	logger   *zap.Logger
}

// NewPaymentEventConsumer creates a new PaymentEventConsumer.
func NewPaymentEventConsumer(
	brokers []string,
	groupID string,
	handler PaymentEventHandler,
	logger *zap.Logger,
) *PaymentEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, events.TopicPaymentEvents, logger)
	return &PaymentEventConsumer{
		consumer: consumer,
		handler:  handler,
		logger:   logger,
	}
}

// Start begins consuming payment events. This blocks until the context is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *PaymentEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *PaymentEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	var cloudEvent kafka.CloudEvent
	if err := json.Unmarshal(msg.Value, &cloudEvent); err != nil {
		c.logger.Error("failed to parse cloud event from payment topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case events.PaymentAuthorized:
		return c.handlePaymentAuthorized(ctx, cloudEvent)
	case events.PaymentChargebackOpened:
		return c.handleChargebackOpened(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled payment event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *PaymentEventConsumer) handlePaymentAuthorized(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt events.PaymentAuthorizedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse PaymentAuthorizedEvent data", zap.Error(err))
		return nil
	}

	c.logger.Info("processing payment authorized event",
		zap.String("booking_id", evt.BookingID.String()),
		zap.String("payment_id", evt.PaymentID.String()),
	)

	if err := c.handler.HandlePaymentAuthorized(ctx, evt.BookingID); err != nil {
		c.logger.Error("failed to move booking to hold after payment authorization",
			zap.String("booking_id", evt.BookingID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *PaymentEventConsumer) handleChargebackOpened(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt events.ChargebackOpenedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse ChargebackOpenedEvent data", zap.Error(err))
		return nil
	}

	c.logger.Info("processing chargeback opened event",
		zap.String("booking_id", evt.BookingID.String()),
		zap.String("payment_id", evt.PaymentID.String()),
	)

	if err := c.handler.HandleChargebackOpened(ctx, evt.BookingID, evt.Reason); err != nil {
		c.logger.Error("failed to open dispute after chargeback",
			zap.String("booking_id", evt.BookingID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
