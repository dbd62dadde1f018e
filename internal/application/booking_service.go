package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	bookingDomain "github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/bookwell/service-booking/pkg/events"
	"github.com/bookwell/service-booking/pkg/kafka"
	"github.com/bookwell/service-booking/pkg/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const serviceSource = "service-booking"

// dryRunRefundAmount stands in for the caller's refund amount when listing allowed events.
var dryRunRefundAmount int64 = 1

// EventPublisher publishes CloudEvents to a topic.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, evt *kafka.CloudEvent) error
}

// Caller identifies who is invoking a use case.
type Caller struct {
	UserID uuid.UUID
	// Admin callers act with the system role and may access any booking.
	Admin bool
}

// CreateBookingRequest holds the data needed to create a new booking.
type CreateBookingRequest struct {
	ProviderID  uuid.UUID  `json:"provider_id" binding:"required" validate:"required"`
	ServiceName string     `json:"service_name" binding:"required" validate:"required,max=120"`
	PriceCents  int64      `json:"price_cents" binding:"required" validate:"gt=0"`
	Currency    string     `json:"currency" validate:"omitempty,len=3"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Notes       string     `json:"notes" validate:"max=1000"`
}

// SendEventRequest asks for a lifecycle event to be applied to a booking.
type SendEventRequest struct {
	Event             string `json:"event" validate:"required"`
	RefundAmountCents *int64 `json:"refund_amount_cents,omitempty"`
	DisputeReason     string `json:"dispute_reason,omitempty" validate:"max=1000"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID             uuid.UUID  `json:"id"`
	BookingNumber  string     `json:"booking_number"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	ProviderID     uuid.UUID  `json:"provider_id"`
	ServiceName    string     `json:"service_name"`
	State          string     `json:"state"`
	Category       string     `json:"category"`
	Terminal       bool       `json:"terminal"`
	StateEnteredAt time.Time  `json:"state_entered_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PriceCents     int64      `json:"price_cents"`
	Currency       string     `json:"currency"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AllowedEventsDTO lists the events a caller may send in the booking's current state.
type AllowedEventsDTO struct {
	BookingID uuid.UUID `json:"booking_id"`
	State     string    `json:"state"`
	Role      string    `json:"role"`
	Events    []string  `json:"events"`
}

// TransitionDTO is one entry of a booking's transition history.
type TransitionDTO struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Event         string    `json:"event"`
	Role          string    `json:"role"`
	ActorID       uuid.UUID `json:"actor_id"`
	Version       int64     `json:"version"`
	RefundAmount  *int64    `json:"refund_amount_cents,omitempty"`
	DisputeReason string    `json:"dispute_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// BookingService is the application service orchestrating booking use cases.
type BookingService struct {
	repo       bookingDomain.BookingRepository
	history    bookingDomain.TransitionLogRepository
	lifecycle  *Lifecycle
	authorizer PaymentAuthorizer
	producer   EventPublisher
	clock      Clock
	currency   string
	logger     *zap.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	history bookingDomain.TransitionLogRepository,
	lifecycle *Lifecycle,
	authorizer PaymentAuthorizer,
	producer EventPublisher,
	clock Clock,
	defaultCurrency string,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		repo:       repo,
		history:    history,
		lifecycle:  lifecycle,
		authorizer: authorizer,
		producer:   producer,
		clock:      clock,
		currency:   defaultCurrency,
		logger:     logger,
	}
}

// CreateBooking creates a new draft booking for the given customer.
func (s *BookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req CreateBookingRequest) (*BookingDTO, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	bk, err := bookingDomain.NewBooking(
		customerID,
		req.ProviderID,
		req.ServiceName,
		req.PriceCents,
		currency,
		req.ScheduledAt,
		req.Notes,
		s.clock.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, bk); err != nil {
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	evt := events.BookingRequestedEvent{
		BookingID:     bk.ID(),
		BookingNumber: bk.BookingNumber(),
		CustomerID:    bk.CustomerID(),
		ProviderID:    bk.ProviderID(),
		ServiceName:   bk.ServiceName(),
		PriceCents:    bk.PriceCents(),
		Currency:      bk.Currency(),
		OccurredAt:    s.clock.Now(),
	}
	s.publishEvent(ctx, events.TopicBookingEvents, events.BookingRequested, bk.ID().String(), evt)

	s.logger.Info("booking created",
		zap.String("booking_id", bk.ID().String()),
		zap.String("booking_number", bk.BookingNumber()),
	)
	result := toBookingDTO(bk)
	return &result, nil
}

// GetBooking retrieves a single booking the caller takes part in.
func (s *BookingService) GetBooking(ctx context.Context, bookingID uuid.UUID, caller Caller) (*BookingDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := roleOf(bk, caller); err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// SendEvent applies a lifecycle event on behalf of the caller.
func (s *BookingService) SendEvent(ctx context.Context, bookingID uuid.UUID, caller Caller, req SendEventRequest) (*CommitResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	event, err := bookingDomain.ParseEvent(req.Event)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	role, err := roleOf(bk, caller)
	if err != nil {
		return nil, err
	}

	authorized := false
	if to, ok := bookingDomain.TargetOf(bk.State(), event); ok && bookingDomain.MetadataFor(to).RequiresPayment {
		if authorized, err = s.authorizer.IsAuthorized(ctx, bookingID); err != nil {
			return nil, fmt.Errorf("failed to check payment authorization: %w", err)
		}
	}

	return s.lifecycle.For(bookingID).Send(ctx, event, bookingDomain.TransitionContext{
		Role:              role,
		At:                s.clock.Now(),
		PaymentAuthorized: authorized,
		RefundAmount:      req.RefundAmountCents,
		DisputeReason:     req.DisputeReason,
		ActorID:           caller.UserID,
	})
}

// AllowedEvents lists the events the caller could send right now.
func (s *BookingService) AllowedEvents(ctx context.Context, bookingID uuid.UUID, caller Caller) (*AllowedEventsDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	role, err := roleOf(bk, caller)
	if err != nil {
		return nil, err
	}

	authorized := false
	for _, tr := range bookingDomain.ValidTransitionsFrom(bk.State()) {
		if tr.AllowsRole(role) && bookingDomain.MetadataFor(tr.To).RequiresPayment {
			if authorized, err = s.authorizer.IsAuthorized(ctx, bookingID); err != nil {
				return nil, fmt.Errorf("failed to check payment authorization: %w", err)
			}
			break
		}
	}

	state, allowed, err := s.lifecycle.For(bookingID).AllowedEvents(ctx, bookingDomain.TransitionContext{
		Role:              role,
		At:                s.clock.Now(),
		PaymentAuthorized: authorized,
		RefundAmount:      &dryRunRefundAmount,
		DisputeReason:     "dry run",
		ActorID:           caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(allowed))
	for _, e := range allowed {
		names = append(names, e.String())
	}
	return &AllowedEventsDTO{
		BookingID: bookingID,
		State:     string(state),
		Role:      string(role),
		Events:    names,
	}, nil
}

// History returns the transition log of a booking, oldest first.
func (s *BookingService) History(ctx context.Context, bookingID uuid.UUID, caller Caller) ([]TransitionDTO, error) {
	bk, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := roleOf(bk, caller); err != nil {
		return nil, err
	}

	records, err := s.history.FindByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking history: %w", err)
	}
	dtos := make([]TransitionDTO, len(records))
	for i, r := range records {
		dtos[i] = TransitionDTO{
			From:          string(r.From),
			To:            string(r.To),
			Event:         string(r.Event),
			Role:          string(r.Role),
			ActorID:       r.ActorID,
			Version:       r.Version,
			RefundAmount:  r.RefundAmount,
			DisputeReason: r.DisputeReason,
			OccurredAt:    r.OccurredAt,
		}
	}
	return dtos, nil
}

// GetCustomerBookings retrieves paginated bookings for a customer.
func (s *BookingService) GetCustomerBookings(ctx context.Context, customerID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindByCustomerID(ctx, customerID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// GetProviderBookings retrieves paginated bookings for a provider.
func (s *BookingService) GetProviderBookings(ctx context.Context, providerID uuid.UUID, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	bookings, total, err := s.repo.FindByProviderID(ctx, providerID, page, limit)
	if err != nil {
		return nil, err
	}
	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// HandlePaymentAuthorized moves a draft booking into hold once its payment is authorized.
// Redelivered events for bookings that already moved on are ignored.
func (s *BookingService) HandlePaymentAuthorized(ctx context.Context, bookingID uuid.UUID) error {
	return s.applySystemEvent(ctx, bookingID, bookingDomain.EventSubmitPayment, bookingDomain.TransitionContext{
		PaymentAuthorized: true,
	})
}

// HandleChargebackOpened moves a booking into dispute when the payer opens a chargeback.
func (s *BookingService) HandleChargebackOpened(ctx context.Context, bookingID uuid.UUID, reason string) error {
	if reason == "" {
		reason = "chargeback opened"
	}
	return s.applySystemEvent(ctx, bookingID, bookingDomain.EventRaiseDispute, bookingDomain.TransitionContext{
		DisputeReason: reason,
	})
}

func (s *BookingService) applySystemEvent(ctx context.Context, bookingID uuid.UUID, event bookingDomain.Event, tc bookingDomain.TransitionContext) error {
	tc.Role = bookingDomain.RoleSystem
	tc.At = s.clock.Now()

	_, err := s.lifecycle.For(bookingID).Send(ctx, event, tc)
	switch {
	case err == nil:
		return nil
	case event == bookingDomain.EventRaiseDispute && errors.Is(err, bookingDomain.ErrInvalidTransition):
		// The booking cannot be disputed from where it is; someone has to look at the chargeback.
		s.logger.Warn("chargeback could not be applied to booking",
			zap.String("booking_id", bookingID.String()),
			zap.String("reason", tc.DisputeReason),
			zap.Error(err),
		)
		return nil
	case errors.Is(err, bookingDomain.ErrInvalidTransition), errors.Is(err, bookingDomain.ErrTerminalState):
		s.logger.Info("ignoring system event for booking that moved on",
			zap.String("booking_id", bookingID.String()),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

// --- Admin methods ---

// BookingStatsDTO holds booking statistics for the admin dashboard.
type BookingStatsDTO struct {
	TotalBookings int64            `json:"total_bookings"`
	ByState       map[string]int64 `json:"by_state"`
	ByCategory    map[string]int64 `json:"by_category"`
}

// ListAllBookings returns a paginated list of all bookings (admin).
func (s *BookingService) ListAllBookings(ctx context.Context, page, limit int) ([]BookingDTO, int64, error) {
	bookings, total, err := s.repo.ListAll(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	return toBookingDTOs(bookings), total, nil
}

// GetBookingStats returns aggregate booking statistics (admin).
func (s *BookingService) GetBookingStats(ctx context.Context) (*BookingStatsDTO, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	var total int64
	byCategory := make(map[string]int64)
	for state, c := range counts {
		total += c
		if st, err := bookingDomain.ParseState(state); err == nil {
			byCategory[string(bookingDomain.MetadataFor(st).Category)] += c
		}
	}

	return &BookingStatsDTO{
		TotalBookings: total,
		ByState:       counts,
		ByCategory:    byCategory,
	}, nil
}

// --- Helpers ---

func roleOf(bk *bookingDomain.Booking, caller Caller) (bookingDomain.Role, error) {
	if caller.Admin {
		return bookingDomain.RoleSystem, nil
	}
	role, ok := bk.RoleOf(caller.UserID)
	if !ok {
		return "", domain.NewForbiddenError("booking does not belong to this user")
	}
	return role, nil
}

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	meta := bookingDomain.MetadataFor(bk.State())
	dto := BookingDTO{
		ID:             bk.ID(),
		BookingNumber:  bk.BookingNumber(),
		CustomerID:     bk.CustomerID(),
		ProviderID:     bk.ProviderID(),
		ServiceName:    bk.ServiceName(),
		State:          string(bk.State()),
		Category:       string(meta.Category),
		Terminal:       meta.Terminal,
		StateEnteredAt: bk.StateEnteredAt(),
		PriceCents:     bk.PriceCents(),
		Currency:       bk.Currency(),
		ScheduledAt:    bk.ScheduledAt(),
		Notes:          bk.Notes(),
		Version:        bk.Version(),
		CreatedAt:      bk.CreatedAt(),
		UpdatedAt:      bk.UpdatedAt(),
	}
	if limit, ok := meta.DwellLimit(); ok {
		expires := bk.StateEnteredAt().Add(limit)
		dto.ExpiresAt = &expires
	}
	return dto
}

func toBookingDTOs(bookings []*bookingDomain.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos
}

func (s *BookingService) publishEvent(ctx context.Context, topic, eventType, key string, data interface{}) {
	cloudEvent, err := kafka.NewCloudEvent(serviceSource, eventType, data)
	if err != nil {
		s.logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}

	if err := s.producer.PublishEvent(ctx, topic, cloudEvent.WithSubject(key)); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("topic", topic),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
