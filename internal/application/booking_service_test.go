package application

import (
	"context"
	"testing"

	"github.com/bookwell/service-booking/internal/domain/booking"
	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/bookwell/service-booking/pkg/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(h *harness) *BookingService {
	return NewBookingService(h.repo, h.repo, h.lifecycle, h.payments, h.publisher, h.clock, "USD", zap.NewNop())
}

func validCreateRequest() CreateBookingRequest {
	return CreateBookingRequest{
		ProviderID:  uuid.New(),
		ServiceName: "Deep clean",
		PriceCents:  12000,
	}
}

func TestCreateBooking(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	customerID := uuid.New()

	dto, err := svc.CreateBooking(context.Background(), customerID, validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, "draft", dto.State)
	assert.Equal(t, "active", dto.Category)
	assert.False(t, dto.Terminal)
	assert.Nil(t, dto.ExpiresAt)
	assert.Equal(t, "USD", dto.Currency)
	assert.Equal(t, customerID, dto.CustomerID)
	assert.Regexp(t, `^BK-[A-Z0-9]{6}$`, dto.BookingNumber)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, events.BookingRequested, h.publisher.events[0].Type)
	assert.Equal(t, dto.ID.String(), h.publisher.events[0].Subject)
}

func TestCreateBooking_Validation(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)

	req := validCreateRequest()
	req.PriceCents = 0
	_, err := svc.CreateBooking(context.Background(), uuid.New(), req)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeValidation, code)

	req = validCreateRequest()
	customerID := req.ProviderID
	_, err = svc.CreateBooking(context.Background(), customerID, req)
	code, _ = domain.CodeOf(err)
	assert.Equal(t, domain.CodeValidation, code)
}

func TestGetBooking_OnlyParties(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateHold, testStart)

	dto, err := svc.GetBooking(context.Background(), bk.ID(), Caller{UserID: bk.ProviderID()})
	require.NoError(t, err)
	require.NotNil(t, dto.ExpiresAt)
	assert.Equal(t, testStart.Add(booking.MetadataFor(booking.StateHold).MaxDwell), *dto.ExpiresAt)

	_, err = svc.GetBooking(context.Background(), bk.ID(), Caller{UserID: uuid.New()})
	code, _ := domain.CodeOf(err)
	assert.Equal(t, domain.CodeForbidden, code)

	_, err = svc.GetBooking(context.Background(), bk.ID(), Caller{UserID: uuid.New(), Admin: true})
	assert.NoError(t, err)
}

func TestSendEvent_ChecksAuthorizationOnlyWhenNeeded(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateDraft, testStart)

	h.payments.authorized = false
	_, err := svc.SendEvent(context.Background(), bk.ID(), Caller{UserID: bk.CustomerID()}, SendEventRequest{Event: "submit_payment"})
	var guard *booking.GuardFailedError
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, "payment not authorized", guard.Reason)

	h.payments.authorized = true
	result, err := svc.SendEvent(context.Background(), bk.ID(), Caller{UserID: bk.CustomerID()}, SendEventRequest{Event: "SUBMIT_PAYMENT"})
	require.NoError(t, err)
	assert.Equal(t, booking.StateHold, result.To)

	history, err := svc.History(context.Background(), bk.ID(), Caller{UserID: bk.CustomerID()})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, bk.CustomerID(), history[0].ActorID)
	assert.Equal(t, "customer", history[0].Role)
}

func TestSendEvent_RejectsStrangersAndUnknownEvents(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateConfirmed, testStart)

	_, err := svc.SendEvent(context.Background(), bk.ID(), Caller{UserID: uuid.New()}, SendEventRequest{Event: "COMPLETE"})
	code, _ := domain.CodeOf(err)
	assert.Equal(t, domain.CodeForbidden, code)

	_, err = svc.SendEvent(context.Background(), bk.ID(), Caller{UserID: bk.ProviderID()}, SendEventRequest{Event: "TELEPORT"})
	code, _ = domain.CodeOf(err)
	assert.Equal(t, domain.CodeValidation, code)
}

func TestSendEvent_AdminRefund(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateCompleted, testStart)
	amount := int64(3000)

	result, err := svc.SendEvent(context.Background(), bk.ID(), Caller{UserID: uuid.New(), Admin: true}, SendEventRequest{
		Event:             "ISSUE_PARTIAL_REFUND",
		RefundAmountCents: &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, booking.StateRefundedPartial, result.To)
	assert.Equal(t, []int64{3000}, h.payments.refunds)
}

func TestAllowedEvents_ByRole(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateCompleted, testStart)

	forCustomer, err := svc.AllowedEvents(context.Background(), bk.ID(), Caller{UserID: bk.CustomerID()})
	require.NoError(t, err)
	assert.Equal(t, "customer", forCustomer.Role)
	assert.Equal(t, []string{"RAISE_DISPUTE"}, forCustomer.Events)

	forAdmin, err := svc.AllowedEvents(context.Background(), bk.ID(), Caller{UserID: uuid.New(), Admin: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ISSUE_PARTIAL_REFUND", "ISSUE_FULL_REFUND", "RAISE_DISPUTE"}, forAdmin.Events)
}

func TestHandlePaymentAuthorized_IsIdempotent(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateDraft, testStart)

	require.NoError(t, svc.HandlePaymentAuthorized(context.Background(), bk.ID()))
	assert.Equal(t, booking.StateHold, h.repo.stateOf(bk.ID()))

	require.NoError(t, svc.HandlePaymentAuthorized(context.Background(), bk.ID()))
	assert.Equal(t, booking.StateHold, h.repo.stateOf(bk.ID()))
}

func TestHandleChargebackOpened(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateCompleted, testStart)

	require.NoError(t, svc.HandleChargebackOpened(context.Background(), bk.ID(), ""))
	assert.Equal(t, booking.StateDispute, h.repo.stateOf(bk.ID()))

	history, err := h.repo.FindByBookingID(context.Background(), bk.ID())
	require.NoError(t, err)
	assert.Equal(t, "chargeback opened", history[0].DisputeReason)

	// Terminal now; a redelivery is ignored.
	require.NoError(t, svc.HandleChargebackOpened(context.Background(), bk.ID(), "again"))
}

func TestHandleChargebackOpened_WarnsWhenBookingCannotBeDisputed(t *testing.T) {
	h := newHarness()
	core, logs := observer.New(zap.InfoLevel)
	svc := NewBookingService(h.repo, h.repo, h.lifecycle, h.payments, h.publisher, h.clock, "USD", zap.New(core))
	bk := h.repo.seed(booking.StateConfirmed, testStart)

	require.NoError(t, svc.HandleChargebackOpened(context.Background(), bk.ID(), "card stolen"))
	assert.Equal(t, booking.StateConfirmed, h.repo.stateOf(bk.ID()))

	warnings := logs.FilterLevelExact(zap.WarnLevel).FilterMessage("chargeback could not be applied to booking").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, bk.ID().String(), warnings[0].ContextMap()["booking_id"])
	assert.Equal(t, "card stolen", warnings[0].ContextMap()["reason"])
}

func TestHandlePaymentAuthorized_RecordsPaidAmount(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	bk := h.repo.seed(booking.StateDraft, testStart)

	require.NoError(t, svc.HandlePaymentAuthorized(context.Background(), bk.ID()))

	snap, err := h.repo.LoadState(context.Background(), bk.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(10000), snap.TotalPaid)
}

func TestListAndStats(t *testing.T) {
	h := newHarness()
	svc := newTestService(h)
	customerID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.CreateBooking(context.Background(), customerID, validCreateRequest())
		require.NoError(t, err)
	}
	h.repo.seed(booking.StateDispute, testStart)

	page, err := svc.GetCustomerBookings(context.Background(), customerID, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.Total)

	stats, err := svc.GetBookingStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalBookings)
	assert.Equal(t, int64(3), stats.ByState["draft"])
	assert.Equal(t, int64(3), stats.ByCategory["active"])
	assert.Equal(t, int64(1), stats.ByCategory["disputed"])
}
