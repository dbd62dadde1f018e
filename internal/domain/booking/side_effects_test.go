package booking

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyedFor(t *testing.T) {
	id := uuid.MustParse("6f1c7c2e-8d4b-4a52-9a3e-2f1d7b0c9e11")

	keyed := Refund(2500).KeyedFor(id, 4, "refund")
	assert.Equal(t, "6f1c7c2e-8d4b-4a52-9a3e-2f1d7b0c9e11:v4:refund", keyed.IdempotencyKey)
	assert.Equal(t, int64(2500), keyed.Amount)

	// An existing key survives re-keying.
	assert.Equal(t, keyed, keyed.KeyedFor(id, 9, "capture-reversal"))

	assert.Empty(t, Notify(AudienceCustomer, "booking.hold").KeyedFor(id, 4, "refund").IdempotencyKey)
	assert.Empty(t, CapturePayment().KeyedFor(id, 4, "refund").IdempotencyKey)
}

func TestPaidAfter(t *testing.T) {
	draft := StateSnapshot{State: StateDraft, PriceCents: 10000}
	assert.Equal(t, int64(10000), draft.PaidAfter(EventSubmitPayment))
	assert.Zero(t, draft.PaidAfter(EventCustomerCancel))

	paid := StateSnapshot{State: StateCompleted, PriceCents: 10000, TotalPaid: 10000}
	assert.Equal(t, int64(10000), paid.PaidAfter(EventIssuePartialRefund))
}
