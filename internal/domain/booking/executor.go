package booking

import (
	"time"

	"github.com/google/uuid"
)

// TransitionContext carries the facts an event is evaluated against.
type TransitionContext struct {
	Role Role
	At   time.Time

	PaymentAuthorized bool

	// RefundAmount is the requested refund in minor units. Nil when not given.
	RefundAmount *int64
	// TotalPaid is the amount paid for the booking in minor units.
	TotalPaid int64

	DisputeReason string

	// EnteredAt is when the booking entered its current state.
	EnteredAt time.Time

	// ActorID identifies the user or process that sent the event. Informational only.
	ActorID uuid.UUID
}

// TransitionResult is the outcome of a successful evaluation.
type TransitionResult struct {
	From        State
	To          State
	Event       Event
	SideEffects []SideEffect
}

// BlockingSideEffects returns the side effects that must complete before commit.
func (r TransitionResult) BlockingSideEffects() []SideEffect {
	var out []SideEffect
	for _, se := range r.SideEffects {
		if se.Blocking() {
			out = append(out, se)
		}
	}
	return out
}

// DeferrableSideEffects returns the side effects dispatched after commit.
func (r TransitionResult) DeferrableSideEffects() []SideEffect {
	var out []SideEffect
	for _, se := range r.SideEffects {
		if !se.Blocking() {
			out = append(out, se)
		}
	}
	return out
}

// Executor validates events against the transition table and describes their side effects.
// It performs no I/O and is safe for concurrent use.
type Executor struct{}

// NewExecutor creates a new Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Evaluate decides whether event may be applied to a booking in state current.
func (x *Executor) Evaluate(current State, event Event, tc TransitionContext) (TransitionResult, error) {
	if current.IsTerminal() {
		return TransitionResult{}, &TerminalStateError{State: current, Event: event}
	}

	tr, ok := TransitionFor(current, event)
	if !ok {
		return TransitionResult{}, &InvalidTransitionError{From: current, Event: event}
	}

	if !tr.AllowsRole(tc.Role) {
		return TransitionResult{}, &UnauthorizedTransitionError{From: current, Event: event, Role: tc.Role}
	}

	if tr.Guard != nil {
		if reason, ok := tr.Guard(tc); !ok {
			return TransitionResult{}, &GuardFailedError{From: current, Event: event, Reason: reason}
		}
	}
	if MetadataFor(tr.To).RequiresPayment && !MetadataFor(current).RequiresPayment && !tc.PaymentAuthorized {
		return TransitionResult{}, &GuardFailedError{From: current, Event: event, Reason: "payment not authorized"}
	}

	target := tr.To
	var refund int64
	switch tr.Refund {
	case RefundFull:
		refund = tc.TotalPaid
	case RefundRequested:
		amount, to, err := sizeRefund(event, tc)
		if err != nil {
			return TransitionResult{}, err
		}
		refund, target = amount, to
	}

	return TransitionResult{
		From:        current,
		To:          target,
		Event:       event,
		SideEffects: sideEffectsFor(current, target, refund),
	}, nil
}

// CanApply reports whether Evaluate would succeed.
func (x *Executor) CanApply(current State, event Event, tc TransitionContext) bool {
	_, err := x.Evaluate(current, event, tc)
	return err == nil
}

// sizeRefund validates the refund amount and resolves the refund target state.
// A partial refund of the whole amount paid becomes a full refund.
func sizeRefund(event Event, tc TransitionContext) (int64, State, error) {
	if event == EventIssueFullRefund {
		if tc.TotalPaid <= 0 {
			return 0, "", &InvalidRefundAmountError{Event: event, Amount: tc.TotalPaid, TotalPaid: tc.TotalPaid}
		}
		return tc.TotalPaid, StateRefundedFull, nil
	}

	if tc.RefundAmount == nil {
		return 0, "", &InvalidRefundAmountError{Event: event, TotalPaid: tc.TotalPaid}
	}
	amount := *tc.RefundAmount
	switch {
	case amount <= 0, amount > tc.TotalPaid:
		return 0, "", &InvalidRefundAmountError{Event: event, Amount: amount, TotalPaid: tc.TotalPaid}
	case amount == tc.TotalPaid:
		return amount, StateRefundedFull, nil
	default:
		return amount, StateRefundedPartial, nil
	}
}

func sideEffectsFor(from, to State, refund int64) []SideEffect {
	meta := MetadataFor(to)
	var effects []SideEffect

	if to == StateConfirmed && from != StateConfirmed {
		effects = append(effects, CapturePayment())
	}
	if refund > 0 {
		effects = append(effects, Refund(refund))
	}
	kind := NotificationKindFor(to)
	if meta.NotifyCustomer {
		effects = append(effects, Notify(AudienceCustomer, kind))
	}
	if meta.NotifyProvider {
		effects = append(effects, Notify(AudienceProvider, kind))
	}
	return effects
}
