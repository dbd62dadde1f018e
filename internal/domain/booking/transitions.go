package booking

import "fmt"

// Guard evaluates a business precondition against the transition context.
// It returns ok=false together with a reason that can be shown to the end user.
type Guard func(tc TransitionContext) (reason string, ok bool)

// RefundPolicy describes the refund a transition implies.
type RefundPolicy uint8

const (
	// RefundNone means the transition moves no money back.
	RefundNone RefundPolicy = iota
	// RefundFull emits a refund of the total paid amount automatically.
	RefundFull
	// RefundRequested sizes the refund from the context of a refund event.
	RefundRequested
)

// Transition is a single allowed edge in the booking lifecycle.
type Transition struct {
	From   State
	Event  Event
	To     State
	Guard  Guard
	Roles  RoleSet
	Refund RefundPolicy
}

// AllowsRole reports whether the role may trigger this transition.
func (t Transition) AllowsRole(r Role) bool {
	return t.Roles.Contains(r)
}

var (
	customerOrSystem = Roles(RoleCustomer, RoleSystem)
	providerOrSystem = Roles(RoleProvider, RoleSystem)
	providerOnly     = Roles(RoleProvider)
	systemOnly       = Roles(RoleSystem)
	anyParty         = Roles(RoleCustomer, RoleProvider, RoleSystem)
)

func paymentAuthorized(tc TransitionContext) (string, bool) {
	if !tc.PaymentAuthorized {
		return "payment not authorized", false
	}
	return "", true
}

func disputeReasonGiven(tc TransitionContext) (string, bool) {
	if tc.DisputeReason == "" {
		return "dispute reason is required", false
	}
	return "", true
}

// dwellElapsed only lets an expiry through once the state's maximum dwell time has passed.
func dwellElapsed(s State) Guard {
	return func(tc TransitionContext) (string, bool) {
		limit, ok := MetadataFor(s).DwellLimit()
		if !ok {
			return fmt.Sprintf("state %s has no dwell limit", s), false
		}
		if tc.EnteredAt.IsZero() {
			return "state entry time is unknown", false
		}
		if tc.At.Sub(tc.EnteredAt) < limit {
			return "dwell time has not elapsed", false
		}
		return "", true
	}
}

// transitionsTable is the single source of truth for legal state changes.
var transitionsTable = []Transition{
	// Checkout
	{From: StateDraft, Event: EventSubmitPayment, To: StateHold, Roles: customerOrSystem, Guard: paymentAuthorized},
	{From: StateDraft, Event: EventCustomerCancel, To: StateCanceledCustomer, Roles: customerOrSystem},

	// Hold window
	{From: StateHold, Event: EventForwardToProvider, To: StatePendingProvider, Roles: customerOrSystem, Guard: paymentAuthorized},
	{From: StateHold, Event: EventProviderAccept, To: StateConfirmed, Roles: providerOnly, Guard: paymentAuthorized},
	{From: StateHold, Event: EventCustomerCancel, To: StateCanceledCustomer, Roles: customerOrSystem},
	{From: StateHold, Event: EventExpireHold, To: StateCanceledCustomer, Roles: systemOnly, Guard: dwellElapsed(StateHold)},

	// Provider decision
	{From: StatePendingProvider, Event: EventProviderAccept, To: StateConfirmed, Roles: providerOnly, Guard: paymentAuthorized},
	{From: StatePendingProvider, Event: EventProviderReject, To: StateCanceledProvider, Roles: providerOnly, Refund: RefundFull},
	{From: StatePendingProvider, Event: EventCustomerCancel, To: StateCanceledCustomer, Roles: customerOrSystem},
	{From: StatePendingProvider, Event: EventExpirePendingProvider, To: StateCanceledProvider, Roles: systemOnly,
		Guard: dwellElapsed(StatePendingProvider), Refund: RefundFull},

	// Confirmed booking
	{From: StateConfirmed, Event: EventStartService, To: StateInProgress, Roles: providerOnly},
	{From: StateConfirmed, Event: EventComplete, To: StateCompleted, Roles: providerOrSystem},
	{From: StateConfirmed, Event: EventCustomerCancel, To: StateCanceledCustomer, Roles: customerOrSystem},
	{From: StateConfirmed, Event: EventProviderCancel, To: StateCanceledProvider, Roles: providerOrSystem, Refund: RefundFull},
	{From: StateConfirmed, Event: EventMarkNoShowCustomer, To: StateNoShowCustomer, Roles: providerOrSystem},
	{From: StateConfirmed, Event: EventMarkNoShowProvider, To: StateNoShowProvider, Roles: customerOrSystem, Refund: RefundFull},
	{From: StateConfirmed, Event: EventIssuePartialRefund, To: StateRefundedPartial, Roles: systemOnly, Refund: RefundRequested},
	{From: StateConfirmed, Event: EventIssueFullRefund, To: StateRefundedFull, Roles: systemOnly, Refund: RefundRequested},

	// Service delivery
	{From: StateInProgress, Event: EventComplete, To: StateCompleted, Roles: providerOrSystem},
	{From: StateInProgress, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},

	// Settlement
	{From: StateCompleted, Event: EventIssuePartialRefund, To: StateRefundedPartial, Roles: systemOnly, Refund: RefundRequested},
	{From: StateCompleted, Event: EventIssueFullRefund, To: StateRefundedFull, Roles: systemOnly, Refund: RefundRequested},
	{From: StateCompleted, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},

	{From: StateCanceledCustomer, Event: EventIssuePartialRefund, To: StateRefundedPartial, Roles: systemOnly, Refund: RefundRequested},
	{From: StateCanceledCustomer, Event: EventIssueFullRefund, To: StateRefundedFull, Roles: systemOnly, Refund: RefundRequested},
	{From: StateCanceledCustomer, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},

	{From: StateCanceledProvider, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},

	{From: StateNoShowCustomer, Event: EventIssuePartialRefund, To: StateRefundedPartial, Roles: systemOnly, Refund: RefundRequested},
	{From: StateNoShowCustomer, Event: EventIssueFullRefund, To: StateRefundedFull, Roles: systemOnly, Refund: RefundRequested},
	{From: StateNoShowCustomer, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},

	{From: StateNoShowProvider, Event: EventRaiseDispute, To: StateDispute, Roles: anyParty, Guard: disputeReasonGiven},
}

// transitionIndex maps (from, event) to its transition. Built once in init and read-only afterwards.
var transitionIndex = buildTransitionIndex(transitionsTable)

func buildTransitionIndex(table []Transition) map[State]map[Event]Transition {
	index := make(map[State]map[Event]Transition, len(orderedStates))
	for _, tr := range table {
		if err := validateTransition(tr); err != nil {
			panic(fmt.Sprintf("booking: invalid transition table: %v", err))
		}
		byEvent, ok := index[tr.From]
		if !ok {
			byEvent = make(map[Event]Transition)
			index[tr.From] = byEvent
		}
		if _, dup := byEvent[tr.Event]; dup {
			panic(fmt.Sprintf("booking: duplicate transition %s on %s", tr.From, tr.Event))
		}
		byEvent[tr.Event] = tr
	}
	return index
}

func validateTransition(tr Transition) error {
	if !tr.From.IsValid() || !tr.To.IsValid() {
		return fmt.Errorf("unknown state in %s -> %s", tr.From, tr.To)
	}
	if !tr.Event.IsValid() {
		return fmt.Errorf("unknown event %s", tr.Event)
	}
	from := MetadataFor(tr.From)
	if from.Terminal {
		return fmt.Errorf("transition %s from terminal state %s", tr.Event, tr.From)
	}
	if tr.Roles == 0 {
		return fmt.Errorf("transition %s from %s has no allowed roles", tr.Event, tr.From)
	}
	if tr.Event.IsRefund() && !from.AllowsRefund {
		return fmt.Errorf("refund event %s from %s which does not allow refunds", tr.Event, tr.From)
	}
	if tr.Event == EventRaiseDispute && !from.AllowsDispute {
		return fmt.Errorf("dispute from %s which does not allow disputes", tr.From)
	}
	if tr.Event.IsExpiry() && from.ExpiryEvent != tr.Event {
		return fmt.Errorf("expiry event %s does not belong to %s", tr.Event, tr.From)
	}
	return nil
}

// ValidTransitionsFrom returns the transitions leaving a state, in table order.
func ValidTransitionsFrom(s State) []Transition {
	var out []Transition
	for _, tr := range transitionsTable {
		if tr.From == s {
			out = append(out, tr)
		}
	}
	return out
}

// TransitionFor returns the transition registered for (state, event).
func TransitionFor(s State, e Event) (Transition, bool) {
	tr, ok := transitionIndex[s][e]
	return tr, ok
}

// TargetOf returns the target state registered for (state, event).
func TargetOf(s State, e Event) (State, bool) {
	tr, ok := TransitionFor(s, e)
	if !ok {
		return "", false
	}
	return tr.To, true
}
