package booking

import (
	"fmt"
	"time"
)

// State represents the current state of a booking in its lifecycle.
type State string

const (
	StateDraft            State = "draft"
	StateHold             State = "hold"
	StatePendingProvider  State = "pending_provider"
	StateConfirmed        State = "confirmed"
	StateInProgress       State = "in_progress"
	StateCompleted        State = "completed"
	StateCanceledCustomer State = "canceled_customer"
	StateCanceledProvider State = "canceled_provider"
	StateNoShowCustomer   State = "no_show_customer"
	StateNoShowProvider   State = "no_show_provider"
	StateRefundedPartial  State = "refunded_partial"
	StateRefundedFull     State = "refunded_full"
	StateDispute          State = "dispute"
)

// Category groups states for dashboards and reporting.
type Category string

const (
	CategoryActive    Category = "active"
	CategoryCompleted Category = "completed"
	CategoryCanceled  Category = "canceled"
	CategoryRefunded  Category = "refunded"
	CategoryDisputed  Category = "disputed"
)

// StateMetadata describes the static properties of a booking state.
type StateMetadata struct {
	Terminal               bool
	RequiresPayment        bool
	RequiresProviderAction bool
	RequiresCustomerAction bool
	AllowsRefund           bool
	AllowsDispute          bool
	NotifyCustomer         bool
	NotifyProvider         bool

	// MaxDwell bounds how long a booking may stay in the state. Zero means unbounded.
	MaxDwell time.Duration
	// ExpiryEvent is the event the sweeper sends once MaxDwell has elapsed.
	ExpiryEvent Event

	Category Category
}

// DwellLimit returns the maximum dwell time and whether the state has one.
func (m StateMetadata) DwellLimit() (time.Duration, bool) {
	return m.MaxDwell, m.MaxDwell > 0
}

const (
	holdMaxDwell            = 10 * time.Minute
	pendingProviderMaxDwell = 24 * time.Hour
)

// orderedStates lists every state in lifecycle order.
var orderedStates = []State{
	StateDraft,
	StateHold,
	StatePendingProvider,
	StateConfirmed,
	StateInProgress,
	StateCompleted,
	StateCanceledCustomer,
	StateCanceledProvider,
	StateNoShowCustomer,
	StateNoShowProvider,
	StateRefundedPartial,
	StateRefundedFull,
	StateDispute,
}

// catalog is the state catalog. It is never mutated after package initialization.
var catalog = map[State]StateMetadata{
	StateDraft: {
		RequiresCustomerAction: true,
		Category:               CategoryActive,
	},
	StateHold: {
		RequiresPayment: true,
		NotifyCustomer:  true,
		MaxDwell:        holdMaxDwell,
		ExpiryEvent:     EventExpireHold,
		Category:        CategoryActive,
	},
	StatePendingProvider: {
		RequiresPayment:        true,
		RequiresProviderAction: true,
		NotifyProvider:         true,
		MaxDwell:               pendingProviderMaxDwell,
		ExpiryEvent:            EventExpirePendingProvider,
		Category:               CategoryActive,
	},
	StateConfirmed: {
		RequiresPayment:        true,
		RequiresProviderAction: true,
		AllowsRefund:           true,
		NotifyCustomer:         true,
		NotifyProvider:         true,
		Category:               CategoryActive,
	},
	StateInProgress: {
		RequiresProviderAction: true,
		AllowsDispute:          true,
		NotifyCustomer:         true,
		Category:               CategoryActive,
	},
	StateCompleted: {
		AllowsRefund:   true,
		AllowsDispute:  true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryCompleted,
	},
	StateCanceledCustomer: {
		AllowsRefund:   true,
		AllowsDispute:  true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryCanceled,
	},
	StateCanceledProvider: {
		AllowsDispute:  true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryCanceled,
	},
	StateNoShowCustomer: {
		AllowsRefund:   true,
		AllowsDispute:  true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryCanceled,
	},
	StateNoShowProvider: {
		AllowsDispute:  true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryCanceled,
	},
	StateRefundedPartial: {
		Terminal:       true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryRefunded,
	},
	StateRefundedFull: {
		Terminal:       true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryRefunded,
	},
	StateDispute: {
		Terminal:       true,
		NotifyCustomer: true,
		NotifyProvider: true,
		Category:       CategoryDisputed,
	},
}

// AllStates returns every booking state in lifecycle order.
func AllStates() []State {
	out := make([]State, len(orderedStates))
	copy(out, orderedStates)
	return out
}

// MetadataFor returns the catalog entry for a state.
// It panics for a state outside the catalog, which can only come from a programming error.
func MetadataFor(s State) StateMetadata {
	meta, ok := catalog[s]
	if !ok {
		panic(fmt.Sprintf("booking: no metadata for state %q", string(s)))
	}
	return meta
}

// StatesInCategory returns the states belonging to the given category, in lifecycle order.
func StatesInCategory(c Category) []State {
	var out []State
	for _, s := range orderedStates {
		if catalog[s].Category == c {
			out = append(out, s)
		}
	}
	return out
}

// DwellBoundedStates returns the states that carry a maximum dwell time.
func DwellBoundedStates() []State {
	var out []State
	for _, s := range orderedStates {
		if _, ok := catalog[s].DwellLimit(); ok {
			out = append(out, s)
		}
	}
	return out
}

// IsValid returns true if the state is a recognized booking state.
func (s State) IsValid() bool {
	_, exists := catalog[s]
	return exists
}

// IsTerminal returns true if no further transitions are possible from this state.
func (s State) IsTerminal() bool {
	meta, exists := catalog[s]
	if !exists {
		return true
	}
	return meta.Terminal
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// ParseState converts a string to a State, returning an error if invalid.
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid booking state: %s", s)
	}
	return state, nil
}
