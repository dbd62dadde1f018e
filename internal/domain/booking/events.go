package booking

import (
	"fmt"
	"strings"
)

// Event is a request to move a booking from one state to another.
type Event string

const (
	EventSubmitPayment         Event = "SUBMIT_PAYMENT"
	EventForwardToProvider     Event = "FORWARD_TO_PROVIDER"
	EventProviderAccept        Event = "PROVIDER_ACCEPT"
	EventProviderReject        Event = "PROVIDER_REJECT"
	EventStartService          Event = "START_SERVICE"
	EventComplete              Event = "COMPLETE"
	EventCustomerCancel        Event = "CUSTOMER_CANCEL"
	EventProviderCancel        Event = "PROVIDER_CANCEL"
	EventMarkNoShowCustomer    Event = "MARK_NO_SHOW_CUSTOMER"
	EventMarkNoShowProvider    Event = "MARK_NO_SHOW_PROVIDER"
	EventIssuePartialRefund    Event = "ISSUE_PARTIAL_REFUND"
	EventIssueFullRefund       Event = "ISSUE_FULL_REFUND"
	EventRaiseDispute          Event = "RAISE_DISPUTE"
	EventExpireHold            Event = "EXPIRE_HOLD"
	EventExpirePendingProvider Event = "EXPIRE_PENDING_PROVIDER"
)

var allEvents = []Event{
	EventSubmitPayment,
	EventForwardToProvider,
	EventProviderAccept,
	EventProviderReject,
	EventStartService,
	EventComplete,
	EventCustomerCancel,
	EventProviderCancel,
	EventMarkNoShowCustomer,
	EventMarkNoShowProvider,
	EventIssuePartialRefund,
	EventIssueFullRefund,
	EventRaiseDispute,
	EventExpireHold,
	EventExpirePendingProvider,
}

// AllEvents returns every transition event.
func AllEvents() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}

// IsValid returns true if the event is a recognized transition event.
func (e Event) IsValid() bool {
	for _, known := range allEvents {
		if e == known {
			return true
		}
	}
	return false
}

// IsRefund returns true for events that initiate a refund.
func (e Event) IsRefund() bool {
	return e == EventIssuePartialRefund || e == EventIssueFullRefund
}

// IsExpiry returns true for the synthetic events issued by the expiry sweeper.
func (e Event) IsExpiry() bool {
	return e == EventExpireHold || e == EventExpirePendingProvider
}

func (e Event) String() string {
	return string(e)
}

// ParseEvent converts a string to an Event. Matching is case-insensitive.
func ParseEvent(s string) (Event, error) {
	event := Event(strings.ToUpper(strings.TrimSpace(s)))
	if !event.IsValid() {
		return "", fmt.Errorf("invalid booking event: %s", s)
	}
	return event, nil
}

// Role identifies the kind of party triggering an event.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleSystem   Role = "system"
)

// IsValid returns true if the role is recognized.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleSystem:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// RoleSet is the set of roles allowed to trigger a transition.
type RoleSet uint8

const (
	roleBitCustomer RoleSet = 1 << iota
	roleBitProvider
	roleBitSystem
)

// Roles builds a RoleSet from the given roles.
func Roles(roles ...Role) RoleSet {
	var set RoleSet
	for _, r := range roles {
		set |= roleBit(r)
	}
	return set
}

// Contains reports whether the role is part of the set.
func (s RoleSet) Contains(r Role) bool {
	bit := roleBit(r)
	return bit != 0 && s&bit != 0
}

// Slice returns the roles in the set in a stable order.
func (s RoleSet) Slice() []Role {
	var out []Role
	for _, r := range []Role{RoleCustomer, RoleProvider, RoleSystem} {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}

func roleBit(r Role) RoleSet {
	switch r {
	case RoleCustomer:
		return roleBitCustomer
	case RoleProvider:
		return roleBitProvider
	case RoleSystem:
		return roleBitSystem
	}
	return 0
}
