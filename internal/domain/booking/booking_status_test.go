package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_CoversEveryState(t *testing.T) {
	require.Len(t, AllStates(), 13)
	for _, s := range AllStates() {
		assert.NotPanics(t, func() { MetadataFor(s) }, "state %s", s)
		assert.True(t, s.IsValid())
	}
}

func TestCatalog_TerminalStates(t *testing.T) {
	var terminal []State
	for _, s := range AllStates() {
		if MetadataFor(s).Terminal {
			terminal = append(terminal, s)
		}
	}
	assert.ElementsMatch(t, []State{StateRefundedPartial, StateRefundedFull, StateDispute}, terminal)
}

func TestCatalog_DwellLimits(t *testing.T) {
	assert.Equal(t, []State{StateHold, StatePendingProvider}, DwellBoundedStates())

	limit, ok := MetadataFor(StateHold).DwellLimit()
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, limit)
	assert.Equal(t, EventExpireHold, MetadataFor(StateHold).ExpiryEvent)

	limit, ok = MetadataFor(StatePendingProvider).DwellLimit()
	require.True(t, ok)
	assert.Equal(t, 1440*time.Minute, limit)
	assert.Equal(t, EventExpirePendingProvider, MetadataFor(StatePendingProvider).ExpiryEvent)

	_, ok = MetadataFor(StateConfirmed).DwellLimit()
	assert.False(t, ok)
}

func TestCatalog_StatesInCategory(t *testing.T) {
	assert.Equal(t, []State{StateDraft, StateHold, StatePendingProvider, StateConfirmed, StateInProgress},
		StatesInCategory(CategoryActive))
	assert.Equal(t, []State{StateCompleted}, StatesInCategory(CategoryCompleted))
	assert.Equal(t, []State{StateCanceledCustomer, StateCanceledProvider, StateNoShowCustomer, StateNoShowProvider},
		StatesInCategory(CategoryCanceled))
	assert.Equal(t, []State{StateRefundedPartial, StateRefundedFull}, StatesInCategory(CategoryRefunded))
	assert.Equal(t, []State{StateDispute}, StatesInCategory(CategoryDisputed))
	assert.Empty(t, StatesInCategory(Category("archived")))
}

func TestCatalog_UnknownState(t *testing.T) {
	assert.Panics(t, func() { MetadataFor(State("expired")) })
	assert.False(t, State("expired").IsValid())
	assert.True(t, State("expired").IsTerminal())

	_, err := ParseState("expired")
	assert.Error(t, err)

	s, err := ParseState("pending_provider")
	require.NoError(t, err)
	assert.Equal(t, StatePendingProvider, s)
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent(" provider_accept ")
	require.NoError(t, err)
	assert.Equal(t, EventProviderAccept, e)

	_, err = ParseEvent("TELEPORT")
	assert.Error(t, err)
}

func TestRoleSet(t *testing.T) {
	set := Roles(RoleCustomer, RoleSystem)
	assert.True(t, set.Contains(RoleCustomer))
	assert.True(t, set.Contains(RoleSystem))
	assert.False(t, set.Contains(RoleProvider))
	assert.False(t, set.Contains(Role("admin")))
	assert.Equal(t, []Role{RoleCustomer, RoleSystem}, set.Slice())
}
