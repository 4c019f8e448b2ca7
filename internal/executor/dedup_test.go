package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func TestDedup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate("b"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("a"), "expired key is accepted again")

	d.Cleanup()
	assert.Equal(t, 1, d.Len())
}

func TestOpportunityKey(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	opp := domain.Opportunity{Pair: "BOB_ICP", Direction: domain.DirectionAB, StateB: domain.VenueState{ObservedAt: at}}
	same := opp
	same.Amount = 123

	assert.Equal(t, OpportunityKey(opp), OpportunityKey(same))

	other := opp
	other.Direction = domain.DirectionBA
	assert.NotEqual(t, OpportunityKey(opp), OpportunityKey(other))

	later := opp
	later.StateB.ObservedAt = at.Add(time.Millisecond)
	assert.NotEqual(t, OpportunityKey(opp), OpportunityKey(later))
}
