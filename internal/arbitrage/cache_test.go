package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func TestStateCacheAbsent(t *testing.T) {
	c := NewStateCache()
	_, age, ok := c.Get("kong")
	assert.False(t, ok)
	assert.Zero(t, age)

	st, err := c.Fresh("kong", time.Minute)
	assert.Nil(t, st)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestStateCacheRepeatedReads(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c := NewStateCache()
	c.now = func() time.Time { return now }

	c.Update("kong", domain.VenueState{QuoteReserve: 10, BaseReserve: 20, FeeRate: 0.003, ObservedAt: base})

	first, age1, ok := c.Get("kong")
	require.True(t, ok)
	assert.Equal(t, "kong", first.VenueID)
	assert.Zero(t, age1)

	now = now.Add(3 * time.Second)
	second, age2, ok := c.Get("kong")
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, age2, age1)
	assert.Equal(t, 3*time.Second, age2)

	third, age3, _ := c.Get("kong")
	assert.Equal(t, first, third)
	assert.GreaterOrEqual(t, age3, age2)
}

func TestStateCacheUpdateOverwrites(t *testing.T) {
	c := NewStateCache()
	c.Update("icpswap", domain.VenueState{QuoteReserve: 1, BaseReserve: 1, ObservedAt: time.Now()})
	c.Update("icpswap", domain.VenueState{QuoteReserve: 2, BaseReserve: 3, ObservedAt: time.Now()})

	st, _, ok := c.Get("icpswap")
	require.True(t, ok)
	assert.Equal(t, 2.0, st.QuoteReserve)
	assert.Equal(t, 3.0, st.BaseReserve)
}

func TestStateCacheFresh(t *testing.T) {
	now := time.Now()
	c := NewStateCache()
	c.now = func() time.Time { return now }
	c.Update("icpswap", domain.VenueState{QuoteReserve: 1, BaseReserve: 1, ObservedAt: now.Add(-10 * time.Second)})

	_, err := c.Fresh("icpswap", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrStaleState)

	st, err := c.Fresh("icpswap", 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.QuoteReserve)

	st, err = c.Fresh("icpswap", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, st)
}
