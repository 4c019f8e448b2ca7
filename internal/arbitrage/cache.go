package arbitrage

import (
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// StateCache holds the latest observed state per venue. Entries are
// overwritten on every successful fetch and never removed; staleness is
// derived from the observation time.
//
// A monitor and its background slow refresh are the only writers, each
// owning a different venue's entry.
type StateCache struct {
	mu      sync.RWMutex
	entries map[string]domain.VenueState
	now     func() time.Time
}

// NewStateCache returns an empty cache using the wall clock.
func NewStateCache() *StateCache {
	return &StateCache{
		entries: make(map[string]domain.VenueState),
		now:     time.Now,
	}
}

// Update stores state as the latest observation for venueID.
func (c *StateCache) Update(venueID string, state domain.VenueState) {
	state.VenueID = venueID
	c.mu.Lock()
	c.entries[venueID] = state
	c.mu.Unlock()
}

// Get returns the last state stored for venueID and its age. ok is false if
// the venue was never populated.
func (c *StateCache) Get(venueID string) (state domain.VenueState, age time.Duration, ok bool) {
	c.mu.RLock()
	state, ok = c.entries[venueID]
	c.mu.RUnlock()
	if !ok {
		return domain.VenueState{}, 0, false
	}
	age = c.now().Sub(state.ObservedAt)
	if age < 0 {
		age = 0
	}
	return state, age, true
}

// Fresh returns the state for venueID if it exists and is no older than
// maxAge. A maxAge of zero accepts any age.
func (c *StateCache) Fresh(venueID string, maxAge time.Duration) (*domain.VenueState, error) {
	state, age, ok := c.Get(venueID)
	if !ok {
		return nil, domain.ErrInsufficientData
	}
	if maxAge > 0 && age > maxAge {
		return nil, domain.ErrStaleState
	}
	return &state, nil
}
