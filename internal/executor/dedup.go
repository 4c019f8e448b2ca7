package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Dedup prevents the same opportunity from being executed more than once
// within a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup instance that considers a key a duplicate if it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// OpportunityKey fingerprints an opportunity by pair, direction and the
// observation time of the reused slow-venue state. Once we trade against a
// slow snapshot, that snapshot no longer describes the pool.
func OpportunityKey(opp domain.Opportunity) string {
	return fmt.Sprintf("%s|%s|%d", opp.Pair, opp.Direction, opp.SlowObservedAt().UnixNano())
}

// IsDuplicate returns true if key has been seen within the TTL window. If
// it has not been seen (or has expired), it is recorded and false is
// returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup removes entries that have expired beyond the TTL.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
