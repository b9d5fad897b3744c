package dedup

import (
	"sync"
	"time"
)

// defaultTombstoneTTL matches spec §6's tombstone_ttl default: how long
// a tombstoned entity id is remembered before it is eligible for purge
// from storage and the registry.
const defaultTombstoneTTL = 120 * time.Second

// TombstoneTracker remembers when entities were marked gone, so that a
// late-arriving gossip message about an already-tombstoned entity can
// be recognized and dropped rather than resurrecting it, and so a
// reconciliation loop knows when it is finally safe to delete the
// record outright. Safe for concurrent use.
type TombstoneTracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	tombstone map[string]time.Time
}

// NewTombstoneTracker returns a tracker with the given TTL. A ttl of 0
// uses defaultTombstoneTTL.
func NewTombstoneTracker(ttl time.Duration) *TombstoneTracker {
	if ttl <= 0 {
		ttl = defaultTombstoneTTL
	}
	return &TombstoneTracker{
		ttl:       ttl,
		tombstone: make(map[string]time.Time),
	}
}

// Mark records id as tombstoned as of now. Calling Mark again on an
// already-tombstoned id refreshes its expiry rather than resetting the
// clock backwards — the latest mutation always wins.
func (t *TombstoneTracker) Mark(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.tombstone[id]; ok && prev.After(now) {
		return
	}
	t.tombstone[id] = now
}

// IsTombstoned reports whether id has an active (not yet expired)
// tombstone as of now.
func (t *TombstoneTracker) IsTombstoned(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	markedAt, ok := t.tombstone[id]
	if !ok {
		return false
	}
	return now.Sub(markedAt) <= t.ttl
}

// Unmark clears id's tombstone, if any. Callers use this when a
// subsequent mutation with a higher Lamport timestamp resurrects the
// entity (e.g. an agent re-registering under the same id).
func (t *TombstoneTracker) Unmark(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tombstone, id)
}

// Expired returns every tombstoned id whose TTL has elapsed as of now,
// and removes them from the tracker. Callers use this to drive the
// purge-from-storage step of the reconciliation loop.
func (t *TombstoneTracker) Expired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, markedAt := range t.tombstone {
		if now.Sub(markedAt) > t.ttl {
			expired = append(expired, id)
			delete(t.tombstone, id)
		}
	}
	return expired
}
