package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetFirstOccurrenceIsNotDuplicate(t *testing.T) {
	s := NewSeenSet(10)
	assert.False(t, s.CheckAndAdd("task:1:create:5"))
	assert.True(t, s.CheckAndAdd("task:1:create:5"))
}

func TestSeenSetDistinguishesEventAndLamportTS(t *testing.T) {
	s := NewSeenSet(10)
	assert.False(t, s.CheckAndAdd("task:1:create:5"))
	assert.False(t, s.CheckAndAdd("task:1:update:6"))
}

func TestSeenSetEvictsOldestAtCapacity(t *testing.T) {
	s := NewSeenSet(3)
	for i := 0; i < 3; i++ {
		assert.False(t, s.CheckAndAdd(fmt.Sprintf("k%d", i)))
	}
	assert.Equal(t, 3, s.Len())

	// Inserting a 4th key evicts k0.
	assert.False(t, s.CheckAndAdd("k3"))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.CheckAndAdd("k0"))
}

func TestTombstoneTrackerExpiry(t *testing.T) {
	tr := NewTombstoneTracker(time.Minute)
	base := time.Now()

	tr.Mark("agent-1", base)
	assert.True(t, tr.IsTombstoned("agent-1", base.Add(30*time.Second)))
	assert.False(t, tr.IsTombstoned("agent-1", base.Add(90*time.Second)))

	expired := tr.Expired(base.Add(90 * time.Second))
	assert.Equal(t, []string{"agent-1"}, expired)
	assert.False(t, tr.IsTombstoned("agent-1", base.Add(90*time.Second)))
}

func TestTombstoneUnmark(t *testing.T) {
	tr := NewTombstoneTracker(time.Minute)
	now := time.Now()
	tr.Mark("agent-1", now)
	tr.Unmark("agent-1")
	assert.False(t, tr.IsTombstoned("agent-1", now))
}
