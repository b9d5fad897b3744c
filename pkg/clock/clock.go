/*
Package clock implements the Lamport logical clock used for causal
ordering and last-writer-wins conflict resolution across the mesh
(spec §4.4).
*/
package clock

import "sync/atomic"

// Clock is a monotonically non-decreasing integer, safe for concurrent
// use. The zero value starts at 0; callers normally construct one via
// New with a value read back from pkg/storage on startup.
type Clock struct {
	current atomic.Int64
}

// New returns a Clock initialized to start (normally the last value
// persisted to the state table, or 0 on first boot).
func New(start int64) *Clock {
	c := &Clock{}
	c.current.Store(start)
	return c
}

// Tick advances the clock and returns the new value. Callers originating
// a mutation call Tick to stamp it.
func (c *Clock) Tick() int64 {
	return c.current.Add(1)
}

// Witness folds an observed timestamp into the clock without advancing
// past it: current := max(current, t). Returns the value prior to the
// witness, matching spec §4.4's contract. Callers receiving a gossiped
// mutation call Witness before applying it, then Tick only if they are
// about to originate a further mutation of their own.
func (c *Clock) Witness(t int64) int64 {
	for {
		cur := c.current.Load()
		if t <= cur {
			return cur
		}
		if c.current.CompareAndSwap(cur, t) {
			return cur
		}
	}
}

// Current returns the clock's present value without advancing it.
func (c *Clock) Current() int64 {
	return c.current.Load()
}
