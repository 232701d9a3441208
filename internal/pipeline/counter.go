package pipeline

import "sync/atomic"

// SlotCounter atomically claims result slots up to a fixed target. It is the
// only mechanism that prevents over-collection: a fetch worker may push a
// creator downstream only after claiming a slot.
type SlotCounter struct {
	target  int64
	claimed atomic.Int64
}

// NewSlotCounter builds a counter for the given target. A non-positive
// target means nothing can be claimed.
func NewSlotCounter(target int) *SlotCounter {
	return &SlotCounter{target: int64(target)}
}

// TryIncrement claims one slot, returning false once the target is reached.
func (c *SlotCounter) TryIncrement() bool {
	for {
		cur := c.claimed.Load()
		if cur >= c.target {
			return false
		}
		if c.claimed.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// IsComplete reports whether every slot has been claimed.
func (c *SlotCounter) IsComplete() bool {
	return c.claimed.Load() >= c.target
}

// Claimed returns the number of slots taken so far.
func (c *SlotCounter) Claimed() int {
	n := c.claimed.Load()
	if n > c.target {
		n = c.target
	}
	return int(n)
}

// Remaining returns the number of unclaimed slots.
func (c *SlotCounter) Remaining() int {
	rem := c.target - c.claimed.Load()
	if rem < 0 {
		return 0
	}
	return int(rem)
}
