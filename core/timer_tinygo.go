//go:build tinygo

package core

import "time"

// CounterClock is a Clock backed by a free-running microsecond counter,
// typically a timer peripheral register read by the target.
type CounterClock struct {
	read func() uint32
}

// NewCounterClock wraps a raw counter read.
func NewCounterClock(read func() uint32) *CounterClock {
	return &CounterClock{read: read}
}

func (c *CounterClock) Now() uint32 {
	return c.read()
}

// BusyWait spins on the counter; it never yields.
func (c *CounterClock) BusyWait(us uint32) {
	start := c.read()
	for c.read()-start < us {
	}
}

func (c *CounterClock) Sleep(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
