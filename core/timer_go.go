//go:build !tinygo

package core

// ManualClock is a Clock whose time only moves when told to.
// BusyWait and Sleep advance it, so code under test sees time pass
// exactly as much as it waits.
type ManualClock struct {
	ticks uint32
}

// NewManualClock returns a clock reading start.
func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{ticks: start}
}

func (c *ManualClock) Now() uint32 {
	return c.ticks
}

// Set moves the clock to an absolute time.
func (c *ManualClock) Set(ticks uint32) {
	c.ticks = ticks
}

// Advance moves the clock forward by us microseconds.
func (c *ManualClock) Advance(us uint32) {
	c.ticks += us
}

func (c *ManualClock) BusyWait(us uint32) {
	c.ticks += us
}

func (c *ManualClock) Sleep(us uint32) {
	c.ticks += us
}
