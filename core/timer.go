package core

// Time on the rig is a wrapping 32-bit microsecond counter.
const (
	Microsecond uint32 = 1
	Millisecond        = 1000 * Microsecond
	Second             = 1000 * Millisecond
	Minute             = 60 * Second
)

// Clock is the time source shared by the scheduler and the stepper.
type Clock interface {
	// Now returns the current time in microseconds. Wraps at 2^32.
	Now() uint32

	// BusyWait spins for at least us microseconds. Used only where
	// sub-microsecond determinism matters (pulse widths, driver settle).
	BusyWait(us uint32)

	// Sleep waits roughly us microseconds. The scheduler uses it while
	// idle; implementations may return early.
	Sleep(us uint32)
}
