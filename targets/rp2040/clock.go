//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"pendel/core"
)

// RP2040 timer peripheral: a free-running 64-bit counter at 1 MHz.
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28 // raw low word, no latching
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hardwareTime returns the low 32 bits of the microsecond counter.
func hardwareTime() uint32 {
	return timerRAWL.Get()
}

func newClock() *core.CounterClock {
	return core.NewCounterClock(hardwareTime)
}
