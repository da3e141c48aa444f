package core

import "errors"

// ErrEmergencyStop is returned when a limit switch or the emergency input
// halted the rig. Recovery needs a fresh calibration cycle.
var ErrEmergencyStop = errors.New("emergency stop")

// Fault blink patterns, most significant bit first, 125ms per bit.
const (
	FaultUnknown       uint8 = 0b10000000
	FaultQueueFull     uint8 = 0b10101010
	FaultQueueEmpty    uint8 = 0b11001100
	FaultEmergencyStop uint8 = 0b11110000
)

const blinkBit = 125 * Millisecond

// FaultCode maps a fault to its blink pattern.
func FaultCode(err error) uint8 {
	switch {
	case errors.Is(err, ErrQueueFull):
		return FaultQueueFull
	case errors.Is(err, ErrQueueEmpty):
		return FaultQueueEmpty
	case errors.Is(err, ErrEmergencyStop):
		return FaultEmergencyStop
	}
	return FaultUnknown
}

// BlinkCode shows one round of a fault pattern: a second dark, then the
// eight bits. It blocks; call it only after the queue has halted.
func BlinkCode(led *LED, clock Clock, code uint8) {
	led.Off()
	clock.Sleep(Second)
	for i := 0; i < 8; i++ {
		led.Set(code&0x80 != 0)
		code <<= 1
		clock.Sleep(blinkBit)
	}
	led.Off()
}
