package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error

	// ConfigureInputPullDown configures a pin as a digital input with pull-down resistor
	ConfigureInputPullDown(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// ReadPin reads the current pin state
	ReadPin(pin GPIOPin) bool
}

// Edge selects which transition fires a pin interrupt.
type Edge uint8

const (
	EdgeRising Edge = 1 << iota
	EdgeFalling
	EdgeBoth = EdgeRising | EdgeFalling
)

// EdgeDriver is implemented by GPIO drivers that can call back on pin edges.
// Handlers run in interrupt context and must only touch a Latch.
type EdgeDriver interface {
	SetInterrupt(pin GPIOPin, edge Edge, handler func()) error
}
