package core

import "errors"

// StepperPins lists the driver lines of a step/dir stepper driver with
// three microstep-select inputs (DRV8825 style).
type StepperPins struct {
	Step   GPIOPin
	Dir    GPIOPin
	Enable GPIOPin
	Mode   [3]GPIOPin // M0, M1, M2

	// DirForward is the dir line level that moves the cart forward.
	DirForward bool

	// EnableActiveLow drives the enable line low to power the coils.
	EnableActiveLow bool
}

// StepperBackend defines the hardware abstraction for stepper control
// Implementations can use GPIO, PIO, or other methods
type StepperBackend interface {
	// Init configures the driver lines. The motor starts disabled.
	Init(pins StepperPins) error

	// StepHigh starts a step pulse. Backends that time the pulse in
	// hardware emit the whole pulse here.
	StepHigh()

	// StepLow ends a step pulse started by StepHigh.
	StepLow()

	// SetDirection sets the direction output
	// reverse: true = toward the motor end
	SetDirection(reverse bool)

	// SetEnabled powers or releases the coils.
	SetEnabled(on bool)

	// SetMicrostep selects 2^level microsteps per full step.
	SetMicrostep(level uint8)

	// GetName returns backend implementation name
	GetName() string
}

// StepperBackendInfo provides information about available backends
type StepperBackendInfo struct {
	Name          string
	MaxStepRate   uint32 // Maximum steps/second
	MinPulseNs    uint32 // Minimum step pulse width (ns)
	TypicalJitter uint32 // Typical timing jitter (ns)
}

// ErrStepRate reports a configured speed the backend cannot pulse.
var ErrStepRate = errors.New("speed above backend step rate")

// CheckStepRate fails when b reports a maximum step rate below speed
// (pulses per second). Backends without GetInfo pass.
func CheckStepRate(b StepperBackend, speed float64) error {
	r, ok := b.(interface{ GetInfo() StepperBackendInfo })
	if ok && speed > float64(r.GetInfo().MaxStepRate) {
		return ErrStepRate
	}
	return nil
}

// GPIOStepperBackend bit-bangs the driver lines through a GPIODriver.
type GPIOStepperBackend struct {
	gpio GPIODriver
	pins StepperPins
}

// NewGPIOStepperBackend creates a backend on top of gpio.
func NewGPIOStepperBackend(gpio GPIODriver) *GPIOStepperBackend {
	return &GPIOStepperBackend{gpio: gpio}
}

func (b *GPIOStepperBackend) Init(pins StepperPins) error {
	b.pins = pins
	for _, pin := range []GPIOPin{pins.Step, pins.Dir, pins.Enable, pins.Mode[0], pins.Mode[1], pins.Mode[2]} {
		if err := b.gpio.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	b.gpio.SetPin(pins.Step, false)
	b.gpio.SetPin(pins.Dir, pins.DirForward)
	b.SetEnabled(false)
	b.SetMicrostep(0)
	return nil
}

func (b *GPIOStepperBackend) StepHigh() {
	b.gpio.SetPin(b.pins.Step, true)
}

func (b *GPIOStepperBackend) StepLow() {
	b.gpio.SetPin(b.pins.Step, false)
}

func (b *GPIOStepperBackend) SetDirection(reverse bool) {
	b.gpio.SetPin(b.pins.Dir, reverse != b.pins.DirForward)
}

func (b *GPIOStepperBackend) SetEnabled(on bool) {
	b.gpio.SetPin(b.pins.Enable, on != b.pins.EnableActiveLow)
}

func (b *GPIOStepperBackend) SetMicrostep(level uint8) {
	for i, pin := range b.pins.Mode {
		b.gpio.SetPin(pin, level&(1<<i) != 0)
	}
}

func (b *GPIOStepperBackend) GetName() string {
	return "GPIO"
}

// GetInfo returns backend performance information
func (b *GPIOStepperBackend) GetInfo() StepperBackendInfo {
	return StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   100000,
		MinPulseNs:    1000,
		TypicalJitter: 2000,
	}
}
