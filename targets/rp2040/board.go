//go:build rp2040

package main

import (
	"machine"

	"pendel/core"
	"pendel/pendulum"
)

// Pin assignment of the pendulum board (Raspberry Pi Pico).
var stepperPins = core.StepperPins{
	Step:            5,
	Dir:             4,
	Enable:          9,
	Mode:            [3]core.GPIOPin{8, 7, 6},
	DirForward:      true,
	EnableActiveLow: true,
}

var boardPins = pendulum.Pins{
	Start:     2,
	Pause:     3,
	Emergency: 10,
	MotorEnd:  12,
	OtherEnd:  11,
	Green:     14,
	Yellow:    15,
	Red:       16,
	Fault:     25, // on-board LED
}

const (
	encoderA     = machine.GP20
	encoderB     = machine.GP21
	encoderTicks = 2048 // quadrature edges per revolution

	i2cSDA = machine.GP0
	i2cSCL = machine.GP1
)

var potPins = [2]core.ADCPin{26, 27}

// usePIOStepper selects hardware-timed step pulses. Set false to bit-bang
// the step line from the scheduler instead.
const usePIOStepper = true
