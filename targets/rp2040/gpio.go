//go:build rp2040

package main

import (
	"errors"
	"machine"

	"pendel/core"
)

var errPinRange = errors.New("pin out of range")

// RPGPIODriver implements core.GPIODriver and core.EdgeDriver on the
// RP2040 bank 0 pins.
type RPGPIODriver struct {
	configured uint32 // bit per GPIO
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin > 29 {
		return errPinRange
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
	d.configured |= 1 << pin
	return nil
}

func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

// SetPin drives a configured pin. Unconfigured pins become outputs first.
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin > 29 {
		return errPinRange
	}
	if d.configured&(1<<pin) == 0 {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	machine.Pin(pin).Set(value)
	return nil
}

func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	if pin > 29 || d.configured&(1<<pin) == 0 {
		return false
	}
	return machine.Pin(pin).Get()
}

// SetInterrupt calls handler from the GPIO interrupt on the given edges.
func (d *RPGPIODriver) SetInterrupt(pin core.GPIOPin, edge core.Edge, handler func()) error {
	if pin > 29 {
		return errPinRange
	}
	var change machine.PinChange
	if edge&core.EdgeRising != 0 {
		change |= machine.PinRising
	}
	if edge&core.EdgeFalling != 0 {
		change |= machine.PinFalling
	}
	return machine.Pin(pin).SetInterrupt(change, func(machine.Pin) { handler() })
}
