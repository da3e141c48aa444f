//go:build rp2040

package main

import (
	"errors"
	"machine"

	"pendel/core"
)

// RPADCDriver implements core.ADCDriver on GPIO26..GPIO29.
type RPADCDriver struct {
	channels [4]*machine.ADC
}

// NewRPADCDriver powers up the converter.
func NewRPADCDriver() *RPADCDriver {
	machine.InitADC()
	return &RPADCDriver{}
}

func channel(pin core.ADCPin) (int, error) {
	if pin < 26 || pin > 29 {
		return 0, errors.New("not an ADC pin")
	}
	return int(pin - 26), nil
}

func (d *RPADCDriver) ConfigureAnalog(pin core.ADCPin) error {
	ch, err := channel(pin)
	if err != nil {
		return err
	}
	if d.channels[ch] != nil {
		return nil
	}
	adc := machine.ADC{Pin: machine.Pin(pin)}
	if err := adc.Configure(machine.ADCConfig{}); err != nil {
		return err
	}
	d.channels[ch] = &adc
	return nil
}

// ReadAnalog returns a 10-bit sample. Unconfigured pins read as ADCMax,
// which the pot sensor treats as dead zone.
func (d *RPADCDriver) ReadAnalog(pin core.ADCPin) uint16 {
	ch, err := channel(pin)
	if err != nil || d.channels[ch] == nil {
		return core.ADCMax
	}
	// Get scales the 12-bit result to 16 bits.
	return d.channels[ch].Get() >> 6
}
