package core

// ADCPin identifies an analog input pin.
type ADCPin uint32

// ADCMax is the largest value ReadAnalog returns. Drivers with wider
// converters scale down to 10 bits.
const ADCMax = 1023

// ADCDriver is the abstract ADC interface that core code uses.
type ADCDriver interface {
	// ConfigureAnalog prepares a pin for analog input.
	ConfigureAnalog(pin ADCPin) error

	// ReadAnalog performs a one-shot sample, 0..ADCMax.
	ReadAnalog(pin ADCPin) uint16
}
