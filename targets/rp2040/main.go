//go:build rp2040

// Firmware for the inverted pendulum rig on a Raspberry Pi Pico. The
// diagnostic log goes to the USB serial console.
package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers/as560x"
	"tinygo.org/x/drivers/encoders"

	"pendel/config"
	"pendel/core"
	"pendel/pendulum"
)

func main() {
	// Clear any watchdog left armed before a soft reset.
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	cfg := config.Default()
	clock := newClock()
	gpio := NewRPGPIODriver()

	fault, err := core.NewLED(gpio, boardPins.Fault)
	if err != nil {
		return
	}

	sensor, err := newSensor(cfg)
	if err != nil {
		halt(clock, fault, err)
	}

	var stepper core.StepperBackend = core.NewGPIOStepperBackend(gpio)
	if usePIOStepper {
		stepper = NewPIOStepperBackend(0, 0, gpio)
	}

	m, err := pendulum.NewMachine(cfg, pendulum.Hardware{
		Clock:       clock,
		GPIO:        gpio,
		Stepper:     stepper,
		StepperPins: stepperPins,
		Sensor:      sensor,
		Pins:        boardPins,
		Out:         machine.Serial,
	})
	if err != nil {
		halt(clock, fault, err)
	}

	// An emergency stop waits for the input to clear and recalibrates.
	// Anything else is a firmware fault.
	for {
		if err := m.Cycle(); err != nil && !errors.Is(err, core.ErrEmergencyStop) {
			halt(clock, fault, err)
		}
	}
}

func newSensor(cfg config.Config) (pendulum.AngleSensor, error) {
	switch cfg.Sensor.Kind {
	case config.SensorEncoder:
		enc := encoders.NewQuadratureViaInterrupt(encoderA, encoderB)
		if err := enc.Configure(encoders.QuadratureConfig{Precision: 1}); err != nil {
			return nil, err
		}
		return pendulum.NewEncoderSensor(enc, encoderTicks), nil

	case config.SensorMagnetic:
		bus := machine.I2C0
		err := bus.Configure(machine.I2CConfig{
			Frequency: 400 * machine.KHz,
			SDA:       i2cSDA,
			SCL:       i2cSCL,
		})
		if err != nil {
			return nil, err
		}
		s := pendulum.NewMagneticSensor(bus)
		if err := s.Configure(as560x.DefaultAddress); err != nil {
			return nil, err
		}
		return s, nil

	case config.SensorPotPair:
		s, err := pendulum.NewPotPairSensor(NewRPADCDriver(), potPins, cfg.Sensor)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, config.ErrInvalid
}

// halt repeats the fault's blink code until reset.
func halt(clock core.Clock, led *core.LED, err error) {
	machine.Serial.Write([]byte("halted: " + err.Error() + "\n"))
	code := core.FaultCode(err)
	for {
		core.BlinkCode(led, clock, code)
	}
}
