//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"pendel/core"
)

// Each word pulled from the TX FIFO emits one step pulse of pulseCycles
// state machine cycles. The value of the word is ignored.
//
//	.wrap_target
//	pull block
//	set pins, 1 [pulseCycles-1]
//	set pins, 0
//	.wrap
const (
	pioClockDiv = 125 // 1 MHz state machine clock at 125 MHz sysclk
	pulseCycles = 2   // us
)

// delay adds a delay field to an encoded instruction.
func delay(instr uint16, cycles uint8) uint16 {
	return instr | uint16(cycles&0x1f)<<8
}

func stepProgram() []uint16 {
	return []uint16{
		rp2pio.EncodePull(false, true),
		delay(rp2pio.EncodeSet(rp2pio.SrcDestPins, 1), pulseCycles-1),
		rp2pio.EncodeSet(rp2pio.SrcDestPins, 0),
	}
}

// PIOStepperBackend times step pulses in a PIO state machine. Direction,
// enable and microstep lines stay on plain GPIO.
type PIOStepperBackend struct {
	pio  *rp2pio.PIO
	sm   rp2pio.StateMachine
	gpio *core.GPIOStepperBackend
}

// NewPIOStepperBackend uses state machine smNum of PIO0 or PIO1.
func NewPIOStepperBackend(pioNum, smNum uint8, gpio core.GPIODriver) *PIOStepperBackend {
	hw := rp2pio.PIO0
	if pioNum != 0 {
		hw = rp2pio.PIO1
	}
	return &PIOStepperBackend{
		pio:  hw,
		sm:   hw.StateMachine(smNum),
		gpio: core.NewGPIOStepperBackend(gpio),
	}
}

func (b *PIOStepperBackend) Init(pins core.StepperPins) error {
	// The GPIO backend owns every line but step.
	if err := b.gpio.Init(pins); err != nil {
		return err
	}

	b.sm.TryClaim()
	program := stepProgram()
	offset, err := b.pio.AddProgram(program, -1)
	if err != nil {
		return err
	}

	step := machine.Pin(pins.Step)
	step.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(step, 1)
	cfg.SetWrap(offset, offset+uint8(len(program))-1)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)

	// Pin directions must be set after Init.
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(step, 1, true)
	b.sm.SetPinsConsecutive(step, 1, false)
	b.sm.SetEnabled(true)
	return nil
}

// StepHigh queues one complete pulse. The FIFO is four deep and the
// stepper never asks for a pulse sooner than the previous one ends.
func (b *PIOStepperBackend) StepHigh() {
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(1)
}

func (b *PIOStepperBackend) StepLow() {}

func (b *PIOStepperBackend) SetDirection(reverse bool) {
	b.gpio.SetDirection(reverse)
}

func (b *PIOStepperBackend) SetEnabled(on bool) {
	if !on {
		b.sm.ClearFIFOs()
	}
	b.gpio.SetEnabled(on)
}

func (b *PIOStepperBackend) SetMicrostep(level uint8) {
	b.gpio.SetMicrostep(level)
}

func (b *PIOStepperBackend) GetName() string {
	return "PIO"
}

// GetInfo returns backend performance information
func (b *PIOStepperBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   250000,
		MinPulseNs:    pulseCycles * 1000,
		TypicalJitter: 10,
	}
}
