package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// consolePort is the rig's console on a host serial device.
type consolePort struct {
	*serial.Port
	device string
}

// Open opens cfg.Device as an 8N1 console.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return &consolePort{Port: p, device: cfg.Device}, nil
}

// Flush discards input the rig sent before we attached.
func (p *consolePort) Flush() error {
	if err := p.Port.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", p.device, err)
	}
	return nil
}
