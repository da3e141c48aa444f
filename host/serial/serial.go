// Package serial connects the host tools to the rig's USB serial console.
package serial

import (
	"io"
)

// Port represents a serial port interface.
// Implementations:
// - Native serial (using github.com/tarm/serial)
// - Any io.ReadWriteCloser wrapped with Wrap, for tests and replays
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores it, a UART bridge does not.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the console settings of the rig firmware.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

type wrapped struct {
	io.ReadWriteCloser
}

func (wrapped) Flush() error { return nil }

// Wrap adapts a plain stream to Port.
func Wrap(rwc io.ReadWriteCloser) Port {
	return wrapped{rwc}
}
