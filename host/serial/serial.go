// Package serial abstracts the byte transport between the host and a
// register-access agent.
package serial

import (
	"io"
)

// Port is a serial port. The abstraction keeps the bridge testable against
// an in-memory loopback and portable across transports.
type Port interface {
	io.ReadWriteCloser

	// Flush drops any buffered but unread input.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g. "/dev/ttyUSB0", "COM3").
	Device string

	// Baud rate. USB CDC devices ignore it.
	Baud int

	// Read timeout in milliseconds. Zero blocks; the bridge relies on a
	// short timeout so its reader loop can notice shutdown.
	ReadTimeout int
}

// DefaultConfig returns the configuration used by the bridge tooling.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
