package serial

import (
	"io"
	"time"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Simulated XACT register space (host/sim)
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read
	Flush() error
}

// Config holds serial port configuration. The XACT link is always 8N1.
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate (115200 for the XACT RS-422 adapter)
	Baud int

	// Read timeout (0 = blocking). A read that times out returns io.EOF.
	ReadTimeout time.Duration
}

// DefaultBaud is the XACT serial line rate
const DefaultBaud = 115200

// DefaultConfig returns the XACT line settings for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 50 * time.Millisecond,
	}
}
