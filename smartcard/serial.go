//go:build !tinygo

package smartcard

import (
	"errors"
	"runtime"
	"time"

	"github.com/tarm/serial"
)

// SerialTransport adapts a github.com/tarm/serial port to t1.Transport,
// the way driver/mjolnir opens the engraver's serial link: try the
// caller-supplied device name first, then fall back to the platform's
// conventional candidate device names.
type SerialTransport struct {
	port *serial.Port
}

// OpenSerial opens dev (or, if empty, a platform-conventional contact
// reader device) at baud and returns a ready Transport.
func OpenSerial(dev string, baud int) (*SerialTransport, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyACM0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("smartcard: no serial device specified")
	}
	var firstErr error
	for _, d := range devices {
		cfg := &serial.Config{Name: d, Baud: baud, ReadTimeout: 50 * time.Millisecond}
		p, err := serial.OpenPort(cfg)
		if err == nil {
			return &SerialTransport{port: p}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (s *SerialTransport) Read(b []byte) (int, error)  { return s.port.Read(b) }
func (s *SerialTransport) Write(b []byte) (int, error) { return s.port.Write(b) }
func (s *SerialTransport) Close() error                { return s.port.Close() }

// Sleep blocks the calling goroutine for d. The serial port's read
// timeout, not this call, is what actually paces the NAD-byte poll;
// Sleep only yields control back to the engine's clock between polls.
func (s *SerialTransport) Sleep(d time.Duration) error {
	time.Sleep(d)
	return nil
}
