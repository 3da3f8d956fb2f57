//go:build linux

package smartcard

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SetCustomBaud reprograms f's termios to an arbitrary baud rate via
// the BOTHER ioctl path. tarm/serial only offers a fixed table of
// standard rates; some contact-card readers negotiate non-standard
// ones (via the ATR's Fi/Di bytes) that table can't express.
//
// This is a caller-assembled primitive, not something SerialTransport
// calls itself: tarm/serial.Port doesn't expose the *os.File backing a
// port, so a caller that needs a negotiated non-standard rate must
// open the device with os.OpenFile, call SetCustomBaud on it, and wrap
// the result in its own t1.Transport rather than going through
// OpenSerial.
func SetCustomBaud(f *os.File, baud int) error {
	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("smartcard: get termios: %w", err)
	}
	t.Cflag &^= unix.CBAUD | unix.CBAUDEX
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		return fmt.Errorf("smartcard: set custom baud %d: %w", baud, err)
	}
	return nil
}
