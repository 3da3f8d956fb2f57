//go:build linux

package smartcard

import (
	"fmt"
	"time"

	"cardproto.dev/t1"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

// GPIOColdReset drives a card's physical reset line directly through
// periph.io/x/conn/v3/gpio, the same pin-acquisition and toggling style
// used for other single-board hardware lines. It implements
// t1.ColdResetter.
type GPIOColdReset struct {
	reset  gpio.PinOut
	sense  gpio.PinIn // optional card-present / VCC-sense line
	active time.Duration
}

// NewGPIOColdReset wires reset (driven low then released) and, if
// non-nil, sense (read once before reset begins; a low level means no
// card is present).
func NewGPIOColdReset(reset gpio.PinOut, sense gpio.PinIn, active time.Duration) (*GPIOColdReset, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("smartcard: periph host init: %w", err)
	}
	if active <= 0 {
		active = 40 * time.Microsecond
	}
	return &GPIOColdReset{reset: reset, sense: sense, active: active}, nil
}

// ColdReset asserts reset for the configured activation time, then
// releases it, giving the card a chance to begin its ATR.
func (g *GPIOColdReset) ColdReset() error {
	if g.sense != nil {
		if g.sense.Read() == gpio.Low {
			return fmt.Errorf("smartcard: card not present")
		}
	}
	if err := g.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("smartcard: assert reset: %w", err)
	}
	time.Sleep(g.active)
	if err := g.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("smartcard: release reset: %w", err)
	}
	return nil
}

// coldResetTransport composes a byte transport with a separately-wired
// cold-reset line so the pair together satisfy t1.ColdResetter. A bare
// SerialTransport never does: its reset pin, if any, isn't part of the
// serial link at all, so the two must be paired explicitly by whichever
// caller knows which GPIO line drives a given reader's reset.
type coldResetTransport struct {
	t1.Transport
	*GPIOColdReset
}

// WithGPIOColdReset pairs t with reset so Engine.Reset's ColdResetter
// type-assertion succeeds and drives reset.ColdReset() before the
// S(RESET) exchange.
func WithGPIOColdReset(t t1.Transport, reset *GPIOColdReset) t1.Transport {
	return coldResetTransport{Transport: t, GPIOColdReset: reset}
}
