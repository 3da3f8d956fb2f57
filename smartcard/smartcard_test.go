package smartcard

import (
	"errors"
	"testing"
	"time"

	"cardproto.dev/t1"
)

// stubTransport never produces a byte; it exists only to satisfy
// t1.Transport for tests that never reach the wire (the short-CAPDU
// rejection happens before Card calls into the engine).
type stubTransport struct{}

func (stubTransport) Read([]byte) (int, error)    { return 0, errors.New("stub: no data") }
func (stubTransport) Write(b []byte) (int, error) { return len(b), nil }
func (stubTransport) Sleep(time.Duration) error   { return nil }

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Config{CardNAD: 0x15, DevNAD: 0x51})
	if err != t1.ErrNoTransport {
		t.Fatalf("got %v, want ErrNoTransport", err)
	}
}

func TestTransmitRejectsShortCAPDU(t *testing.T) {
	card, err := New(Config{CardNAD: 0x15, DevNAD: 0x51, Transport: stubTransport{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := card.Transmit([]byte{0x00, 0xA4}); err != ErrShortCAPDU {
		t.Fatalf("got %v, want ErrShortCAPDU", err)
	}
}

func TestTransmitAllowsEmptyCAPDU(t *testing.T) {
	card, err := New(Config{CardNAD: 0x15, DevNAD: 0x51, Transport: stubTransport{}})
	if err != nil {
		t.Fatal(err)
	}
	// An empty C-APDU must reach the engine rather than being rejected
	// by Card's own length check; the engine then has nothing to send
	// and nothing pending to acknowledge, so it reports ErrNoRespIBlock
	// without ever touching the transport.
	_, err = card.Transmit(nil)
	if err != t1.ErrNoRespIBlock {
		t.Fatalf("got %v, want t1.ErrNoRespIBlock", err)
	}
}
