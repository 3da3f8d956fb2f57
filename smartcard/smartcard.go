// package smartcard is the builder/configuration layer on top of
// cardproto.dev/t1: it wires a concrete Transport (serial port, GPIO
// cold-reset line), optional tracing and metrics, and the minimum
// APDU-shape validation a caller-facing card object should do before
// handing bytes to the protocol engine.
package smartcard

import (
	"errors"
	"time"

	"cardproto.dev/t1"
	"github.com/btcsuite/btclog"
	"github.com/rs/xid"
)

// minCAPDU is the shortest a case-1 command APDU (CLA INS P1 P2) can be.
const minCAPDU = 4

// ErrShortCAPDU is returned when a non-empty C-APDU is shorter than
// the mandatory 4-byte CLA/INS/P1/P2 header.
var ErrShortCAPDU = errors.New("smartcard: C-APDU shorter than CLA/INS/P1/P2")

// Config parameterises a Card.
type Config struct {
	CardNAD byte
	DevNAD  byte
	// SoftReset, forwarded to t1.Config, skips the Transport's
	// ColdResetter even if present.
	SoftReset bool
	// Transport is required: the byte-level link to the reader.
	Transport t1.Transport
	// Logger, if non-nil, receives protocol tracing at Debug level.
	// Nil-safe: a nil Logger silently disables tracing.
	Logger btclog.Logger
	// Trace, if non-nil, records every exchange for offline replay.
	Trace *Trace
	// Metrics, if non-nil, is updated with call, error, checksum-error,
	// WTX and abort counts.
	Metrics *Metrics
}

// Card is the caller-facing handle for a single card session.
type Card struct {
	engine  *t1.Engine
	t       t1.Transport
	log     btclog.Logger
	trace   *Trace
	metrics *Metrics
	rapdu   [65538]byte
	wtxSeen int // engine.WTXRounds() as of the last observe call
}

// New validates cfg and constructs a Card. It performs no I/O; the
// first Reset, ATR or Transmit call drives the physical exchange.
func New(cfg Config) (*Card, error) {
	if cfg.Transport == nil {
		return nil, t1.ErrNoTransport
	}
	engine, err := t1.New(t1.Config{
		CardNAD:   cfg.CardNAD,
		DevNAD:    cfg.DevNAD,
		SoftReset: cfg.SoftReset,
	})
	if err != nil {
		return nil, err
	}
	return &Card{
		engine:  engine,
		t:       cfg.Transport,
		log:     cfg.Logger,
		trace:   cfg.Trace,
		metrics: cfg.Metrics,
	}, nil
}

// Reset drives a fresh ATR exchange.
func (c *Card) Reset() error {
	if c.log != nil {
		c.log.Debug("smartcard: reset")
	}
	err := c.engine.Reset(c.t)
	c.observe(err)
	return err
}

// ATR returns the card's Answer-to-Reset, performing a Reset first if
// one has not yet completed.
func (c *Card) ATR() ([]byte, error) {
	atr, err := c.engine.ATR(c.t)
	c.observe(err)
	if err == nil && c.trace != nil {
		c.trace.RecordATR(atr)
	}
	return atr, err
}

// Transmit sends capdu and returns the card's response APDU. It
// rejects C-APDUs shorter than the 4-byte CLA/INS/P1/P2 header before
// the protocol engine ever sees them.
func (c *Card) Transmit(capdu []byte) ([]byte, error) {
	if len(capdu) > 0 && len(capdu) < minCAPDU {
		return nil, ErrShortCAPDU
	}
	id := xid.New()
	start := time.Now()
	if c.log != nil {
		c.log.Debugf("smartcard: %s transmit %x", id, capdu)
	}
	rapdu, err := c.engine.Transmit(c.t, capdu, c.rapdu[:])
	c.observe(err)
	if c.trace != nil {
		c.trace.Record(id, capdu, rapdu, time.Since(start), err)
	}
	if c.log != nil {
		if err != nil {
			c.log.Debugf("smartcard: %s transmit error: %v", id, err)
		} else {
			c.log.Debugf("smartcard: %s response %x", id, rapdu)
		}
	}
	return rapdu, err
}

// observe reports err and any newly-granted WTX rounds to metrics.
// WTXRounds() is a lifetime total on the engine; observe converts it
// to the incremental count Prometheus counters expect.
func (c *Card) observe(err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.observe(err)
	if total := c.engine.WTXRounds(); total > c.wtxSeen {
		c.metrics.WTXRounds.Add(float64(total - c.wtxSeen))
		c.wtxSeen = total
	}
}
