package smartcard

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/xid"
)

// traceEntry is one recorded exchange, CBOR-encoded the way
// bc/fountain and bc/urtypes encode their wire structures.
type traceEntry struct {
	_        struct{} `cbor:",toarray"`
	ID       string
	CAPDU    []byte
	RAPDU    []byte
	Duration time.Duration
	Err      string
}

// Trace accumulates a session transcript for offline debugging or
// replay as a scripted mock transport. It is safe for concurrent use
// by a single Card (Transmit and RecordATR are never called
// concurrently in this package, but Trace itself does not assume
// that).
type Trace struct {
	mu      sync.Mutex
	atr     []byte
	entries []traceEntry
}

// RecordATR stores the card's Answer-to-Reset bytes.
func (t *Trace) RecordATR(atr []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.atr = append([]byte(nil), atr...)
}

// Record appends one Transmit exchange to the transcript.
func (t *Trace) Record(id xid.ID, capdu, rapdu []byte, d time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := traceEntry{
		ID:       id.String(),
		CAPDU:    append([]byte(nil), capdu...),
		RAPDU:    append([]byte(nil), rapdu...),
		Duration: d,
	}
	if err != nil {
		e.Err = err.Error()
	}
	t.entries = append(t.entries, e)
}

// MarshalCBOR encodes the full transcript using CBOR's core
// deterministic encoding options.
func (t *Trace) MarshalCBOR() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("smartcard: trace encode mode: %w", err)
	}
	doc := struct {
		_       struct{} `cbor:",toarray"`
		ATR     []byte
		Entries []traceEntry
	}{ATR: t.atr, Entries: t.entries}
	return mode.Marshal(doc)
}
