// package t1 implements the ISO/IEC 7816-3 T=1 block transmission
// protocol: the state machine that drives a contact smart card through
// block framing, chaining, waiting-time extension, resynchronisation
// and bounded retry, on top of a caller-supplied byte transport.
//
// The Engine allocates nothing while an exchange runs without errors or
// retries: all state lives in fixed-size fields set up once by New. The
// error values returned on failure, and those recorded on the R-block
// retry paths, are allocated.
package t1

import (
	"io"
	"time"

	"cardproto.dev/atr"
	"cardproto.dev/clock"
	"cardproto.dev/frame"
)

// Transport is the byte-oriented, half-duplex link an Engine drives.
// Implementations must block until the requested operation completes;
// a Write that accepts fewer bytes than given is reported to the caller
// as a transport error. A Read may return fewer bytes than requested:
// the engine reads again until the block is complete, and a Read error
// before then is reported as a transport error.
type Transport interface {
	io.Reader
	io.Writer
	// Sleep blocks for at least d. The engine calls it only to pace
	// the block-waiting-time poll for a card's NAD byte; it never
	// substitutes for Read/Write blocking.
	Sleep(d time.Duration) error
}

// ColdResetter is implemented by transports that can drive a physical
// cold-reset sequence (power-cycle and activation) before ATR
// collection. Engine.Reset uses it when present, unless Config.SoftReset
// is set.
type ColdResetter interface {
	ColdReset() error
}

const (
	defaultBWT      = 300 * time.Millisecond
	maxRetries      = 3
	maxWTXRounds    = 200
	wtxMaxValue     = 1
	recvMax         = 65538
	defaultIFS      = 32
	negotiatedDevIFSD = 254
	nadPollInterval = 2 * time.Millisecond
)

type ifsPair struct{ card, dev byte }

type nadPair struct{ card, dev byte }

type stateFlags struct {
	halt     bool
	request  bool
	reqresp  bool
	badcrc   bool
	timeout  bool
	aborted  bool
}

type needFlags struct {
	reset    bool
	resync   bool
	ifsdSync bool
}

type wtxState struct {
	mult   byte
	rounds int
}

// Config parameterises a new Engine. CardNAD and DevNAD are required
// and must each be nonzero (0x00 is reserved and doubles as this
// package's "unset" sentinel).
type Config struct {
	CardNAD byte
	DevNAD  byte
	// SoftReset, when set, skips the transport's ColdResetter even if
	// present: Reset relies on the S(RESET) request alone to obtain a
	// fresh ATR rather than power-cycling the card.
	SoftReset bool
}

// Engine is a single T=1 protocol session. It is not safe for
// concurrent use: callers must serialize Reset/ATR/Transmit calls.
type Engine struct {
	cfg     Config
	nad     nadPair
	ifs     ifsPair
	bwt     time.Duration
	chkAlgo frame.ChkAlgo
	retries int
	request byte // pending S-request code, 0xff when none
	wtx     wtxState
	flags   stateFlags
	need    needFlags

	atrBuf [atr.MaxLen]byte
	atrLen int

	send sendWindow
	recv recvWindow

	recvSize int
	wtxUsed  int // lifetime count of WTX rounds granted by the card

	buf [frame.Size]byte
	n   int

	clk clock.Clock
}

// New creates an Engine ready for its first Reset/ATR/Transmit call.
func New(cfg Config) (*Engine, error) {
	if cfg.CardNAD == 0 || cfg.DevNAD == 0 {
		return nil, ErrNADUnset
	}
	e := &Engine{
		cfg:     cfg,
		nad:     nadPair{card: cfg.CardNAD, dev: cfg.DevNAD},
		ifs:     ifsPair{card: defaultIFS, dev: defaultIFS},
		bwt:     defaultBWT,
		chkAlgo: frame.LRC,
	}
	e.need.reset = true
	return e, nil
}

func (e *Engine) clearStates() {
	e.flags = stateFlags{}
	e.wtx = wtxState{mult: 1, rounds: maxWTXRounds}
	e.retries = maxRetries
	e.request = 0xff
	e.send = sendWindow{}
	e.recv = recvWindow{}
	e.recvSize = 0
	e.n = 0
}

// Reset drives a fresh ATR exchange (and, unless Config.SoftReset is
// set, a physical cold reset first if t implements ColdResetter).
func (e *Engine) Reset(t Transport) error {
	e.clearStates()
	if !e.cfg.SoftReset {
		if cr, ok := t.(ColdResetter); ok {
			if err := cr.ColdReset(); err != nil {
				return err
			}
		}
	}
	e.need.reset = true
	return e.process(t)
}

// ATR performs a Reset if one has not yet completed, then returns the
// stored Answer-to-Reset bytes. The returned slice aliases Engine
// state and is only valid until the next call.
func (e *Engine) ATR(t Transport) ([]byte, error) {
	if e.need.reset {
		if err := e.Reset(t); err != nil {
			return nil, err
		}
	}
	return e.atrBuf[:e.atrLen], nil
}

// WTXRounds reports the lifetime count of waiting-time-extension
// rounds the card has requested across every Reset/ATR/Transmit call
// this Engine has made, for callers that want to surface it as a
// metric.
func (e *Engine) WTXRounds() int { return e.wtxUsed }

// Transmit sends capdu to the card and collects its response into the
// prefix of rapdu that the exchange fills. The returned slice aliases
// rapdu and is only valid until the next call. An empty capdu is
// rejected with ErrNoRespIBlock before anything is written.
func (e *Engine) Transmit(t Transport, capdu, rapdu []byte) ([]byte, error) {
	if len(capdu) == 0 {
		return nil, ErrNoRespIBlock
	}
	e.clearStates()
	e.send.buf = capdu
	e.recv.buf = rapdu
	if err := e.process(t); err != nil {
		return nil, err
	}
	return e.recv.bytes(), nil
}

func (e *Engine) processInit() {
	switch {
	case e.need.reset:
		e.flags.request = true
		e.request = frame.ReqReset
	case e.need.resync:
		e.flags.request = true
		e.request = frame.ReqResync
	case e.need.ifsdSync:
		e.flags.request = true
		e.request = frame.ReqIFS
		e.ifs.dev = negotiatedDevIFSD
	}
}

// requestInit stages the next outbound block into e.buf[:e.n]. A
// returned error is terminal: it is not a retry candidate.
func (e *Engine) requestInit() error {
	var err error
	switch {
	case e.flags.request:
		e.n, err = frame.BuildSBlock(e.buf[:], e.nad.dev, e.request, false, e.sPayload(false), e.chkAlgo)
	case e.flags.reqresp:
		e.flags.reqresp = false
		e.n, err = frame.BuildSBlock(e.buf[:], e.nad.dev, e.request, true, e.sPayload(true), e.chkAlgo)
	case e.flags.badcrc:
		e.n, err = frame.BuildRBlock(e.buf[:], e.nad.dev, e.recv.nr, frame.REDC, e.chkAlgo)
	case e.flags.timeout:
		e.n, err = frame.BuildRBlock(e.buf[:], e.nad.dev, e.recv.nr, frame.RAck, e.chkAlgo)
	case e.send.size() > 0:
		var consumed int
		var more bool
		e.n, consumed, more, err = frame.BuildIBlock(e.buf[:], e.nad.dev, e.send.ns, e.send.buf, int(e.ifs.card), e.chkAlgo)
		_ = consumed
		_ = more
	case e.flags.aborted:
		return ErrAborted
	case e.recv.size() > 0:
		e.n, err = frame.BuildRBlock(e.buf[:], e.nad.dev, e.recv.nr, frame.RAck, e.chkAlgo)
	default:
		return ErrNoRespIBlock
	}
	return err
}

// sPayload returns the single INF byte an S-block carries for IFS and
// WTX requests/responses, or nil for requests with no payload. The
// pointer refers to Engine state, so building the block allocates
// nothing.
func (e *Engine) sPayload(resp bool) *byte {
	switch e.request {
	case frame.ReqIFS:
		if resp {
			return &e.ifs.card
		}
		return &e.ifs.dev
	case frame.ReqWTX:
		return &e.wtx.mult
	default:
		return nil
	}
}

func (e *Engine) writeBlock(t Transport) error {
	n, err := t.Write(e.buf[:e.n])
	if err != nil {
		return wrap(ErrWriteLen, err)
	}
	if n != e.n {
		return ErrWriteLen
	}
	return nil
}

// blockRecv fills e.buf[:e.n] with one complete block, bounded by the
// card's block-waiting-time. The card's NAD byte is polled one byte at
// a time (paced by the clock) so the caller's blocking Read may
// legitimately report "nothing yet" as a zero-byte, nil-error read;
// once a byte does arrive it must be the expected NAD, or blockRecv
// fails immediately rather than resynchronising on the wire.
func (e *Engine) blockRecv(t Transport) error {
	e.n = 0
	mult := e.wtx.mult
	if mult == 0 {
		mult = 1
	}
	bwt := e.bwt * time.Duration(mult)
	e.wtx.mult = 1
	e.clk.Start(bwt)

	for {
		n, err := t.Read(e.buf[:1])
		if err != nil {
			return wrap(ErrReadLen, err)
		}
		if n == 1 {
			break
		}
		if err := e.clk.Sleep(t.Sleep, nadPollInterval); err != nil {
			return wrap(ErrReadLen, err)
		}
		if e.clk.TimedOut() {
			return ErrBWT
		}
	}
	e.n = 1
	if e.buf[0] != e.nad.card {
		return ErrNADMismatch
	}

	chkLen := e.chkAlgo.Len()
	hdr := 2 + chkLen
	if _, err := io.ReadFull(t, e.buf[e.n:e.n+hdr]); err != nil {
		return wrap(ErrReadLen, err)
	}
	e.n += hdr

	length := int(e.buf[2])
	if length > 0 {
		if _, err := io.ReadFull(t, e.buf[e.n:e.n+length]); err != nil {
			return wrap(ErrReadLen, err)
		}
		e.n += length
	}
	return nil
}

func (e *Engine) readBlock(t Transport) error {
	if err := e.blockRecv(t); err != nil {
		return err
	}
	if e.n < 3 {
		return ErrShortBlock
	}
	if e.buf[0] != e.nad.card {
		return ErrNADMismatch
	}
	if e.buf[2] == Reserved {
		return ErrReservedLen
	}
	ok, err := frame.Verify(e.buf[:e.n], e.chkAlgo)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChecksum
	}
	return nil
}

// Reserved is the LEN byte value ISO/IEC 7816-3 reserves; a received
// block carrying it is malformed. Mirrors frame.Reserved for callers
// that only see the engine's error, not the frame package.
const Reserved = frame.Reserved

// ackIBlock advances the send window past the I-block just
// acknowledged and toggles N(S). It recomputes the size exactly as
// requestInit did when it built that I-block, since nothing in the
// send window changes between building and acknowledging it.
func (e *Engine) ackIBlock() {
	n := e.send.size()
	if max := int(e.ifs.card); n > max {
		n = max
	}
	if n > frame.MaxINF {
		n = frame.MaxINF
	}
	e.send.advance(n)
}

// parseResponse checks a received S-block against the currently
// pending request. It returns false (not an error) when the block is
// not a response, or answers a different request code than the one
// pending -- both recoverable by the caller via retry. A non-nil error
// means the response matched but its payload was malformed, which is
// fatal for the call.
func (e *Engine) parseResponse() (bool, error) {
	pcb := frame.PCB(e.buf[:e.n])
	if !frame.SIsResponse(pcb) {
		return false, nil
	}
	code := frame.SCode(pcb)
	if code != e.request {
		return false, nil
	}

	switch code {
	case frame.ReqIFS:
		e.need.ifsdSync = false
		if e.buf[2] != 1 || e.buf[3] != e.ifs.dev {
			return false, ErrBadIFS
		}
	case frame.ReqReset:
		e.need.reset = false
		length := int(e.buf[2])
		if length < 1 || length > len(e.atrBuf) {
			return false, ErrBadATR
		}
		e.atrLen = copy(e.atrBuf[:], e.buf[3:3+length])
		// atrBuf holds the full ATR including its leading TS byte for
		// callers of ATR(); atr.Parse wants the stream starting at T0.
		info, err := atr.Parse(e.atrBuf[1:e.atrLen])
		if err != nil {
			return false, ErrBadATR
		}
		e.ifs.card = atr.ResolveIFSC(info, e.ifs.card)
	case frame.ReqResync:
		e.need.resync = false
		e.send.ns = false
		e.recv.nr = false
	default:
		return false, ErrNeverReq
	}
	return true, nil
}

// parseRequest handles an S-block the card sent as a fresh request
// (not a response to one of ours). On success it arms state.reqresp so
// the next loop iteration answers with the matching S-response.
func (e *Engine) parseRequest() error {
	pcb := frame.PCB(e.buf[:e.n])
	code := frame.SCode(pcb)
	length := int(e.buf[2])

	switch code {
	case frame.ReqResync:
		return ErrReqResync
	case frame.ReqIFS:
		if length != 1 || e.buf[3] == 0 || e.buf[3] == 0xff {
			return ErrBadIFS
		}
		e.ifs.card = e.buf[3]
	case frame.ReqAbort:
		if length != 0 {
			return ErrBadIFS
		}
		e.flags.aborted = true
		e.send.close()
		e.recv.close()
	case frame.ReqWTX:
		if length != 1 {
			return ErrBadIFS
		}
		mult := e.buf[3]
		if mult > wtxMaxValue {
			mult = wtxMaxValue
		}
		e.wtx.mult = mult
		e.wtx.rounds--
		e.wtxUsed++
		if e.wtx.rounds <= 0 {
			e.retries = 0
			return ErrNoRoundsLeft
		}
	default:
		// Unrecognised request codes are ignored: no response is sent
		// and the loop re-evaluates on its next iteration.
		return nil
	}
	e.request = code
	e.flags.reqresp = true
	return nil
}

// process runs the main I/R/S-block sequencing loop until halted or
// out of retries, and returns the non-fatal error left by the last
// iteration (nil when the last block received completed the exchange).
func (e *Engine) process(t Transport) error {
	e.processInit()

	var lastErr error
	for !e.flags.halt && e.retries > 0 {
		if err := e.requestInit(); err != nil {
			return err
		}
		if err := e.writeBlock(t); err != nil {
			return err
		}

		if err := e.readBlock(t); err != nil {
			e.retries--
			switch err {
			case ErrChecksum:
				e.flags.badcrc = true
				lastErr = err
			case ErrBWT:
				e.flags.timeout = true
				lastErr = err
			default:
				e.retries = 0
				return err
			}
			continue
		}

		pcb := frame.PCB(e.buf[:e.n])
		if e.flags.badcrc && pcb&0xef == 0x81 {
			e.retries--
			continue
		}
		e.flags.badcrc = false
		e.flags.timeout = false
		lastErr = nil

		if e.flags.request {
			if frame.KindOf(pcb) != frame.SBlock {
				e.retries--
				lastErr = ErrBade
				continue
			}
			matched, err := e.parseResponse()
			if err != nil {
				e.flags.halt = true
				return err
			}
			if !matched {
				e.retries--
				lastErr = ErrBade
				continue
			}

			e.flags.request = false
			e.retries = maxRetries
			switch e.request {
			case frame.ReqReset:
				e.flags.request = true
				e.request = frame.ReqIFS
				e.ifs.dev = negotiatedDevIFSD
				e.need.ifsdSync = true
			default:
				if e.recv.freeSize() <= 0 {
					e.flags.halt = true
				}
			}
			continue
		}

		switch frame.KindOf(pcb) {
		case frame.IBlock:
			if err := e.dispatchIBlock(pcb); err != nil {
				return err
			}
		case frame.RBlock:
			err := e.dispatchRBlock(pcb)
			if err != nil {
				if r, ok := err.(retryable); ok {
					lastErr = r.error
					continue
				}
				return err
			}
		case frame.SBlock:
			if err := e.parseRequest(); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// retryable marks an error that decremented the retry budget but did
// not halt the session outright; process uses it only to distinguish
// "continue looping" from "return now" without duplicating that choice
// at each call site.
type retryable struct{ error }

func (e *Engine) dispatchIBlock(pcb byte) error {
	if e.send.size() > 0 {
		e.ackIBlock()
	}
	if frame.NS(pcb) != e.recv.nr {
		// Retransmit of an already-accepted I-block: nothing new to
		// accumulate, the next iteration's R-block-ack branch will
		// re-acknowledge it.
		return nil
	}
	e.recv.toggleNR()
	length := int(e.buf[2])
	copied := e.recv.append(e.buf[3 : 3+length])
	e.recvSize += length

	if e.flags.aborted {
		return nil
	}
	if copied < length {
		e.flags.halt = true
		return ErrRecvWindowFull
	}
	if e.recvSize > recvMax {
		e.flags.halt = true
		return ErrRecvMsgSize
	}
	if !frame.More(pcb) && e.send.size() == 0 {
		e.flags.halt = true
	}
	e.retries = maxRetries
	e.wtx.rounds = maxWTXRounds
	return nil
}

func (e *Engine) dispatchRBlock(pcb byte) error {
	e.wtx.rounds = maxWTXRounds
	code := frame.RCode(pcb)
	switch code {
	case frame.RAck:
		accepted := frame.RNR(pcb) != e.send.ns
		if accepted {
			e.retries = maxRetries
			e.ackIBlock()
			return nil
		}
		e.retries--
		return retryable{ErrRbTimeout}
	case frame.REDC:
		e.retries--
		e.send.ns = frame.RNR(pcb)
		return retryable{ErrPrevBlkCrc}
	case frame.ROther:
		// e.flags.halt is always false here: process's loop guard
		// (for !e.flags.halt) has already excluded that case by the
		// time dispatchRBlock runs, and nothing in this function's own
		// call chain sets it beforehand.
		return ErrRbOther
	case frame.RResync3:
		e.need.resync = true
		e.flags.request = true
		e.request = frame.ReqResync
		e.retries--
		return retryable{ErrRbResync}
	default:
		e.flags.halt = true
		return ErrRbNotSupported
	}
}
