package t1

import "fmt"

// Kind classifies an Error so callers can branch on category (framing,
// transport, protocol, resource or configuration) without string
// matching.
type Kind int

const (
	KindFraming Kind = iota
	KindTransport
	KindProtocol
	KindResource
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type for every failure the t1 package detects
// itself. Each distinct failure mode is a package-level *Error value
// (see below) that can be compared with errors.Is, optionally wrapping a
// transport error. An error returned by a transport's ColdReset is
// passed back unchanged.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("t1: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("t1: %s", e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is the same sentinel Error (by Kind and
// message), letting errors.Is match wrapped instances created by wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.msg == t.msg
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// wrap returns a copy of sentinel carrying cause, so errors.Is(result,
// sentinel) still matches while errors.Unwrap reaches cause.
func wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, msg: sentinel.msg, err: cause}
}

// Sentinel errors. Framing.
var (
	ErrShortBlock  = newErr(KindFraming, "short block")
	ErrNADMismatch = newErr(KindFraming, "NAD mismatch")
	ErrReservedLen = newErr(KindFraming, "reserved LEN value 255")
	ErrChecksum    = newErr(KindFraming, "checksum mismatch")
)

// Transport.
var (
	ErrWriteLen = newErr(KindTransport, "short write")
	ErrReadLen  = newErr(KindTransport, "short read")
)

// Protocol.
var (
	ErrNeverReq       = newErr(KindProtocol, "unexpected block in response slot")
	ErrBade           = newErr(KindProtocol, "unexpected non-S-block while a request is pending")
	ErrRbNotSupported = newErr(KindProtocol, "unsupported R-block error code")
	ErrRbResync       = newErr(KindProtocol, "card requested resynchronisation")
	ErrAborted        = newErr(KindProtocol, "session aborted by card")
	ErrReqResync      = newErr(KindProtocol, "unexpected RESYNC request from card")
	ErrBadIFS         = newErr(KindProtocol, "malformed IFS payload")
	ErrBadATR         = newErr(KindProtocol, "malformed ATR payload")
	ErrPrevBlkCrc     = newErr(KindProtocol, "card reported checksum error on our last block")
	ErrRbOther        = newErr(KindProtocol, "R-block reported an unspecified error")
)

// Resource.
var (
	ErrRecvMsgSize    = newErr(KindResource, "response exceeded maximum size")
	ErrRecvWindowFull = newErr(KindResource, "receive window full")
	ErrNoRoundsLeft   = newErr(KindResource, "WTX rounds exhausted")
	ErrRbTimeout      = newErr(KindResource, "retries exhausted waiting for R-block ack")
	ErrBWT            = newErr(KindResource, "block waiting time elapsed")
	ErrNoRespIBlock   = newErr(KindResource, "nothing to send and nothing to acknowledge")
)

// Configuration.
var (
	ErrNoTransport = newErr(KindConfig, "no transport supplied")
	ErrNADUnset    = newErr(KindConfig, "card/device NAD not configured")
)
