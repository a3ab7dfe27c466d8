package wire

import "github.com/pkg/errors"

// HeaderSize is [cmd:u8][length:u32 BE][reqid:u32 BE].
const HeaderSize = 1 + 4 + 4

// MaxFrameLen is the largest frame a Reader will accept as valid (§4.1).
const MaxFrameLen = 16 * 1024

// MaxRawRecv is the sanity bound applied to a peeked length header before
// the reactor allocates an ingress buffer for it (§5 backpressure).
const MaxRawRecv = 64 * 1024

// ErrShortBuffer is returned by Validate when a length-prefixed frame is
// shorter than its own header.
var ErrShortBuffer = errors.New("wire: buffer shorter than frame header")

// ErrFrameTooLarge is returned when a decoded length exceeds MaxFrameLen.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum length")

// ErrFrameTooSmall is returned when a decoded length is non-positive or
// smaller than the header itself.
var ErrFrameTooSmall = errors.New("wire: frame length is non-positive")

// Frame is the in-memory representation of one wire message: a command
// byte, a request id used to correlate responses, and a payload.
type Frame struct {
	Cmd     Command
	ReqID   uint32
	Payload []byte
}

// NewFrame builds a Frame ready to be written out via NewWriter.
func NewFrame(cmd Command, reqID uint32, payload []byte) Frame {
	return Frame{Cmd: cmd, ReqID: reqID, Payload: payload}
}
