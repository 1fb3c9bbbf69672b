package telenet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/juju/errors"
)

var (
	ErrFrameInvalid     = fmt.Errorf("frame is invalid")
	ErrFrameLenOverflow = fmt.Errorf("frame is too large")
)

const (
	FrameHeaderSize = 4 /*length*/ + 1 /*flag*/
	FrameLenSize    = 4

	FrameFlagRaw        = byte(0x00)
	FrameFlagCompressed = byte(0x01)

	// Mobile client refuses anything larger.
	MaxFrameLen = 10 << 20

	// Legacy clients send handshake reply without flag byte,
	// so first payload byte lands in flag position.
	frameFlagLegacyJSON = byte('{')
)

// FramingError means truncated or malformed frame. Connection must be torn down.
type FramingError struct {
	Op  string
	Err error
}

func (e *FramingError) Error() string { return fmt.Sprintf("frame %s: %v", e.Op, e.Err) }
func (e *FramingError) Unwrap() error { return e.Err }

func IsFramingError(err error) bool {
	_, ok := errors.Cause(err).(*FramingError)
	return ok
}

type Frame struct {
	Flag    byte
	Payload []byte
}

func (f Frame) Compressed() bool { return f.Flag != FrameFlagRaw }

func (f Frame) String() string {
	return fmt.Sprintf("(flag=%02x len=%d)", f.Flag, len(f.Payload))
}

// FrameEncode returns length prefix ++ flag ++ payload.
// Length prefix is 1+len(payload).
func FrameEncode(flag byte, payload []byte) ([]byte, error) {
	flen := 1 + len(payload)
	if flen > MaxFrameLen {
		return nil, errors.Annotatef(ErrFrameLenOverflow, "len=%d max=%d", flen, MaxFrameLen)
	}
	b := make([]byte, FrameLenSize, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(b, uint32(flen))
	b = append(b, flag)
	b = append(b, payload...)
	return b, nil
}

// Decoder reads frames from stream. Not safe for concurrent use.
type Decoder struct {
	r      *bufio.Reader
	max    uint32
	header [FrameLenSize]byte
}

func NewDecoder(r io.Reader, max uint32) *Decoder {
	d := &Decoder{}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d.Attach(br, max)
	return d
}

// Attach sets source stream. max=0 means MaxFrameLen.
func (d *Decoder) Attach(r *bufio.Reader, max uint32) {
	if max == 0 || max > MaxFrameLen {
		max = MaxFrameLen
	}
	d.max = max
	d.r = r
}

// Read blocks until one full frame is read.
func (d *Decoder) Read() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return Frame{}, &FramingError{Op: "header", Err: err}
	}
	frameLen := binary.BigEndian.Uint32(d.header[:])
	if frameLen == 0 {
		return Frame{}, &FramingError{Op: "length", Err: errors.Errorf("frameLen=0 missing flag")}
	}
	if frameLen > d.max {
		return Frame{}, &FramingError{Op: "length", Err: errors.Errorf("frameLen=%d exceeds max=%d", frameLen, d.max)}
	}

	buf := make([]byte, frameLen)
	_, err := io.ReadFull(d.r, buf)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return Frame{}, &FramingError{Op: "body", Err: err}
	}
	return Frame{Flag: buf[0], Payload: buf[1:]}, nil
}
