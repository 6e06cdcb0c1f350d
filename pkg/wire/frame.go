// Package wire implements the session protocol's length-prefixed frame
// codec and message catalog: a u32 big-endian length, a 4-byte ASCII
// message code, and code-specific fields.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Code is a 4-byte ASCII message code, e.g. "CNOP" or "DKDN".
type Code string

// MaxFrameSize bounds a single frame's payload to guard against a peer
// claiming an absurd length and exhausting memory before we've even
// validated the code.
const MaxFrameSize = 4 << 20 // 4 MiB; well above a 32 KiB chunk plus headers

var (
	// ErrMalformed is returned when a frame's payload has unparsed
	// trailing bytes after its fields are decoded.
	ErrMalformed = errors.New("wire: malformed frame")
	// ErrShortRead is returned when fewer bytes than the declared length
	// could be read; the caller should treat the stream as closed.
	ErrShortRead = errors.New("wire: short read")
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrBadCode is returned when a frame's payload is too short to hold
	// a 4-byte message code.
	ErrBadCode = errors.New("wire: payload shorter than message code")
)

// Frame is a decoded, not-yet-parsed message: a code and its raw payload
// (the bytes following the code).
type Frame struct {
	Code    Code
	Payload []byte
}

// ReadFrame pulls exactly one length-prefixed frame off r. A read that
// returns 0 bytes with io.EOF before any length bytes are read is reported
// as io.EOF so callers can distinguish "peer closed cleanly" from a
// mid-frame disconnect, which is reported as ErrShortRead.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	if length < 4 {
		return Frame{}, ErrBadCode
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	return Frame{Code: Code(body[:4]), Payload: body[4:]}, nil
}

// WriteFrame composes the payload in memory (code followed by the
// caller-encoded fields) and issues a single Write to w.
func WriteFrame(w io.Writer, code Code, fields []byte) error {
	if len(code) != 4 {
		return fmt.Errorf("wire: code %q is not 4 bytes", code)
	}
	buf := make([]byte, 4+4+len(fields))
	binary.BigEndian.PutUint32(buf[0:4], uint32(4+len(fields)))
	copy(buf[4:8], code)
	copy(buf[8:], fields)

	_, err := w.Write(buf)
	return err
}
