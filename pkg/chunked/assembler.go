package chunked

import (
	"errors"
	"fmt"

	"github.com/deskbridge/deskbridge/pkg/wire"
)

// ErrNoActiveTransfer is returned when a Data or End sub-frame arrives
// without a preceding Start.
var ErrNoActiveTransfer = errors.New("chunked: data or end received with no active transfer")

// ErrOverflow is returned when more bytes arrive than Start declared.
var ErrOverflow = errors.New("chunked: received more bytes than declared")

// ErrSizeMismatch is returned when End arrives but the assembled buffer's
// size does not match what Start declared (spec.md §3, §7).
var ErrSizeMismatch = errors.New("chunked: size mismatch at end of transfer")

// Assembler reassembles one Start/Data*/End stream into a byte slice
// (spec.md §3 "Chunked transfer"). It holds no session identity; the
// caller is responsible for routing chunks from the right peer/id into the
// right Assembler instance (one per in-flight transfer).
type Assembler struct {
	active   bool
	expected int64
	buf      []byte
}

// NewAssembler returns an assembler with no transfer in progress.
func NewAssembler() *Assembler { return &Assembler{} }

// Feed applies one chunk sub-frame's mark/payload to the assembler. done is
// true, with the assembled bytes in result, only when End arrives and the
// received size equals what Start declared; a nil err with done false means
// the transfer continues, and a non-nil err means the sub-frame was rejected.
func (a *Assembler) Feed(mark wire.ChunkMark, payload []byte) (done bool, result []byte, err error) {
	switch mark {
	case wire.ChunkStart:
		size, perr := asciiToSize(payload)
		if perr != nil {
			return false, nil, fmt.Errorf("chunked: malformed start size %q: %w", payload, perr)
		}
		a.active = true
		a.expected = size
		a.buf = make([]byte, 0, min64(size, 1<<20))
		return false, nil, nil

	case wire.ChunkData:
		if !a.active {
			return false, nil, ErrNoActiveTransfer
		}
		a.buf = append(a.buf, payload...)
		if int64(len(a.buf)) > a.expected {
			a.reset()
			return false, nil, ErrOverflow
		}
		return false, nil, nil

	case wire.ChunkEnd:
		if !a.active {
			return false, nil, ErrNoActiveTransfer
		}
		got := a.buf
		gotSize := int64(len(got))
		expected := a.expected
		a.reset()
		if gotSize != expected {
			return false, nil, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, expected, gotSize)
		}
		return true, got, nil

	default:
		return false, nil, fmt.Errorf("chunked: unknown chunk mark 0x%02x", mark)
	}
}

// Reset discards any partial transfer in progress, e.g. because the
// sender's stream was interrupted (spec.md §4.6 "Interruption").
func (a *Assembler) Reset() { a.reset() }

func (a *Assembler) reset() {
	a.active = false
	a.expected = 0
	a.buf = nil
}

// Active reports whether a Start has been received without a matching End.
func (a *Assembler) Active() bool { return a.active }

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
