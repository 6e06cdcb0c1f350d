package chunked

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

// ErrInterrupted is returned by FileSender.SendFile when interrupted mid-send.
var ErrInterrupted = errors.New("chunked: transfer interrupted")

// FileSender drives one outbound file transfer's producer loop (spec.md
// §4.6 "Send"). Each FileSender owns its own interrupt flag: spec.md §9
// calls out the original's single process-wide static flag as a known bug
// that lets one session's interrupt cancel another's transfer. Here the
// flag lives on the instance, so a Manager (below) can interrupt exactly
// the transfer it means to.
type FileSender struct {
	interrupting atomic.Bool
}

func NewFileSender() *FileSender { return &FileSender{} }

// Interrupt requests that the in-flight SendFile call abort at its next
// chunk boundary (within one ChunkSize of data, per spec.md §8 property 3).
func (s *FileSender) Interrupt() { s.interrupting.Store(true) }

// SendFile posts the Start/keepalive+Data*/End sequence for r (exactly
// totalSize bytes long) as dispatcher events targeted at target. It runs
// on the calling goroutine, which should be a dedicated transfer-producer
// goroutine (spec.md §5): the only calls it makes are AddEvent (thread
// safe) and reads of its own atomic flag.
func (s *FileSender) SendFile(d *dispatch.Dispatcher, target dispatch.Target, r io.Reader, totalSize int64) error {
	d.AddEvent(dispatch.Event{
		Type:   EventFileChunkSending,
		Target: target,
		Data:   FileChunkEvent{Mark: wire.ChunkStart, Payload: sizeToASCII(totalSize)},
	})

	buf := make([]byte, ChunkSize)
	var sent int64
	for sent < totalSize {
		if s.interrupting.Load() {
			s.interrupting.Store(false)
			return ErrInterrupted
		}

		d.AddEvent(dispatch.Event{Type: EventKeepalive, Target: target})

		want := buf
		if remaining := totalSize - sent; remaining < int64(len(want)) {
			want = buf[:remaining]
		}
		n, err := io.ReadFull(r, want)
		if s.interrupting.Load() {
			s.interrupting.Store(false)
			return ErrInterrupted
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, want[:n])
			d.AddEvent(dispatch.Event{
				Type:   EventFileChunkSending,
				Target: target,
				Data:   FileChunkEvent{Mark: wire.ChunkData, Payload: chunk},
			})
			sent += int64(n)
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return err
		}
		if n == 0 && err != nil {
			break
		}
	}

	d.AddEvent(dispatch.Event{
		Type:   EventFileChunkSending,
		Target: target,
		Data:   FileChunkEvent{Mark: wire.ChunkEnd},
	})
	return nil
}

// SendClipboard posts the Start/keepalive+Data*/End sequence for a
// clipboard blob under (id, sequence). Unlike file sends, clipboard sends
// are not interruptible — the original StreamChunker::sendClipboard has no
// interrupt check either, since a superseding grab simply produces a new
// (id, sequence) stream the receiver treats as authoritative once it
// arrives (spec.md §3 "a remote snapshot with equal time is unchanged").
func SendClipboard(d *dispatch.Dispatcher, target dispatch.Target, id uint8, seq uint32, data []byte) {
	d.AddEvent(dispatch.Event{
		Type:   EventClipChunkSending,
		Target: target,
		Data:   ClipChunkEvent{ID: id, Seq: seq, Mark: wire.ChunkStart, Payload: sizeToASCII(int64(len(data)))},
	})

	for offset := 0; offset < len(data); {
		d.AddEvent(dispatch.Event{Type: EventKeepalive, Target: target})
		end := offset + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-offset)
		copy(chunk, data[offset:end])
		d.AddEvent(dispatch.Event{
			Type:   EventClipChunkSending,
			Target: target,
			Data:   ClipChunkEvent{ID: id, Seq: seq, Mark: wire.ChunkData, Payload: chunk},
		})
		offset = end
	}
	if len(data) == 0 {
		d.AddEvent(dispatch.Event{Type: EventKeepalive, Target: target})
	}

	d.AddEvent(dispatch.Event{
		Type:   EventClipChunkSending,
		Target: target,
		Data:   ClipChunkEvent{ID: id, Seq: seq, Mark: wire.ChunkEnd},
	})
}
