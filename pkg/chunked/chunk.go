// Package chunked implements the session core's chunked transfer pipeline
// (spec.md §4.6, §3): clipboard blobs and files are split into 32 KiB
// Start/Data/End sub-frames with a keepalive ahead of every data chunk, and
// reassembled by a receive-side assembler. Producers post chunks as
// dispatcher events; the owning session's handler is what actually writes
// a wire frame for each one (spec.md §5: "transfer producer threads... only
// allowed to call dispatcher.add_event").
package chunked

import (
	"strconv"

	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

// ChunkSize is the fixed ceiling on a single Data sub-frame, matching the
// original InputLeap StreamChunker's 32 KiB and spec.md §4.6.
const ChunkSize = 32 * 1024

// Event types posted by a producer and consumed by the owning session.
const (
	EventFileChunkSending dispatch.EventType = "chunked.FileChunkSending"
	EventClipChunkSending dispatch.EventType = "chunked.ClipChunkSending"
	EventKeepalive        dispatch.EventType = "chunked.Keepalive"
	EventTransferComplete dispatch.EventType = "chunked.TransferComplete"
	EventTransferFailed   dispatch.EventType = "chunked.TransferFailed"
)

// FileChunkEvent is the Data payload of an EventFileChunkSending event.
type FileChunkEvent struct {
	Mark    wire.ChunkMark
	Payload []byte
}

// ClipChunkEvent is the Data payload of an EventClipChunkSending event.
type ClipChunkEvent struct {
	ID      uint8
	Seq     uint32
	Mark    wire.ChunkMark
	Payload []byte
}

// sizeToASCII mirrors inputleap::string::sizeTypeToString: the Start
// sub-frame's payload is the decimal ASCII rendering of the total size, not
// a fixed-width integer, so it round-trips through the `string` wire field
// type like any other payload.
func sizeToASCII(n int64) []byte { return []byte(strconv.FormatInt(n, 10)) }

func asciiToSize(b []byte) (int64, error) { return strconv.ParseInt(string(b), 10, 64) }
