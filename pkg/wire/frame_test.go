package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fields := NewFieldWriter().I16(12).U32(34).String("laptop").Bytes()

	require.NoError(t, WriteFrame(&buf, CodeEnter, fields))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, CodeEnter, frame.Code)
	assert.Equal(t, fields, frame.Payload)
}

func TestReadFrameShortReadMidFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, CodeNop, nil))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadFrameCleanEOFBeforeAnyBytes(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF // absurd length
	_, err := ReadFrame(bytes.NewReader(lenBuf[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFieldReaderMalformedOnTrailingBytes(t *testing.T) {
	payload := NewFieldWriter().I16(1).I16(2).Bytes()
	r := NewFieldReader(payload)
	_ = r.I16() // only consume one of the two fields
	err := r.Done()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMessageRoundTrips(t *testing.T) {
	enter := EnterScreen{X: -5, Y: 10, Seq: 42, Mask: 3}
	decodedEnter, err := DecodeEnterScreen(enter.Encode())
	require.NoError(t, err)
	assert.Equal(t, enter, decodedEnter)

	grab := ClipboardGrabbed{ID: 1, Seq: 99}
	decodedGrab, err := DecodeClipboardGrabbed(grab.Encode())
	require.NoError(t, err)
	assert.Equal(t, grab, decodedGrab)

	key := KeyEvent{Key: 65, Mask: 0, Button: 1}
	decodedKey, err := DecodeKeyEvent(key.Encode())
	require.NoError(t, err)
	assert.Equal(t, key, decodedKey)

	rep := KeyRepeat{Key: 65, Mask: 0, Count: 3, Button: 1}
	decodedRep, err := DecodeKeyRepeat(rep.Encode())
	require.NoError(t, err)
	assert.Equal(t, rep, decodedRep)

	move := MouseMove{X: 100, Y: 200}
	decodedMove, err := DecodeMouseMove(move.Encode())
	require.NoError(t, err)
	assert.Equal(t, move, decodedMove)

	rel := MouseRelMove{DX: -3, DY: 7}
	decodedRel, err := DecodeMouseRelMove(rel.Encode())
	require.NoError(t, err)
	assert.Equal(t, rel, decodedRel)

	wheel := MouseWheel{XDelta: 0, YDelta: -120}
	decodedWheel, err := DecodeMouseWheel(wheel.Encode())
	require.NoError(t, err)
	assert.Equal(t, wheel, decodedWheel)

	chunk := ClipChunk{ID: 0, Seq: 1, Mark: ChunkData, Payload: "hello"}
	decodedChunk, err := DecodeClipChunk(chunk.Encode())
	require.NoError(t, err)
	assert.Equal(t, chunk, decodedChunk)

	fchunk := FileChunk{Mark: ChunkStart, Payload: "100000"}
	decodedFChunk, err := DecodeFileChunk(fchunk.Encode())
	require.NoError(t, err)
	assert.Equal(t, fchunk, decodedFChunk)

	info := ScreenInfo{X: 0, Y: 0, W: 1920, H: 1080, MX: 960, MY: 540}
	decodedInfo, err := DecodeScreenInfo(info.Encode())
	require.NoError(t, err)
	assert.Equal(t, info, decodedInfo)

	drag := DragInfo{FileNum: 2, Info: `[{"name":"a.txt"}]`}
	decodedDrag, err := DecodeDragInfo(drag.Encode())
	require.NoError(t, err)
	assert.Equal(t, drag, decodedDrag)

	incompat := Incompatible{Major: 1, Minor: 6}
	decodedIncompat, err := DecodeIncompatible(incompat.Encode())
	require.NoError(t, err)
	assert.Equal(t, incompat, decodedIncompat)
}

func TestVersionLess(t *testing.T) {
	assert.True(t, Version{Major: 1, Minor: 3}.Less(Version{Major: 1, Minor: 4}))
	assert.True(t, Version{Major: 1, Minor: 6}.Less(Version{Major: 2, Minor: 0}))
	assert.False(t, Version{Major: 1, Minor: 6}.Less(Version{Major: 1, Minor: 4}))
}
