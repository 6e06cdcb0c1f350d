package chunked

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/integrity"
	"github.com/deskbridge/deskbridge/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectFileEvents drains FileChunkEvents posted to target off d by
// registering a handler, and also counts keepalives.
func collectFileEvents(t *testing.T, d *dispatch.Dispatcher, target dispatch.Target) (events *[]FileChunkEvent, keepalives *int, mu *sync.Mutex) {
	t.Helper()
	var evs []FileChunkEvent
	var ka int
	var m sync.Mutex

	d.AddHandler(EventFileChunkSending, target, func(e dispatch.Event) {
		m.Lock()
		evs = append(evs, e.Data.(FileChunkEvent))
		m.Unlock()
	})
	d.AddHandler(EventKeepalive, target, func(dispatch.Event) {
		m.Lock()
		ka++
		m.Unlock()
	})
	return &evs, &ka, &m
}

func TestChunkRoundTripArbitraryBytes(t *testing.T) {
	d := dispatch.New()
	go d.Run()
	defer d.Stop()

	target := dispatch.NewTarget()
	evs, _, mu := collectFileEvents(t, d, target)

	data := bytes.Repeat([]byte("abcdefgh"), 10000) // 80000 bytes, not a multiple of ChunkSize
	done := make(chan error, 1)
	s := NewFileSender()
	go func() { done <- s.SendFile(d, target, bytes.NewReader(data), int64(len(data))) }()
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*evs) > 0 && (*evs)[len(*evs)-1].Mark == wire.ChunkEnd
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, len(*evs) >= 2)
	assert.Equal(t, wire.ChunkStart, (*evs)[0].Mark)
	assert.Equal(t, "80000", string((*evs)[0].Payload))
	assert.Equal(t, wire.ChunkEnd, (*evs)[len(*evs)-1].Mark)

	asm := NewAssembler()
	var reassembled []byte
	for _, e := range *evs {
		done, result, err := asm.Feed(e.Mark, e.Payload)
		require.NoError(t, err)
		if done {
			reassembled = result
		}
	}
	assert.Equal(t, data, reassembled)
}

func TestFileTransfer100KiBChunkSizes(t *testing.T) {
	d := dispatch.New()
	go d.Run()
	defer d.Stop()

	target := dispatch.NewTarget()
	evs, _, mu := collectFileEvents(t, d, target)

	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i)
	}

	s := NewFileSender()
	require.NoError(t, s.SendFile(d, target, bytes.NewReader(data), int64(len(data))))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*evs) > 0 && (*evs)[len(*evs)-1].Mark == wire.ChunkEnd
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var dataSizes []int
	for _, e := range *evs {
		if e.Mark == wire.ChunkData {
			dataSizes = append(dataSizes, len(e.Payload))
		}
	}
	// spec.md §8 scenario 4: 32768, 32768, 32768, 1696
	require.Equal(t, []int{32768, 32768, 32768, 1696}, dataSizes)
	assert.Equal(t, wire.ChunkStart, (*evs)[0].Mark)
	assert.Equal(t, "100000", string((*evs)[0].Payload))
}

func TestSecondSendInterruptsFirst(t *testing.T) {
	d := dispatch.New()
	go d.Run()
	defer d.Stop()

	target := dispatch.NewTarget()
	evs, _, mu := collectFileEvents(t, d, target)

	mgr := NewManager()
	first := make(chan error, 1)
	data1 := bytes.Repeat([]byte{1}, 5*ChunkSize)
	mgr.SendFile(d, target, &slowReader{data: data1}, int64(len(data1)), func(err error) { first <- err })

	// give the first send a chance to post its Start and first Data chunk
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*evs) >= 2
	}, 2*time.Second, time.Millisecond)

	data2 := []byte("second file contents")
	second := make(chan error, 1)
	mgr.SendFile(d, target, bytes.NewReader(data2), int64(len(data2)), func(err error) { second <- err })

	firstErr := <-first
	assert.ErrorIs(t, firstErr, ErrInterrupted)

	secondErr := <-second
	assert.NoError(t, secondErr)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(*evs) == 0 {
			return false
		}
		return (*evs)[len(*evs)-1].Mark == wire.ChunkEnd
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// There must be no End frame belonging to the interrupted first
	// transfer: the only End in the stream reflects data2's tiny size.
	var ends int
	for _, e := range *evs {
		if e.Mark == wire.ChunkEnd {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestSendSignedFileProducesVerifiableManifest(t *testing.T) {
	d := dispatch.New()
	go d.Run()
	defer d.Stop()

	target := dispatch.NewTarget()
	evs, _, mu := collectFileEvents(t, d, target)

	signer, err := integrity.NewSigner()
	require.NoError(t, err)

	mgr := NewManager()
	data := []byte("signed payload contents")
	result := make(chan *integrity.SignedManifest, 1)
	mgr.SendSignedFile(d, target, "payload.bin", bytes.NewReader(data), int64(len(data)), signer, func(sm *integrity.SignedManifest, err error) {
		require.NoError(t, err)
		result <- sm
	})

	var sm *integrity.SignedManifest
	select {
	case sm = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("signed manifest never produced")
	}

	assert.Equal(t, "payload.bin", sm.Manifest.Name)
	assert.EqualValues(t, len(data), sm.Manifest.Size)
	assert.NoError(t, integrity.Verify(sm))

	// done runs on the producer goroutine once the last chunk is posted;
	// the dispatcher delivers those chunk events asynchronously.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*evs) > 0 && (*evs)[len(*evs)-1].Mark == wire.ChunkEnd
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, *evs)
	assert.Equal(t, wire.ChunkEnd, (*evs)[len(*evs)-1].Mark)
}

// slowReader hands back one ChunkSize-sized read per call so the test can
// observe the producer mid-transfer before it completes.
type slowReader struct {
	data []byte
	off  int
	mu   sync.Mutex
}

func (r *slowReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.off >= len(r.data) {
		return 0, nil
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	time.Sleep(5 * time.Millisecond) // slow enough for the test to interleave
	return n, nil
}

func TestAssemblerRejectsDataWithoutStart(t *testing.T) {
	asm := NewAssembler()
	_, _, err := asm.Feed(wire.ChunkData, []byte("x"))
	assert.ErrorIs(t, err, ErrNoActiveTransfer)
}

func TestAssemblerRejectsOverflow(t *testing.T) {
	asm := NewAssembler()
	_, _, err := asm.Feed(wire.ChunkStart, []byte("3"))
	require.NoError(t, err)
	_, _, err = asm.Feed(wire.ChunkData, []byte("abcd"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAssemblerRejectsSizeMismatchAtEnd(t *testing.T) {
	asm := NewAssembler()
	_, _, err := asm.Feed(wire.ChunkStart, []byte("10"))
	require.NoError(t, err)
	_, _, err = asm.Feed(wire.ChunkData, []byte("abc"))
	require.NoError(t, err)
	_, _, err = asm.Feed(wire.ChunkEnd, nil)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestClipboardSendRoundTrip(t *testing.T) {
	d := dispatch.New()
	go d.Run()
	defer d.Stop()
	target := dispatch.NewTarget()

	var evs []ClipChunkEvent
	var mu sync.Mutex
	d.AddHandler(EventClipChunkSending, target, func(e dispatch.Event) {
		mu.Lock()
		evs = append(evs, e.Data.(ClipChunkEvent))
		mu.Unlock()
	})

	data := bytes.Repeat([]byte("clip"), 20000) // 80000 bytes
	SendClipboard(d, target, 0, 7, data)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evs) > 0 && evs[len(evs)-1].Mark == wire.ChunkEnd
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	asm := NewAssembler()
	var reassembled []byte
	for _, e := range evs {
		assert.Equal(t, uint8(0), e.ID)
		assert.Equal(t, uint32(7), e.Seq)
		done, result, err := asm.Feed(e.Mark, e.Payload)
		require.NoError(t, err)
		if done {
			reassembled = result
		}
	}
	assert.Equal(t, data, reassembled)
}
