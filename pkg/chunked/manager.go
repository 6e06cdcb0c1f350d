package chunked

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/integrity"
)

// Manager enforces spec.md §3's invariant that at most one outbound file
// transfer is active per session: starting a new send interrupts whatever
// send is already in flight (spec.md §4.6, §8 property 3), then starts the
// new one on its own producer goroutine (spec.md §5).
type Manager struct {
	mu      sync.Mutex
	current *FileSender
}

// NewManager returns a Manager with no transfer in flight.
func NewManager() *Manager { return &Manager{} }

// SendFile interrupts any in-flight send owned by this Manager and starts
// sending r (totalSize bytes) as a new transfer. done, if non-nil, is
// called on completion (nil error) or failure from the producer goroutine;
// it must not block.
func (m *Manager) SendFile(d *dispatch.Dispatcher, target dispatch.Target, r io.Reader, totalSize int64, done func(error)) *FileSender {
	m.mu.Lock()
	prev := m.current
	next := NewFileSender()
	m.current = next
	m.mu.Unlock()

	if prev != nil {
		prev.Interrupt()
	}

	go func() {
		err := next.SendFile(d, target, r, totalSize)

		m.mu.Lock()
		if m.current == next {
			m.current = nil
		}
		m.mu.Unlock()

		if done != nil {
			done(err)
		}
	}()

	return next
}

// SendSignedFile behaves like SendFile, but additionally signs a manifest
// over name, totalSize and the SHA-256 digest of everything actually sent
// (SPEC_FULL.md's supplemental integrity signing), passing the result to
// done alongside the send's outcome. The digest covers exactly the bytes
// r yielded, so a send interrupted partway through never produces a
// manifest claiming more than was sent.
func (m *Manager) SendSignedFile(d *dispatch.Dispatcher, target dispatch.Target, name string, r io.Reader, totalSize int64, signer *integrity.Signer, done func(*integrity.SignedManifest, error)) *FileSender {
	digest := sha256.New()
	hashed := io.TeeReader(r, digest)

	return m.SendFile(d, target, hashed, totalSize, func(err error) {
		if done == nil {
			return
		}
		if err != nil {
			done(nil, err)
			return
		}
		sm, signErr := signer.Sign(integrity.Manifest{
			Name:     name,
			Size:     totalSize,
			Checksum: hex.EncodeToString(digest.Sum(nil)),
		})
		done(sm, signErr)
	})
}

// Interrupt aborts whatever transfer is currently in flight, if any.
func (m *Manager) Interrupt() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.Interrupt()
	}
}

// Active reports whether a transfer is currently in flight.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
