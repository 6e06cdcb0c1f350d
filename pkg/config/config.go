// Package config centralizes the session knobs spec.md leaves as named
// constants scattered across its component descriptions (handshake and
// connect timeouts, the chunk-size ceiling, keepalive-miss threshold,
// minimum protocol version), grounded on the teacher's TransferConfig
// struct-plus-Validate pattern.
package config

import (
	"errors"
	"time"

	"github.com/deskbridge/deskbridge/internal/util"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

// Session holds the timing and protocol knobs a client or server session
// uses. Zero-value Session is invalid; use Default and apply Options.
type Session struct {
	// ConnectTimeout bounds a client's Connecting/AwaitingHello wait
	// (spec.md §4.4: "connect_timeout = 15s").
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds a server's UnknownProxy handshake wait
	// (spec.md §4.5: "A 30s handshake timer guards this").
	HandshakeTimeout time.Duration

	// ChunkSize is the per-chunk payload ceiling for file and clipboard
	// transfers (spec.md §3, §4.6: "32 KiB ceiling").
	ChunkSize int

	// KeepaliveMissThreshold is the number of consecutive missed CALV
	// keepalives before a server times out a 1.5+ client (spec.md §4.5:
	// "emit timeout after N (e.g. 3) consecutive misses").
	KeepaliveMissThreshold int

	// MinVersion is the lowest protocol version this side accepts from
	// its peer (spec.md §3: "client refuses if server is older than the
	// client's compiled-in minimum").
	MinVersion wire.Version

	// ReceiveDir is where assembled incoming files are written. Empty
	// means file transfers are received into memory only.
	ReceiveDir string
}

// Default returns a Session configured to spec.md's literal defaults.
func Default() Session {
	return Session{
		ConnectTimeout:         15 * time.Second,
		HandshakeTimeout:       30 * time.Second,
		ChunkSize:              32 * 1024,
		KeepaliveMissThreshold: 3,
		MinVersion:             wire.Version{Major: 1, Minor: 4},
	}
}

// Option mutates a Session under construction.
type Option func(*Session)

// WithConnectTimeout overrides the client-side connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.ConnectTimeout = d }
}

// WithHandshakeTimeout overrides the server-side handshake timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.HandshakeTimeout = d }
}

// WithChunkSize overrides the chunked-transfer payload ceiling.
func WithChunkSize(n int) Option {
	return func(s *Session) { s.ChunkSize = n }
}

// WithKeepaliveMissThreshold overrides the keepalive-miss timeout count.
func WithKeepaliveMissThreshold(n int) Option {
	return func(s *Session) { s.KeepaliveMissThreshold = n }
}

// WithMinVersion overrides the minimum accepted protocol version.
func WithMinVersion(v wire.Version) Option {
	return func(s *Session) { s.MinVersion = v }
}

// WithReceiveDir sets the directory incoming files are written into.
func WithReceiveDir(dir string) Option {
	return func(s *Session) { s.ReceiveDir = dir }
}

// New returns a Default Session with opts applied.
func New(opts ...Option) Session {
	s := Default()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Validate checks that s's values are usable, the way the teacher's
// TransferConfig.Validate guards against zero/negative knobs silently
// breaking the transfer it drives.
func (s Session) Validate() error {
	if s.ConnectTimeout <= 0 {
		return errors.New("config: connect_timeout must be positive")
	}
	if s.HandshakeTimeout <= 0 {
		return errors.New("config: handshake_timeout must be positive")
	}
	if s.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if s.ChunkSize > 32*1024 {
		return errors.New("config: chunk_size cannot exceed the 32 KiB ceiling")
	}
	if s.KeepaliveMissThreshold <= 0 {
		return errors.New("config: keepalive_miss_threshold must be positive")
	}
	if s.ReceiveDir != "" {
		exists, isDir, err := util.CheckDirectory(s.ReceiveDir)
		if err != nil {
			return errors.New("config: receive_dir: " + err.Error())
		}
		if !exists {
			return errors.New("config: receive_dir does not exist: " + s.ReceiveDir)
		}
		if !isDir {
			return errors.New("config: receive_dir is not a directory: " + s.ReceiveDir)
		}
	}
	return nil
}
