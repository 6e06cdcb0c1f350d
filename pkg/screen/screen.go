// Package screen implements the LocalScreen capability (spec.md §6): the
// operations a client session performs against the machine it runs on —
// key/mouse injection, geometry, and clipboard access. Key and mouse
// injection and screen geometry require a platform-specific OS event
// buffer spec.md §1 places out of scope ("Platform input/output... addressed
// via a LocalScreen capability"); this package implements that capability
// with real OS clipboard access via the teacher's clipboard dependency and
// logs (rather than injects) everything else, the way the teacher logs
// unimplemented platform hooks rather than silently no-opping them.
package screen

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/atotto/clipboard"
	clip "github.com/deskbridge/deskbridge/pkg/clipboard"
)

// Point is a screen coordinate.
type Point struct{ X, Y int32 }

// Rect is a screen's pixel bounds, origin at the top-left.
type Rect struct{ X, Y, Width, Height int32 }

// KeyModifierMask is the bitmask spec.md §6's key/mouse calls carry.
type KeyModifierMask uint16

// LocalScreen is the capability a client session drives (spec.md §6). All
// methods are called from the dispatcher goroutine only.
type LocalScreen interface {
	Enter(mask KeyModifierMask)
	Leave()
	Enable()
	Disable()
	KeyDown(id uint16, mask KeyModifierMask, button uint16)
	KeyUp(id uint16, mask KeyModifierMask, button uint16)
	KeyRepeat(id uint16, mask KeyModifierMask, count uint16, button uint16)
	MouseDown(button uint8)
	MouseUp(button uint8)
	MouseMove(x, y int32)
	MouseRelativeMove(dx, dy int32)
	MouseWheel(dx, dy int32)

	GetClipboard(id clip.ID) (clip.Snapshot, error)
	SetClipboard(id clip.ID, snap clip.Snapshot) error
	GrabClipboard(id clip.ID) error

	GetShape() Rect
	GetCursorPos() Point
	ResetOptions()
	SetOptions(opts map[string]int32)
	Screensaver(enabled bool)
}

// Local is a LocalScreen backed by this machine: real OS clipboard access
// through atotto/clipboard, and logged stand-ins for the key/mouse/geometry
// operations that would otherwise require a platform event buffer.
type Local struct {
	mu    sync.Mutex
	shape Rect
	clock func() uint32 // injected for deterministic Snapshot.Time in tests
}

// NewLocal returns a Local LocalScreen reporting the given screen shape.
func NewLocal(shape Rect) *Local {
	return &Local{shape: shape, clock: defaultClock}
}

var globalTime uint32

func defaultClock() uint32 {
	globalTime++
	return globalTime
}

func (l *Local) Enter(mask KeyModifierMask) {
	slog.Debug("screen: enter", "mask", mask)
}

func (l *Local) Leave() {
	slog.Debug("screen: leave")
}

func (l *Local) Enable()  { slog.Debug("screen: enable") }
func (l *Local) Disable() { slog.Debug("screen: disable") }

func (l *Local) KeyDown(id uint16, mask KeyModifierMask, button uint16) {
	slog.Debug("screen: key down", "id", id, "mask", mask, "button", button)
}

func (l *Local) KeyUp(id uint16, mask KeyModifierMask, button uint16) {
	slog.Debug("screen: key up", "id", id, "mask", mask, "button", button)
}

func (l *Local) KeyRepeat(id uint16, mask KeyModifierMask, count uint16, button uint16) {
	slog.Debug("screen: key repeat", "id", id, "mask", mask, "count", count, "button", button)
}

func (l *Local) MouseDown(button uint8) {
	slog.Debug("screen: mouse down", "button", button)
}

func (l *Local) MouseUp(button uint8) {
	slog.Debug("screen: mouse up", "button", button)
}

func (l *Local) MouseMove(x, y int32) {
	slog.Debug("screen: mouse move", "x", x, "y", y)
}

func (l *Local) MouseRelativeMove(dx, dy int32) {
	slog.Debug("screen: mouse relative move", "dx", dx, "dy", dy)
}

func (l *Local) MouseWheel(dx, dy int32) {
	slog.Debug("screen: mouse wheel", "dx", dx, "dy", dy)
}

// GetClipboard reads the OS clipboard for clip.Clipboard; clip.Selection
// has no OS-level analog on most platforms atotto/clipboard targets, so for
// it GetClipboard returns a snapshot with no formats. Selection contents are
// not stored: SetClipboard and GrabClipboard ignore them.
func (l *Local) GetClipboard(id clip.ID) (clip.Snapshot, error) {
	if id != clip.Clipboard {
		return clip.Snapshot{ID: id, Time: l.clock()}, nil
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return clip.Snapshot{}, fmt.Errorf("screen: read OS clipboard: %w", err)
	}
	return clip.Snapshot{
		ID:   id,
		Time: l.clock(),
		Formats: map[clip.FormatID][]byte{
			clip.FormatText: []byte(text),
		},
	}, nil
}

// SetClipboard writes snap's text representation, if any, to the OS
// clipboard when id is clip.Clipboard.
func (l *Local) SetClipboard(id clip.ID, snap clip.Snapshot) error {
	if id != clip.Clipboard {
		return nil
	}
	text, ok := snap.Formats[clip.FormatText]
	if !ok {
		return nil
	}
	if err := clipboard.WriteAll(string(text)); err != nil {
		return fmt.Errorf("screen: write OS clipboard: %w", err)
	}
	return nil
}

// GrabClipboard is a no-op for Local: grabbing is a session-level ownership
// concept (pkg/clipboard.Ownership), not something the OS clipboard itself
// tracks.
func (l *Local) GrabClipboard(id clip.ID) error { return nil }

func (l *Local) GetShape() Rect {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shape
}

func (l *Local) GetCursorPos() Point {
	slog.Debug("screen: get cursor pos (unsupported, reporting origin)")
	return Point{}
}

func (l *Local) ResetOptions() {
	slog.Debug("screen: reset options")
}

func (l *Local) SetOptions(opts map[string]int32) {
	slog.Debug("screen: set options", "count", len(opts))
}

func (l *Local) Screensaver(enabled bool) {
	slog.Debug("screen: screensaver", "enabled", enabled)
}
