// Package clipboard models a session's clipboard state: the per-format
// snapshot carried in DCLP data (spec.md §3 "Clipboard") and the
// ownership bookkeeping spec.md §3 invariant 4 requires ("owns[id] is true
// for at most one session").
package clipboard

// ID identifies one of the two clipboard buffers spec.md §6 defines.
type ID uint8

const (
	Clipboard ID = iota // the general "clipboard" buffer
	Selection           // the X11-style "selection" buffer
	End                 // sentinel: number of clipboard buffers
)

// FormatID identifies one data representation within a Snapshot, mirroring
// spec.md §3's `formats: map<FormatId, bytes>`.
type FormatID uint32

const (
	FormatText FormatID = iota
	FormatBitmap
	FormatHTML
)

// Snapshot is one clipboard's contents at a point in time (spec.md §3).
// Time is the session-local sequence counter exchanged in CCLP/DCLP: per
// spec.md §3, a remote snapshot with an equal or lower time than the one
// already held is unchanged and must be ignored.
type Snapshot struct {
	ID      ID
	Time    uint32
	Formats map[FormatID][]byte
}

// NewerThan reports whether s should replace cur as the session's held
// snapshot for its ID (spec.md §3's freshness rule).
func (s Snapshot) NewerThan(cur Snapshot) bool {
	return s.Time > cur.Time
}

// Ownership tracks, per clipboard ID, whether the local session currently
// owns (is the authoritative source for) that clipboard (spec.md §3
// invariant 4). It is not safe for concurrent use without external
// synchronization, matching the single-threaded-dispatcher discipline the
// rest of this module follows.
type Ownership struct {
	owns [End]bool
}

// NewOwnership returns an Ownership with nothing owned.
func NewOwnership() *Ownership { return &Ownership{} }

// Grab claims local ownership of id, e.g. because the local OS clipboard
// changed. The caller is responsible for then broadcasting a
// ClipboardGrabbed message to the peer (spec.md §6).
func (o *Ownership) Grab(id ID) { o.owns[id] = true }

// ReceiveGrab records that the peer has claimed ownership of id, which
// revokes any local ownership the session previously held for it —
// spec.md §3 invariant 4 requires ownership be exclusive.
func (o *Ownership) ReceiveGrab(id ID) { o.owns[id] = false }

// Owns reports whether the local session currently owns id.
func (o *Ownership) Owns(id ID) bool { return o.owns[id] }
