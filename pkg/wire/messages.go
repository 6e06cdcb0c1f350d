package wire

// Message codes, spec.md §4.1 and §6. Codes not listed in §6's payload
// table (CNOP, CIAK, CROP, CSYN, CRST) carry no fields.
const (
	CodeNop          Code = "CNOP" // keepalive no-op
	CodeKeepAlive    Code = "CALV" // 1.5+ file-transfer keepalive
	CodeInfoAck      Code = "CIAK" // query-info ack
	CodeResetOptions Code = "CROP"
	CodeEnter        Code = "CINN"
	CodeLeave        Code = "COUT"
	CodeClipboard    Code = "CCLP"
	CodeScreensaver  Code = "CSEC"
	CodeSync         Code = "CSYN"
	CodeReset        Code = "CRST"

	CodeKeyDown    Code = "DKDN"
	CodeKeyRepeat  Code = "DKRP"
	CodeKeyUp      Code = "DKUP"
	CodeMouseDown  Code = "DMDN"
	CodeMouseUp    Code = "DMUP"
	CodeMouseMove  Code = "DMMV"
	CodeMouseRel   Code = "DMRM"
	CodeMouseWheel Code = "DMWM"
	CodeClipChunk  Code = "DCLP"
	CodeScreenInfo Code = "DINF"
	CodeDragInfo   Code = "DDRG"
	CodeFileChunk  Code = "DFTR"

	CodeQueryInfo Code = "QINF"

	CodeIncompatible Code = "EICV"
	CodeBusy         Code = "EBSY"
	CodeUnknown      Code = "EUNK"
	CodeBad          Code = "EBAD"
)

// HelloMagic prefixes the one frame that is not length-prefixed like the
// others: the handshake's Hello/HelloBack exchange (spec.md §6).
const HelloMagic = "Barrier\x00\x00\x00\x00"

// ChunkMark tags a chunk sub-frame within a DCLP or DFTR stream.
type ChunkMark uint8

const (
	ChunkStart ChunkMark = 0x01
	ChunkData  ChunkMark = 0x02
	ChunkEnd   ChunkMark = 0x03
)

// Version is the (major, minor) protocol version pair exchanged in the
// handshake.
type Version struct {
	Major int16
	Minor int16
}

// Less reports whether v is an earlier protocol version than other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

func (v Version) String() string {
	return itoa(int(v.Major)) + "." + itoa(int(v.Minor))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [12]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Hello is the server's first handshake message: magic + version.
type Hello struct {
	Version Version
}

func EncodeHello(h Hello) []byte {
	w := NewFieldWriter()
	w.I16(h.Version.Major).I16(h.Version.Minor)
	return append([]byte(HelloMagic), w.Bytes()...)
}

// HelloBack is the client's handshake reply: magic + version + name.
type HelloBack struct {
	Version Version
	Name    string
}

func EncodeHelloBack(h HelloBack) []byte {
	w := NewFieldWriter()
	w.I16(h.Version.Major).I16(h.Version.Minor).String(h.Name)
	return append([]byte(HelloMagic), w.Bytes()...)
}

// EnterScreen is CINN: i16 x, i16 y, u32 seq, i16 mask.
type EnterScreen struct {
	X, Y int16
	Seq  uint32
	Mask int16
}

func (m EnterScreen) Encode() []byte {
	return NewFieldWriter().I16(m.X).I16(m.Y).U32(m.Seq).I16(m.Mask).Bytes()
}

func DecodeEnterScreen(p []byte) (EnterScreen, error) {
	r := NewFieldReader(p)
	m := EnterScreen{X: r.I16(), Y: r.I16(), Seq: r.U32(), Mask: r.I16()}
	return m, r.Done()
}

// ClipboardGrabbed is CCLP: u8 id, u32 seq.
type ClipboardGrabbed struct {
	ID  uint8
	Seq uint32
}

func (m ClipboardGrabbed) Encode() []byte {
	return NewFieldWriter().U8(m.ID).U32(m.Seq).Bytes()
}

func DecodeClipboardGrabbed(p []byte) (ClipboardGrabbed, error) {
	r := NewFieldReader(p)
	m := ClipboardGrabbed{ID: r.U8(), Seq: r.U32()}
	return m, r.Done()
}

// Screensaver is CSEC: i8 on.
type Screensaver struct{ On int8 }

func (m Screensaver) Encode() []byte { return NewFieldWriter().I8(m.On).Bytes() }

func DecodeScreensaver(p []byte) (Screensaver, error) {
	r := NewFieldReader(p)
	m := Screensaver{On: r.I8()}
	return m, r.Done()
}

// KeyEvent covers DKDN/DKUP: u16 key, u16 mask, u16 button.
type KeyEvent struct {
	Key, Mask, Button uint16
}

func (m KeyEvent) Encode() []byte {
	return NewFieldWriter().U16(m.Key).U16(m.Mask).U16(m.Button).Bytes()
}

func DecodeKeyEvent(p []byte) (KeyEvent, error) {
	r := NewFieldReader(p)
	m := KeyEvent{Key: r.U16(), Mask: r.U16(), Button: r.U16()}
	return m, r.Done()
}

// KeyRepeat is DKRP: u16 key, u16 mask, u16 count, u16 button.
type KeyRepeat struct {
	Key, Mask, Count, Button uint16
}

func (m KeyRepeat) Encode() []byte {
	return NewFieldWriter().U16(m.Key).U16(m.Mask).U16(m.Count).U16(m.Button).Bytes()
}

func DecodeKeyRepeat(p []byte) (KeyRepeat, error) {
	r := NewFieldReader(p)
	m := KeyRepeat{Key: r.U16(), Mask: r.U16(), Count: r.U16(), Button: r.U16()}
	return m, r.Done()
}

// MouseButton covers DMDN/DMUP: i8 button.
type MouseButton struct{ Button int8 }

func (m MouseButton) Encode() []byte { return NewFieldWriter().I8(m.Button).Bytes() }

func DecodeMouseButton(p []byte) (MouseButton, error) {
	r := NewFieldReader(p)
	m := MouseButton{Button: r.I8()}
	return m, r.Done()
}

// MouseMove is DMMV: i16 x, i16 y (absolute).
type MouseMove struct{ X, Y int16 }

func (m MouseMove) Encode() []byte { return NewFieldWriter().I16(m.X).I16(m.Y).Bytes() }

func DecodeMouseMove(p []byte) (MouseMove, error) {
	r := NewFieldReader(p)
	m := MouseMove{X: r.I16(), Y: r.I16()}
	return m, r.Done()
}

// MouseRelMove is DMRM: i16 dx, i16 dy.
type MouseRelMove struct{ DX, DY int16 }

func (m MouseRelMove) Encode() []byte { return NewFieldWriter().I16(m.DX).I16(m.DY).Bytes() }

func DecodeMouseRelMove(p []byte) (MouseRelMove, error) {
	r := NewFieldReader(p)
	m := MouseRelMove{DX: r.I16(), DY: r.I16()}
	return m, r.Done()
}

// MouseWheel is DMWM: i16 xDelta, i16 yDelta.
type MouseWheel struct{ XDelta, YDelta int16 }

func (m MouseWheel) Encode() []byte { return NewFieldWriter().I16(m.XDelta).I16(m.YDelta).Bytes() }

func DecodeMouseWheel(p []byte) (MouseWheel, error) {
	r := NewFieldReader(p)
	m := MouseWheel{XDelta: r.I16(), YDelta: r.I16()}
	return m, r.Done()
}

// ClipChunk is DCLP: u8 id, u32 seq, u8 mark, string payload.
type ClipChunk struct {
	ID      uint8
	Seq     uint32
	Mark    ChunkMark
	Payload string
}

func (m ClipChunk) Encode() []byte {
	return NewFieldWriter().U8(m.ID).U32(m.Seq).U8(uint8(m.Mark)).String(m.Payload).Bytes()
}

func DecodeClipChunk(p []byte) (ClipChunk, error) {
	r := NewFieldReader(p)
	m := ClipChunk{ID: r.U8(), Seq: r.U32(), Mark: ChunkMark(r.U8()), Payload: r.String()}
	return m, r.Done()
}

// FileChunk is DFTR: u8 mark, string payload.
type FileChunk struct {
	Mark    ChunkMark
	Payload string
}

func (m FileChunk) Encode() []byte {
	return NewFieldWriter().U8(uint8(m.Mark)).String(m.Payload).Bytes()
}

func DecodeFileChunk(p []byte) (FileChunk, error) {
	r := NewFieldReader(p)
	m := FileChunk{Mark: ChunkMark(r.U8()), Payload: r.String()}
	return m, r.Done()
}

// ScreenInfo is DINF: i16 x, i16 y, i16 w, i16 h, i16 _, i16 mx, i16 my.
type ScreenInfo struct {
	X, Y, W, H int16
	MX, MY     int16
}

func (m ScreenInfo) Encode() []byte {
	return NewFieldWriter().I16(m.X).I16(m.Y).I16(m.W).I16(m.H).I16(0).I16(m.MX).I16(m.MY).Bytes()
}

func DecodeScreenInfo(p []byte) (ScreenInfo, error) {
	r := NewFieldReader(p)
	m := ScreenInfo{X: r.I16(), Y: r.I16(), W: r.I16(), H: r.I16()}
	_ = r.I16() // reserved
	m.MX, m.MY = r.I16(), r.I16()
	return m, r.Done()
}

// DragInfo is DDRG: u32 fileNum, string info.
type DragInfo struct {
	FileNum uint32
	Info    string
}

func (m DragInfo) Encode() []byte {
	return NewFieldWriter().U32(m.FileNum).String(m.Info).Bytes()
}

func DecodeDragInfo(p []byte) (DragInfo, error) {
	r := NewFieldReader(p)
	m := DragInfo{FileNum: r.U32(), Info: r.String()}
	return m, r.Done()
}

// Incompatible is EICV: i16 major, i16 minor.
type Incompatible struct{ Major, Minor int16 }

func (m Incompatible) Encode() []byte { return NewFieldWriter().I16(m.Major).I16(m.Minor).Bytes() }

func DecodeIncompatible(p []byte) (Incompatible, error) {
	r := NewFieldReader(p)
	m := Incompatible{Major: r.I16(), Minor: r.I16()}
	return m, r.Done()
}
