package wire

import (
	"encoding/binary"
	"fmt"
)

// FieldWriter accumulates code-specific fields into a payload buffer using
// the big-endian / length-prefixed encodings spec.md §3 defines: i16, i32,
// u32, strings as u32-length+bytes, and lists as u32-count+elements.
type FieldWriter struct {
	buf []byte
}

func NewFieldWriter() *FieldWriter { return &FieldWriter{} }

func (w *FieldWriter) Bytes() []byte { return w.buf }

func (w *FieldWriter) I8(v int8) *FieldWriter {
	w.buf = append(w.buf, byte(v))
	return w
}

func (w *FieldWriter) U8(v uint8) *FieldWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *FieldWriter) I16(v int16) *FieldWriter {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *FieldWriter) U16(v uint16) *FieldWriter {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *FieldWriter) I32(v int32) *FieldWriter {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *FieldWriter) U32(v uint32) *FieldWriter {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *FieldWriter) String(s string) *FieldWriter {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *FieldWriter) Bytes32(b []byte) *FieldWriter {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

func (w *FieldWriter) StringList(items []string) *FieldWriter {
	w.U32(uint32(len(items)))
	for _, it := range items {
		w.String(it)
	}
	return w
}

// FieldReader parses fields off a payload in order, strictly: any bytes
// left unconsumed after the caller is done is a protocol error
// (ErrMalformed), per spec.md §4.1.
type FieldReader struct {
	buf []byte
	off int
	err error
}

func NewFieldReader(payload []byte) *FieldReader {
	return &FieldReader{buf: payload}
}

func (r *FieldReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *FieldReader) need(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.buf)))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *FieldReader) I8() int8 {
	b := r.need(1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

func (r *FieldReader) U8() uint8 {
	b := r.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *FieldReader) I16() int16 {
	b := r.need(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (r *FieldReader) U16() uint16 {
	b := r.need(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *FieldReader) I32() int32 {
	b := r.need(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *FieldReader) U32() uint32 {
	b := r.need(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *FieldReader) String() string {
	n := r.U32()
	b := r.need(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *FieldReader) Bytes32() []byte {
	n := r.U32()
	b := r.need(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *FieldReader) StringList() []string {
	n := r.U32()
	if r.err != nil {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.String())
		if r.err != nil {
			return nil
		}
	}
	return out
}

// Done returns ErrMalformed if any bytes remain unconsumed, and propagates
// any error raised by an earlier field read.
func (r *FieldReader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return nil
}
