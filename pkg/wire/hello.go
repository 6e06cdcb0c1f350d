package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrBadMagic is returned when a Hello/HelloBack frame does not begin with
// HelloMagic — the one place the wire format departs from uniform framing
// (spec.md §6).
var ErrBadMagic = errors.New("wire: bad hello magic")

func readMagic(r io.Reader) error {
	buf := make([]byte, len(HelloMagic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("wire: read hello magic: %w", err)
	}
	if string(buf) != HelloMagic {
		return ErrBadMagic
	}
	return nil
}

// ReadHello reads the server's non-length-prefixed Hello{major, minor}.
func ReadHello(r io.Reader) (Hello, error) {
	if err := readMagic(r); err != nil {
		return Hello{}, err
	}
	var vbuf [4]byte
	if _, err := io.ReadFull(r, vbuf[:]); err != nil {
		return Hello{}, fmt.Errorf("wire: read hello version: %w", err)
	}
	r2 := NewFieldReader(vbuf[:])
	h := Hello{Version: Version{Major: r2.I16(), Minor: r2.I16()}}
	return h, r2.Done()
}

// WriteHello writes the server's Hello.
func WriteHello(w io.Writer, h Hello) error {
	_, err := w.Write(EncodeHello(h))
	return err
}

// ReadHelloBack reads the client's non-length-prefixed
// HelloBack{major, minor, name}. Unlike every other frame, HelloBack has
// no length prefix of its own, so the name's declared length (itself
// length-prefixed within the payload) is what bounds the read.
func ReadHelloBack(r io.Reader) (HelloBack, error) {
	if err := readMagic(r); err != nil {
		return HelloBack{}, err
	}
	var vbuf [4]byte
	if _, err := io.ReadFull(r, vbuf[:]); err != nil {
		return HelloBack{}, fmt.Errorf("wire: read hello-back version: %w", err)
	}
	r2 := NewFieldReader(vbuf[:])
	version := Version{Major: r2.I16(), Minor: r2.I16()}
	if err := r2.Done(); err != nil {
		return HelloBack{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return HelloBack{}, fmt.Errorf("wire: read hello-back name length: %w", err)
	}
	nameLenReader := NewFieldReader(lenBuf[:])
	nameLen := nameLenReader.U32()

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return HelloBack{}, fmt.Errorf("wire: read hello-back name: %w", err)
	}

	return HelloBack{Version: version, Name: string(nameBuf)}, nil
}

// WriteHelloBack writes the client's HelloBack.
func WriteHelloBack(w io.Writer, h HelloBack) error {
	_, err := w.Write(EncodeHelloBack(h))
	return err
}
