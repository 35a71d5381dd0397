// Package wire implements the little-endian, length-prefixed binary
// encoding shared by the persisted node-graph database and the
// distribution protocol: fixed-width integers, length-prefixed
// UTF-8 strings, and length-prefixed arrays built out of those primitives.
package wire

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Writer accumulates a message body using the wire encoding. The first
// write error is sticky: later writes are skipped and the error is
// returned by Err.
type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Err() error { return w.err }

func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write([]byte{v}); err != nil {
		w.fail(err)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.w.Write(buf[:]); err != nil {
		w.fail(err)
	}
}

func (w *Writer) WriteUint64(v uint64) {
	if w.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if _, err := w.w.Write(buf[:]); err != nil {
		w.fail(err)
	}
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	if w.err != nil {
		return
	}
	if len(b) == 0 {
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.fail(err)
	}
}

func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

func (w *Writer) WriteStrings(ss []string) {
	w.WriteUint32(uint32(len(ss)))
	for _, s := range ss {
		w.WriteString(s)
	}
}

// Reader decodes a message body previously produced by Writer. Like
// Writer, individual calls are chainable; the first error is sticky and
// returned by Err.
type Reader struct {
	r   io.Reader
	err error
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadUint8() uint8 {
	if r.err != nil {
		return 0
	}
	var buf [1]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		r.fail(err)
		return 0
	}
	return buf[0]
}

func (r *Reader) ReadUint32() uint32 {
	if r.err != nil {
		return 0
	}
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (r *Reader) ReadUint64() uint64 {
	if r.err != nil {
		return 0
	}
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

const maxFieldSize = 1 << 30 // guard against corrupt length prefixes

func (r *Reader) ReadBytes() []byte {
	n := r.ReadUint32()
	if r.err != nil {
		return nil
	}
	if n > maxFieldSize {
		r.fail(xerrors.Errorf("wire: field size %d exceeds limit", n))
		return nil
	}
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.fail(err)
		return nil
	}
	return buf
}

func (r *Reader) ReadString() string { return string(r.ReadBytes()) }

func (r *Reader) ReadStrings() []string {
	n := r.ReadUint32()
	if r.err != nil {
		return nil
	}
	if n > maxFieldSize {
		r.fail(xerrors.Errorf("wire: array length %d exceeds limit", n))
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		out = append(out, r.ReadString())
		if r.err != nil {
			return nil
		}
	}
	return out
}
