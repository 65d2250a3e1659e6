package scene

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/opd-ai/rendercast/limits"
)

// Writer appends little-endian scene primitives to a growing buffer.
// Writes past limits.MaxSceneSnapshot are dropped and reported by Err.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a writer with room for capacity bytes.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Reset empties the writer for reuse, keeping its buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// Bytes returns the serialized data. The slice is reused by the next Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first error encountered while writing.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) grow(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)+n > limits.MaxSceneSnapshot {
		w.err = fmt.Errorf("%w: more than %d bytes", ErrSnapshotTooLarge, limits.MaxSceneSnapshot)
		return false
	}
	return true
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) {
	if w.grow(1) {
		w.buf = append(w.buf, v)
	}
}

// WriteInt32 appends a little-endian int32.
func (w *Writer) WriteInt32(v int32) {
	if w.grow(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	}
}

// WriteFloat32 appends a little-endian IEEE-754 float32.
func (w *Writer) WriteFloat32(v float32) {
	if w.grow(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	}
}

// WriteVec3 appends three float32 values.
func (w *Writer) WriteVec3(v Vec3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

// WriteTransform appends position then Euler rotation.
func (w *Writer) WriteTransform(t Transform) {
	w.WriteVec3(t.Position)
	w.WriteVec3(t.Rotation)
}

// WriteColor24 appends an RGB triple.
func (w *Writer) WriteColor24(c Color24) {
	w.WriteUint8(c.R)
	w.WriteUint8(c.G)
	w.WriteUint8(c.B)
}

// Reader consumes little-endian scene primitives. The first short read
// sticks: every later read returns zero and Err reports ErrTruncated.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// ReadFloat32 reads a little-endian float32.
func (r *Reader) ReadFloat32() float32 {
	if b := r.take(4); b != nil {
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
	return 0
}

// ReadVec3 reads three float32 values.
func (r *Reader) ReadVec3() Vec3 {
	return Vec3{X: r.ReadFloat32(), Y: r.ReadFloat32(), Z: r.ReadFloat32()}
}

// ReadTransform reads position then Euler rotation.
func (r *Reader) ReadTransform() Transform {
	return Transform{Position: r.ReadVec3(), Rotation: r.ReadVec3()}
}

// ReadColor24 reads an RGB triple.
func (r *Reader) ReadColor24() Color24 {
	return Color24{R: r.ReadUint8(), G: r.ReadUint8(), B: r.ReadUint8()}
}
