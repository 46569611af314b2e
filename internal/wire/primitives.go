// Package wire implements the envelope codec: the binary and JSON framings
// shared by every command, response, and broadcast that crosses a DirtSim
// WebSocket connection.
//
// The binary primitives are little-endian: fixed-width fields written
// with encoding/binary, variable-length fields length-prefixed. Nested
// user types (EvolutionConfig, GenomeMetadata, ...) have no
// member-by-member codec here: the commands that carry them send those
// bodies as JSON inside the binary payload (EncodeBinaryJSON).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxPayloadBytes is the default maximum payload size; larger encoded
// payloads fail with ErrTooLarge.
const MaxPayloadBytes = 16 << 20

// ErrTruncated and ErrTooLarge are the two envelope-level failure
// modes; call sites wrap them with field context.
var (
	ErrTruncated = errors.New("wire: truncated payload")
	ErrTooLarge  = errors.New("wire: payload exceeds maximum size")
)

// Writer accumulates a binary-encoded payload in field-declaration order.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 64)} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBytes writes a u32 length prefix followed by raw bytes.
func (w *Writer) WriteBytes(v []byte) {
	w.WriteUint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(v string) { w.WriteBytes([]byte(v)) }

// WriteOptionalString writes a one-byte discriminant then the value.
func (w *Writer) WriteOptionalString(v *string) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteString(*v)
}

func (w *Writer) WriteOptionalFloat64(v *float64) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteFloat64(*v)
}

func (w *Writer) WriteOptionalUint64(v *uint64) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteUint64(*v)
}

// Reader decodes a binary-encoded payload field-by-field, in the same
// declaration order it was written.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports unread trailing bytes; a strict decoder treats a
// non-zero remainder as a SchemaError (unknown trailing field).
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) require(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrTruncated
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadBytes {
		return nil, ErrTooLarge
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadOptionalString() (*string, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadOptionalFloat64() (*float64, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadFloat64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Reader) ReadOptionalUint64() (*uint64, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Rest returns a copy of the unread remainder of the buffer.
func (r *Reader) Rest() []byte {
	out := make([]byte, r.Remaining())
	copy(out, r.buf[r.pos:])
	r.pos = len(r.buf)
	return out
}

// FieldError wraps a decode error with the offending field name, giving
// SchemaError its "field missing / type mismatch" precision.
func FieldError(field string, err error) error {
	return fmt.Errorf("field %q: %w", field, err)
}

// BodyMarshaler is implemented by command bodies with a hand-written
// field-by-field binary form; bodies without one ride the JSON-in-
// binary-payload encoding instead.
type BodyMarshaler interface {
	MarshalBody(w *Writer) error
}

// BodyUnmarshaler is the decode half of BodyMarshaler, implemented on
// the pointer type so fields can be filled in place.
type BodyUnmarshaler interface {
	UnmarshalBody(r *Reader) error
}
