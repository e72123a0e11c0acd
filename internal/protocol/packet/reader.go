// Package packet provides little-endian binary reader/writer helpers for
// TableCodec's message schemas — the primitive types a MessageSchema's
// Fields are built from (spec §6: schema representation is opaque to the
// dispatch/stream core, but something still has to put bytes on the wire).
package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// DefaultStringCapacity is a typical field-string length in UTF-16 code
// units. Pre-sizing the decode buffer around it avoids a grow-and-copy for
// the common case without committing to a hard limit.
const DefaultStringCapacity = 16

// Reader decodes a MessageSchema's fields from a payload buffer in
// declaration order. Little-endian throughout, matching the wire format
// TableCodec registers schemas against.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential field decoding starting at offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadByte reads a single byte (KindByte).
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadByte: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadShort reads an int16 (KindShort, 2 bytes LE).
func (r *Reader) ReadShort() (int16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ReadShort: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := int16(binary.LittleEndian.Uint16(r.data[r.pos:]))
	r.pos += 2
	return val, nil
}

// ReadInt reads an int32 (KindInt, 4 bytes LE).
func (r *Reader) ReadInt() (int32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadInt: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := int32(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	return val, nil
}

// ReadLong reads an int64 (KindLong, 8 bytes LE).
func (r *Reader) ReadLong() (int64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadLong: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := int64(binary.LittleEndian.Uint64(r.data[r.pos:]))
	r.pos += 8
	return val, nil
}

// ReadDouble reads a float64 (KindDouble, 8 bytes LE, IEEE 754).
func (r *Reader) ReadDouble() (float64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("ReadDouble: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	bits := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// ReadString reads a UTF-16LE null-terminated string (KindString). The
// decode buffer is pre-sized to DefaultStringCapacity code units, which
// covers most schema string fields (account names, character names,
// short chat lines) without a realloc; longer strings simply grow it.
func (r *Reader) ReadString() (string, error) {
	codeUnits := make([]uint16, 0, DefaultStringCapacity)

	for {
		if r.pos+2 > len(r.data) {
			return "", fmt.Errorf("ReadString: unexpected end of data (pos=%d, len=%d)", r.pos, len(r.data))
		}

		unit := binary.LittleEndian.Uint16(r.data[r.pos:])
		r.pos += 2

		if unit == 0 {
			break
		}

		codeUnits = append(codeUnits, unit)
	}

	return string(utf16.Decode(codeUnits)), nil
}

// ReadBytes reads n bytes as a zero-copy subslice of the reader's backing
// array. The caller must not mutate the result or retain it past the
// buffer's lifetime; use ReadBytesCopy for either.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ReadBytes: negative count %d", n)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadBytes: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}

	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadBytesCopy reads n bytes into a freshly allocated slice (KindBytes).
// TableCodec uses this, not ReadBytes, for fixed-length blob fields: an
// Event's values must outlive the payload buffer they were parsed from,
// since hooks stash and mutate them independently of the wire.
func (r *Reader) ReadBytesCopy(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ReadBytesCopy: negative count %d", n)
	}
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadBytesCopy: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}

	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read offset.
func (r *Reader) Position() int {
	return r.pos
}
