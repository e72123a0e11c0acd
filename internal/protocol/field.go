package protocol

import "fmt"

// FieldKind identifies how a single field of a MessageSchema is encoded on
// the wire. It mirrors the primitive set internal/protocol/packet exposes.
type FieldKind int

const (
	KindByte FieldKind = iota
	KindShort
	KindInt
	KindLong
	KindDouble
	KindString
	// KindVersionList decodes the C_CHECK_VERSION payload shape: a byte
	// count followed by that many {index int16, value int32} pairs. It
	// exists so the reference codec can exercise the dynamic
	// protocol-version handshake (spec §4.E.2 step 2) without inventing
	// a general-purpose repeated-field grammar.
	KindVersionList
	// KindBytes decodes a fixed-length raw blob (Field.Size bytes),
	// copied off the wire so an Event's []byte values survive past the
	// payload buffer they were parsed from. Used for opaque fields a
	// schema author doesn't want to give further structure to.
	KindBytes
)

// Field describes one named value within a MessageSchema, in wire order.
type Field struct {
	Name string
	Kind FieldKind
	// Size is the fixed byte length of a KindBytes field. Unused by
	// every other kind.
	Size int
}

// VersionEntry is one element of a KindVersionList field, addressable from
// a hook as event["version"].([]VersionEntry)[i].Value.
type VersionEntry struct {
	Index int16
	Value int32
}

func (k FieldKind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindVersionList:
		return "versionList"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}
