// Package protocol defines the codec contract the dispatch layer treats as
// an opaque external collaborator, plus a reference implementation
// (TableCodec) used by the tests and the example binary.
package protocol

import "fmt"

// DefinitionVersion selects which schema revision of a message to use when
// parsing or writing, independent of the connection's negotiated
// ProtocolVersion. Use VersionLatest for "whatever the codec has newest"
// and VersionRaw to mean "do not parse; callers see the raw buffer".
type DefinitionVersion int

const (
	// VersionLatest resolves to the highest registered definition version
	// for a message at lookup time.
	VersionLatest DefinitionVersion = 0
	// VersionRaw means no schema applies; the dispatcher treats the hook
	// as a raw hook regardless of what the caller asked for.
	VersionRaw DefinitionVersion = -1
)

// ProtocolVersion is the wire protocol revision negotiated in-band via
// C_CHECK_VERSION (spec §4.E.4). Zero means "not yet known".
type ProtocolVersion int

// Event is a parsed message. The reference codec represents it as a plain
// map so hooks can read and mutate fields without per-message Go types;
// a generated codec could instead return concrete structs behind the same
// interface.
type Event map[string]any

// Codec maps message names to opcodes and parses/serializes payloads
// against versioned schemas. The dispatcher never constructs a Codec
// itself; one is supplied by the caller (spec §6).
type Codec interface {
	// Code resolves a canonical message name to its opcode under the
	// given protocol version. ok is false if the name is unknown for
	// that version.
	Code(version ProtocolVersion, name string) (code uint16, ok bool)

	// Name resolves an opcode back to its canonical message name under
	// the given protocol version. ok is false if the opcode is unmapped.
	Name(version ProtocolVersion, code uint16) (name string, ok bool)

	// Parse decodes bytes (sans the 4-byte length+opcode header) into an
	// Event using the schema for code at defVersion. VersionLatest picks
	// the newest registered schema for the message.
	Parse(version ProtocolVersion, code uint16, defVersion DefinitionVersion, data []byte) (Event, error)

	// Write encodes event back into a header-less payload using the
	// schema for code at defVersion.
	Write(version ProtocolVersion, code uint16, defVersion DefinitionVersion, event Event) ([]byte, error)
}

// ErrUnknownOpcode is returned by Parse/Write when no schema is registered
// for the requested code under the requested protocol version.
var ErrUnknownOpcode = fmt.Errorf("protocol: unknown opcode")

// ErrUnknownName describes a name with no mapping under the requested
// protocol version. Code itself reports that case through its ok result,
// not through this error.
var ErrUnknownName = fmt.Errorf("protocol: unknown message name")
