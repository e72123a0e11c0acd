// Package constants holds wire-level constants shared across the proxy's
// stream, dispatch, and protocol packages.
package constants

const (
	// HeaderSize is the length-prefix size in bytes (little-endian uint16).
	HeaderSize = 2

	// OpcodeSize is the opcode field size in bytes (little-endian uint16),
	// immediately following the length header.
	OpcodeSize = 2

	// MinMessageLen is the minimum valid message length, header included.
	MinMessageLen = HeaderSize + OpcodeSize

	// MaxMessageLen bounds a single message; anything claiming to be larger
	// is a framing error for that connection.
	MaxMessageLen = 1 << 16

	// KeyBlockSize is the size in bytes of each of the four key-exchange
	// blocks a Cipher is seeded with (clientKeys[0..1], serverKeys[0..1]).
	KeyBlockSize = 128
)

// Sentinel opcodes used by the dispatch engine. AnyOpcode is the `*`
// wildcard from spec §3; UnknownOpcode stands in for names the codec does
// not recognize.
const (
	AnyOpcode     = -1
	UnknownOpcode = -2
)

// DefaultCheckVersionOpcode is the opcode of C_CHECK_VERSION under the
// earliest known schema, used for dynamic protocol-version detection
// (spec §4.E.2 step 2). Treated as a versioned constant and made
// configurable per REDESIGN FLAGS — see config.Proxy.CheckVersionOpcode.
const DefaultCheckVersionOpcode = 19900
