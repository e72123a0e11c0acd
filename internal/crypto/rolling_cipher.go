package crypto

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/udisondev/l2mitmproxy/internal/constants"
)

// RollingCipher is the default Cipher backend: a keystream cipher whose
// key table evolves after every packet, in the style of the L2 GameServer
// rolling-XOR cipher (GameCrypt), generalized from a single 16-byte key to
// the spec's four 128-byte key-exchange blocks.
//
// Algorithm (per direction):
//   encrypted[i] = raw[i] ^ key[i & 0x7F] ^ encrypted[i-1]
//   decrypted[i] = encrypted[i] ^ key[i & 0x7F] ^ encrypted[i-1]
// After each call, key bytes [8:12] (LE uint32) are incremented by the
// packet size, so replaying a captured stream never reproduces the same
// keystream twice.
//
// Both directions start from the same seed — all four key blocks folded
// together — so any two Cipher instances seeded with the same four blocks
// agree on the initial keystream for both Encrypt and Decrypt; each
// direction then evolves its own copy independently as traffic flows.
// That symmetry is what lets session1 and session2 (seeded identically,
// spec §4.C) decrypt what their respective peers encrypted.
type RollingCipher struct {
	clientKeys [2][]byte
	serverKeys [2][]byte

	inKey     [constants.KeyBlockSize]byte
	outKey    [constants.KeyBlockSize]byte
	isEnabled atomic.Bool
}

// NewRollingCipher creates a RollingCipher with no keys set.
func NewRollingCipher() *RollingCipher {
	return &RollingCipher{}
}

func (rc *RollingCipher) SetClientKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return ErrKeyIndex
	}
	if len(key) != constants.KeyBlockSize {
		return ErrKeySize
	}
	buf := make([]byte, constants.KeyBlockSize)
	copy(buf, key)
	rc.clientKeys[idx] = buf
	return nil
}

func (rc *RollingCipher) SetServerKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return ErrKeyIndex
	}
	if len(key) != constants.KeyBlockSize {
		return ErrKeySize
	}
	buf := make([]byte, constants.KeyBlockSize)
	copy(buf, key)
	rc.serverKeys[idx] = buf
	return nil
}

// Init activates the cipher once both client keys and both server keys
// are present. Panics otherwise — a missing key is a programmer error
// (spec §7 CryptoError), not a recoverable condition.
func (rc *RollingCipher) Init() {
	if rc.clientKeys[0] == nil || rc.clientKeys[1] == nil ||
		rc.serverKeys[0] == nil || rc.serverKeys[1] == nil {
		panic("crypto: RollingCipher.Init called before all four keys were set")
	}
	var seed [constants.KeyBlockSize]byte
	foldKeys(&seed, rc.clientKeys[0], rc.clientKeys[1])
	foldKeys(&seed, rc.serverKeys[0], rc.serverKeys[1])
	rc.inKey = seed
	rc.outKey = seed
	rc.isEnabled.Store(true)
}

// foldKeys XORs a and b into dst in place, giving each key exchange round
// equal weight in the resulting table. Calling it twice with different
// pairs accumulates both pairs into one seed.
func foldKeys(dst *[constants.KeyBlockSize]byte, a, b []byte) {
	for i := range dst {
		dst[i] ^= a[i] ^ b[i]
	}
}

func (rc *RollingCipher) Encrypt(data []byte) {
	if !rc.isEnabled.Load() {
		panic("crypto: RollingCipher.Encrypt called before Init")
	}
	var prev byte
	for i := range data {
		prev = data[i] ^ rc.outKey[i&0x7F] ^ prev
		data[i] = prev
	}
	shiftKey(rc.outKey[:], len(data))
}

func (rc *RollingCipher) Decrypt(data []byte) {
	if !rc.isEnabled.Load() {
		panic("crypto: RollingCipher.Decrypt called before Init")
	}
	var xor byte
	for i := range data {
		encrypted := data[i]
		data[i] = encrypted ^ rc.inKey[i&0x7F] ^ xor
		xor = encrypted
	}
	shiftKey(rc.inKey[:], len(data))
}

// shiftKey increments key bytes [8:12] (interpreted as LE uint32) by size,
// evolving the key after each packet.
func shiftKey(key []byte, size int) {
	old := binary.LittleEndian.Uint32(key[8:12])
	old += uint32(size)
	binary.LittleEndian.PutUint32(key[8:12], old)
}
