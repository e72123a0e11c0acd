// Package crypto implements the per-direction keystream cipher the stream
// layer treats as an opaque encryption primitive (spec §4.B). Two
// interchangeable backends are provided: RollingCipher (the default, a
// keystream cipher in the style of the teacher's GameCrypt) and
// BlowfishCipher (a golang.org/x/crypto/blowfish-backed alternative).
package crypto

import "fmt"

// Cipher is the contract the stream layer programs against. A Cipher is
// seeded by four 128-byte key blocks delivered during the handshake
// (spec §4.C), then Init'd once, then used to Encrypt/Decrypt in place for
// the lifetime of the connection. The keystream is symmetric: decrypting
// the output of an encrypt call with the same key state restores the
// input.
type Cipher interface {
	// SetClientKey stores clientKeys[idx] (idx is 0 or 1). Called twice
	// during the handshake, once per client key-exchange datagram.
	SetClientKey(idx int, key []byte) error
	// SetServerKey stores serverKeys[idx] (idx is 0 or 1).
	SetServerKey(idx int, key []byte) error
	// Init activates the cipher. Precondition: all four keys set.
	// Calling Encrypt/Decrypt before Init is a CryptoError (programmer
	// error, spec §7) and panics.
	Init()
	// Encrypt encrypts buf in place.
	Encrypt(buf []byte)
	// Decrypt decrypts buf in place. decrypt(encrypt(x)) == x.
	Decrypt(buf []byte)
}

// ErrKeyIndex is returned by SetClientKey/SetServerKey for idx not in {0,1}.
var ErrKeyIndex = fmt.Errorf("crypto: key index must be 0 or 1")

// ErrKeySize is returned when a key block is not exactly KeyBlockSize bytes.
var ErrKeySize = fmt.Errorf("crypto: key block must be 128 bytes")
