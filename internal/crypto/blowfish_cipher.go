package crypto

import (
	"fmt"

	"golang.org/x/crypto/blowfish"

	"github.com/udisondev/l2mitmproxy/internal/constants"
)

// BlowfishCipher is an alternative Cipher backend built on
// golang.org/x/crypto/blowfish, selectable via config.Proxy.CipherBackend.
// It runs Blowfish in output-feedback (OFB) mode — an 8-byte register
// repeatedly re-encrypted to produce a keystream, XORed against the
// buffer — so it satisfies the same in-place, arbitrary-length
// Encrypt/Decrypt contract as RollingCipher even though Blowfish itself
// only operates on fixed 8-byte blocks.
type BlowfishCipher struct {
	clientKeys [2][]byte
	serverKeys [2][]byte

	in, out *blowfishStream
}

// NewBlowfishCipher creates a BlowfishCipher with no keys set.
func NewBlowfishCipher() *BlowfishCipher {
	return &BlowfishCipher{}
}

type blowfishStream struct {
	cipher   *blowfish.Cipher
	feedback [blowfish.BlockSize]byte
}

func (bc *BlowfishCipher) SetClientKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return ErrKeyIndex
	}
	if len(key) != constants.KeyBlockSize {
		return ErrKeySize
	}
	buf := make([]byte, constants.KeyBlockSize)
	copy(buf, key)
	bc.clientKeys[idx] = buf
	return nil
}

func (bc *BlowfishCipher) SetServerKey(idx int, key []byte) error {
	if idx != 0 && idx != 1 {
		return ErrKeyIndex
	}
	if len(key) != constants.KeyBlockSize {
		return ErrKeySize
	}
	buf := make([]byte, constants.KeyBlockSize)
	copy(buf, key)
	bc.serverKeys[idx] = buf
	return nil
}

// Init activates the cipher once both client keys and both server keys
// are present. Panics otherwise — a missing key is a programmer error
// (spec §7 CryptoError), not a recoverable condition.
func (bc *BlowfishCipher) Init() {
	if bc.clientKeys[0] == nil || bc.clientKeys[1] == nil ||
		bc.serverKeys[0] == nil || bc.serverKeys[1] == nil {
		panic("crypto: BlowfishCipher.Init called before all four keys were set")
	}

	seed := foldToBlowfishKey(bc.clientKeys[0], bc.clientKeys[1], bc.serverKeys[0], bc.serverKeys[1])

	in, err := newBlowfishStream(seed)
	if err != nil {
		panic(fmt.Sprintf("crypto: %v", err))
	}
	out, err := newBlowfishStream(seed)
	if err != nil {
		panic(fmt.Sprintf("crypto: %v", err))
	}
	bc.in, bc.out = in, out
}

func (bc *BlowfishCipher) Encrypt(buf []byte) { crypt(bc.out, buf) }
func (bc *BlowfishCipher) Decrypt(buf []byte) { crypt(bc.in, buf) }

// crypt XORs buf with an OFB keystream derived by repeatedly re-encrypting
// the feedback register — identical operation for encrypt and decrypt
// since it is a pure keystream XOR, mirroring RollingCipher's symmetry.
func crypt(s *blowfishStream, buf []byte) {
	if s == nil {
		panic("crypto: BlowfishCipher used before Init")
	}
	for i := range buf {
		if i%blowfish.BlockSize == 0 {
			s.cipher.Encrypt(s.feedback[:], s.feedback[:])
		}
		buf[i] ^= s.feedback[i%blowfish.BlockSize]
	}
}

// foldToBlowfishKey XORs any number of 128-byte key blocks down to a
// Blowfish key of 56 bytes (the library's maximum), preserving all input
// entropy via repeated folding rather than truncation.
func foldToBlowfishKey(blocks ...[]byte) []byte {
	const max = 56
	key := make([]byte, max)
	for _, block := range blocks {
		for i, v := range block {
			key[i%max] ^= v
		}
	}
	return key
}

func newBlowfishStream(key []byte) (*blowfishStream, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating blowfish cipher: %w", err)
	}
	s := &blowfishStream{cipher: c}
	copy(s.feedback[:], key)
	return s, nil
}
