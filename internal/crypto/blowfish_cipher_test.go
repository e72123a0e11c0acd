package crypto

import (
	"bytes"
	"testing"
)

func newReadyBlowfishPair(t *testing.T) (a, b *BlowfishCipher) {
	t.Helper()
	c0, c1, s0, s1 := testKeys(0)

	a = NewBlowfishCipher()
	_ = a.SetClientKey(0, c0)
	_ = a.SetClientKey(1, c1)
	_ = a.SetServerKey(0, s0)
	_ = a.SetServerKey(1, s1)
	a.Init()

	b = NewBlowfishCipher()
	_ = b.SetClientKey(0, c0)
	_ = b.SetClientKey(1, c1)
	_ = b.SetServerKey(0, s0)
	_ = b.SetServerKey(1, s1)
	b.Init()
	return a, b
}

func TestBlowfishCipher_RoundTrip(t *testing.T) {
	a, b := newReadyBlowfishPair(t)

	original := []byte("a message longer than one block")
	data := append([]byte(nil), original...)

	a.Encrypt(data)
	if bytes.Equal(data, original) {
		t.Fatal("Encrypt must change the data")
	}
	b.Decrypt(data)
	if !bytes.Equal(data, original) {
		t.Fatalf("round trip mismatch: got %x, want %x", data, original)
	}
}

func TestBlowfishCipher_InitPanicsWithoutAllKeys(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Init to panic when keys are missing")
		}
	}()
	c := NewBlowfishCipher()
	_ = c.SetServerKey(0, make([]byte, 128))
	c.Init()
}

func TestBlowfishCipher_SatisfiesCipherInterface(t *testing.T) {
	var _ Cipher = (*BlowfishCipher)(nil)
	var _ Cipher = (*RollingCipher)(nil)
}
