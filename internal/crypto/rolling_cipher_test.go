package crypto

import (
	"bytes"
	"testing"
)

func testKeys(seed byte) (c0, c1, s0, s1 []byte) {
	mk := func(tag byte) []byte {
		b := make([]byte, 128)
		for i := range b {
			b[i] = seed + tag + byte(i)
		}
		return b
	}
	return mk(1), mk(2), mk(3), mk(4)
}

func newReadyRollingPair(t *testing.T) (a, b *RollingCipher) {
	t.Helper()
	c0, c1, s0, s1 := testKeys(0)

	a = NewRollingCipher()
	if err := a.SetClientKey(0, c0); err != nil {
		t.Fatal(err)
	}
	if err := a.SetClientKey(1, c1); err != nil {
		t.Fatal(err)
	}
	if err := a.SetServerKey(0, s0); err != nil {
		t.Fatal(err)
	}
	if err := a.SetServerKey(1, s1); err != nil {
		t.Fatal(err)
	}
	a.Init()

	// Peer cipher: same key material, so peer.Decrypt(a.Encrypt(x)) == x.
	b = NewRollingCipher()
	_ = b.SetClientKey(0, c0)
	_ = b.SetClientKey(1, c1)
	_ = b.SetServerKey(0, s0)
	_ = b.SetServerKey(1, s1)
	b.Init()
	return a, b
}

func TestRollingCipher_RoundTrip(t *testing.T) {
	a, b := newReadyRollingPair(t)

	original := []byte("hello, game server")
	data := append([]byte(nil), original...)

	a.Encrypt(data)
	if bytes.Equal(data, original) {
		t.Fatal("Encrypt must change the data")
	}

	// b shares the same four key blocks, so its keystream matches a's.
	b.Decrypt(data)
	if !bytes.Equal(data, original) {
		t.Fatalf("round trip mismatch: got %x, want %x", data, original)
	}
}

func TestRollingCipher_KeyEvolves(t *testing.T) {
	a, b := newReadyRollingPair(t)

	msg1 := []byte("first message  ")
	msg2 := []byte("first message  ") // identical plaintext

	enc1 := append([]byte(nil), msg1...)
	a.Encrypt(enc1)
	enc2 := append([]byte(nil), msg2...)
	a.Encrypt(enc2)

	if bytes.Equal(enc1, enc2) {
		t.Fatal("identical plaintexts must not produce identical ciphertext after key evolution")
	}

	dec1 := append([]byte(nil), enc1...)
	b.Decrypt(dec1)
	dec2 := append([]byte(nil), enc2...)
	b.Decrypt(dec2)

	if !bytes.Equal(dec1, msg1) || !bytes.Equal(dec2, msg2) {
		t.Fatal("sequential round trip failed")
	}
}

func TestRollingCipher_InitPanicsWithoutAllKeys(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Init to panic when keys are missing")
		}
	}()
	c := NewRollingCipher()
	_ = c.SetClientKey(0, make([]byte, 128))
	c.Init()
}

func TestRollingCipher_RejectsWrongKeySize(t *testing.T) {
	c := NewRollingCipher()
	if err := c.SetClientKey(0, make([]byte, 16)); err != ErrKeySize {
		t.Fatalf("expected ErrKeySize, got %v", err)
	}
	if err := c.SetClientKey(2, make([]byte, 128)); err != ErrKeyIndex {
		t.Fatalf("expected ErrKeyIndex, got %v", err)
	}
}
