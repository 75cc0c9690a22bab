package secure

import (
	"bytes"
	"testing"
)

func TestAESKeyRoundTrip(t *testing.T) {
	key, err := NewAESKey([]byte("a shared secret, any length works"), []byte("test.v1"))
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	if key.BlockSize() != 16 {
		t.Fatalf("BlockSize() = %d, want 16", key.BlockSize())
	}

	plaintexts := [][]byte{
		nil,
		[]byte("short"),
		bytes.Repeat([]byte{0xAB}, 16),  // exactly one block
		bytes.Repeat([]byte{0xCD}, 100), // spans several blocks
	}
	for _, pt := range plaintexts {
		ct, err := key.Encrypt(pt)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(pt), err)
		}
		got, err := key.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(pt), err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round trip mismatch for %d-byte input: got %d bytes", len(pt), len(got))
		}
	}
}

func TestAESKeyDecryptRejectsBadLength(t *testing.T) {
	key, _ := NewAESKey([]byte("secret"), []byte("test.v1"))
	if _, err := key.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error decrypting undersized ciphertext")
	}
}

func TestBlake3HasherDeterministic(t *testing.T) {
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	h := NewBlake3Hasher(key)
	d1 := h.Hash([]byte("payload"))
	d2 := h.Hash([]byte("payload"))
	if !bytes.Equal(d1, d2) {
		t.Fatal("Blake3Hasher is not deterministic")
	}
	if bytes.Equal(d1, h.Hash([]byte("other"))) {
		t.Fatal("different inputs produced the same digest")
	}
}

func TestVerifySignature(t *testing.T) {
	h := NewHMACSHA256Hasher([]byte("k"))
	sig := h.Hash([]byte("data"))
	if !VerifySignature(h, []byte("data"), sig) {
		t.Fatal("valid signature failed to verify")
	}
	if VerifySignature(h, []byte("tampered"), sig) {
		t.Fatal("tampered data verified")
	}
}
