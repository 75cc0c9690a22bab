package binschema

import (
	"testing"

	"github.com/latticeware/binschema/secure"
)

func hmacFixtureHasher() secure.Hasher {
	return secure.NewHMACSHA256Hasher([]byte("fixture-signing-key"))
}

func TestRoundTripBasicStruct(t *testing.T) {
	schema := basicStructSchema()
	doc := Object(
		Field{Name: "magic", Value: Bin([]byte("GS"))},
		Field{Name: "kind", Value: Uint(0)},
		Field{Name: "count", Value: Uint(2)},
		Field{Name: "body", Value: Array(Int(10), Int(11))},
	)
	b, err := Write(schema, doc)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, rest, err := Read(schema, b)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %v, want none", rest)
	}
	body, _ := got.Field("body")
	elems, _ := body.Array()
	if len(elems) != 2 {
		t.Fatalf("body = %v", body.GoString())
	}
	e0, _ := elems[0].Uint()
	e1, _ := elems[1].Uint()
	if e0 != 10 || e1 != 11 {
		t.Fatalf("elems = %d, %d; want 10, 11", e0, e1)
	}
}

func TestRoundTripSignatureVerifies(t *testing.T) {
	hasher := hmacFixtureHasher()
	schema := StructType(
		FieldDef{Name: "header", Type: Uint8()},
		FieldDef{Name: "payload", Type: BinType(LiteralSize(4))},
		FieldDef{Name: "sig", Type: SignType(BinType(LiteralSize(32)), "fixture", "header", "payload", "sig")},
	)
	// "sig" is both the signed field's own storage (32 zero bytes, the
	// width HMAC-SHA256 produces) and the target the finalize pass
	// patches with the real digest over the header/payload window.
	doc := Object(
		Field{Name: "header", Value: Uint(1)},
		Field{Name: "payload", Value: Bin([]byte{1, 2, 3, 4})},
		Field{Name: "sig", Value: Bin(make([]byte, 32))},
	)
	b, err := Write(schema, doc, WithWriteHasher("fixture", hasher))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, _, err := Read(schema, b, WithHasher("fixture", hasher)); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestRoundTripEncryptedField(t *testing.T) {
	key, err := secure.NewAESKey([]byte("shared secret, any length works"), []byte("test.v1"))
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	schema := EncryptType(Uint32(), "session", LiteralSize(32))
	b, err := Write(schema, Uint(0xDEADBEEF), WithWriteKey("session", key))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("len(b) = %d, want 32 (16-byte IV + one 16-byte block)", len(b))
	}
	v, _, err := Read(schema, b, WithKey("session", key))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, _ := v.Uint()
	if n != 0xDEADBEEF {
		t.Fatalf("value = %#x, want 0xdeadbeef", n)
	}
}

func TestRoundTripEncryptDetectsLeftoverBits(t *testing.T) {
	// Encrypt an 8-byte plaintext but declare the inner type as a 4-byte
	// Uint32: decrypting must succeed, but parsing inner leaves 4 bytes
	// of the plaintext unconsumed, which must be rejected.
	key, err := secure.NewAESKey([]byte("shared secret, any length works"), []byte("test.v1"))
	if err != nil {
		t.Fatalf("NewAESKey: %v", err)
	}
	plaintext, err := Write(Uint64(), Uint(0x1122334455667788))
	if err != nil {
		t.Fatalf("Write plaintext: %v", err)
	}
	ciphertext, err := key.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	schema := EncryptType(Uint32(), "session", LiteralSize(int64(len(ciphertext))))
	_, _, err = Read(schema, ciphertext, WithKey("session", key))
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrSizeMismatch {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrSizeMismatch}", err)
	}
}

func TestRoundTripCompression(t *testing.T) {
	schema := Uint32()
	b, err := Write(schema, Uint(0xDEADBEEF), WithCompression())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, _, err := Read(schema, b, WithDecompression())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, _ := v.Uint()
	if n != 0xDEADBEEF {
		t.Fatalf("value = %#x, want 0xdeadbeef", n)
	}
}

func TestRoundTripSchemaTextForm(t *testing.T) {
	original := checksumStructSchema()
	text, err := EmitSchema(original)
	if err != nil {
		t.Fatalf("EmitSchema: %v", err)
	}
	reparsed, err := ParseSchema(text)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	data := []byte{0x01, 2, 3, 4, 0x05, 0x0F}
	v, _, err := Read(reparsed, data)
	if err != nil {
		t.Fatalf("Read against reparsed schema: %v", err)
	}
	sum, _ := v.Field("sum")
	n, _ := sum.Uint()
	if n != 0x0F {
		t.Fatalf("sum = %#x, want 0x0f", n)
	}
}
