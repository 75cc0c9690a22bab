package binschema

import (
	"strings"
	"testing"
)

func TestParseSchemaRejectsUnknownKey(t *testing.T) {
	_, err := ParseSchema([]byte(`{"type": "Uint8", "bogus": 1}`))
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrSchema {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrSchema}", err)
	}
}

func TestParseSchemaRejectsMissingTypeKey(t *testing.T) {
	_, err := ParseSchema([]byte(`{"endian": "big"}`))
	if err == nil {
		t.Fatal("want error for missing \"type\" key")
	}
}

func TestParseSchemaIntegerTags(t *testing.T) {
	for _, tag := range []string{"Uint8", "Uint16", "Uint32", "Uint64", "Int8", "Int16", "Int32", "Int64"} {
		typ, err := ParseSchema([]byte(`{"type": "` + tag + `"}`))
		if err != nil {
			t.Fatalf("ParseSchema(%q): %v", tag, err)
		}
		if typ.Kind != KindNumeric {
			t.Fatalf("%s: Kind = %v, want KindNumeric", tag, typ.Kind)
		}
	}
}

func TestParseSchemaLittleEndian(t *testing.T) {
	typ, err := ParseSchema([]byte(`{"type": "Uint16", "endian": "little"}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if typ.Endian != LittleEndian {
		t.Fatalf("Endian = %v, want LittleEndian", typ.Endian)
	}
}

func TestParseSchemaRejectsBadEncoding(t *testing.T) {
	_, err := ParseSchema([]byte(`{"type": "String", "size": 4, "encoding": "latin1"}`))
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrEncoding {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrEncoding}", err)
	}
}

func TestParseSchemaMagicHexDecodes(t *testing.T) {
	typ, err := ParseSchema([]byte(`{"type": "Magic", "magic": "cafe"}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if string(typ.Magic) != "\xCA\xFE" {
		t.Fatalf("Magic = %x, want cafe", typ.Magic)
	}
}

func TestParseSchemaArrayRequiresSizeOrLength(t *testing.T) {
	_, err := ParseSchema([]byte(`{"type": "Array", "element_type": {"type": "Uint8"}}`))
	if err == nil {
		t.Fatal("want error when neither \"size\" nor \"length\" is present")
	}
}

func TestParseSchemaSizeAsFieldReferenceString(t *testing.T) {
	typ, err := ParseSchema([]byte(`{"type": "Bin", "size": "count"}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	name, ok := typ.Size.FieldRef()
	if !ok || name != "count" {
		t.Fatalf("FieldRef() = %q, %v; want \"count\", true", name, ok)
	}
}

func TestEmitSchemaRoundTripsStruct(t *testing.T) {
	original := checksumStructSchema()
	text, err := EmitSchema(original)
	if err != nil {
		t.Fatalf("EmitSchema: %v", err)
	}
	if !strings.Contains(string(text), `"Struct"`) {
		t.Fatalf("emitted text missing \"Struct\" tag: %s", text)
	}
	reparsed, err := ParseSchema(text)
	if err != nil {
		t.Fatalf("ParseSchema(emitted): %v", err)
	}
	if len(reparsed.Fields) != len(original.Fields) {
		t.Fatalf("field count = %d, want %d", len(reparsed.Fields), len(original.Fields))
	}
	for i, fd := range reparsed.Fields {
		if fd.Name != original.Fields[i].Name {
			t.Fatalf("field[%d].Name = %q, want %q", i, fd.Name, original.Fields[i].Name)
		}
	}
}

func TestEmitSchemaEnumCasesAreSorted(t *testing.T) {
	typ := EnumType("kind", map[string]*Type{
		"2": Uint8(),
		"0": Uint16(),
		"1": Uint32(),
	})
	text, err := EmitSchema(typ)
	if err != nil {
		t.Fatalf("EmitSchema: %v", err)
	}
	i0 := strings.Index(string(text), `"0"`)
	i1 := strings.Index(string(text), `"1"`)
	i2 := strings.Index(string(text), `"2"`)
	if !(i0 < i1 && i1 < i2) {
		t.Fatalf("enum case keys not emitted in sorted order: %s", text)
	}
}

func TestParseSchemaEncryptNode(t *testing.T) {
	typ, err := ParseSchema([]byte(`{
		"type": "Encrypt",
		"inner": {"type": "Bin", "size": 16},
		"key": "session",
		"size": 16
	}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if typ.Kind != KindEncryptType || typ.KeyName != "session" {
		t.Fatalf("typ = %+v, want KindEncryptType keyed \"session\"", typ)
	}
}

func TestParseSchemaSignNode(t *testing.T) {
	typ, err := ParseSchema([]byte(`{
		"type": "Sign",
		"inner": {"type": "Bin", "size": 32},
		"hasher": "fixture",
		"signature_key": "sig",
		"signature_position": {"start_key": "a", "end_key": "b"}
	}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if typ.Kind != KindSignType || typ.SignStartKey != "a" || typ.SignEndKey != "b" {
		t.Fatalf("typ = %+v, want Sign with window a..b", typ)
	}
}

func TestParseSchemaRejectsNonObjectTop(t *testing.T) {
	_, err := ParseSchema([]byte(`"not an object"`))
	if err == nil {
		t.Fatal("want error when top-level JSON is not an object")
	}
}
