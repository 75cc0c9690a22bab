package binschema

import (
	"testing"

	"github.com/latticeware/binschema/expr"
)

func TestReadNumericBigEndian(t *testing.T) {
	v, rest, err := Read(Uint16(), []byte{0x01, 0x02, 0xFF})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, ok := v.Uint()
	if !ok || n != 0x0102 {
		t.Fatalf("value = %v, want uint(0x0102)", v.GoString())
	}
	if len(rest) != 1 || rest[0] != 0xFF {
		t.Fatalf("rest = %v, want [0xFF]", rest)
	}
}

func TestReadNumericLittleEndian(t *testing.T) {
	le := Uint16()
	le.Endian = LittleEndian
	v, _, err := Read(le, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, _ := v.Uint()
	if n != 0x0201 {
		t.Fatalf("value = %#x, want 0x0201", n)
	}
}

func TestReadSignedNumericSignExtends(t *testing.T) {
	v, _, err := Read(Int8(), []byte{0xFF})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, _ := v.Int()
	if n != -1 {
		t.Fatalf("value = %d, want -1", n)
	}
}

func TestReadMagicMismatch(t *testing.T) {
	_, _, err := Read(MagicType([]byte{0xCA, 0xFE}), []byte{0xCA, 0xFF})
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrMagic {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrMagic}", err)
	}
}

// basicStructSchema builds a struct: magic "GS", a uint8 discriminant
// "kind" selecting between an array-of-uint16 and a fixed string body.
func basicStructSchema() *Type {
	return StructType(
		FieldDef{Name: "magic", Type: MagicType([]byte("GS"))},
		FieldDef{Name: "kind", Type: Uint8()},
		FieldDef{Name: "count", Type: Uint8()},
		FieldDef{Name: "body", Type: EnumType("kind", map[string]*Type{
			"0": ArrayType(Uint16(), nil, mustSize("count")),
			"1": StringType(LiteralSize(4), "ascii"),
		})},
	)
}

func mustSize(source string) *SizeExpr {
	s, err := CompiledSize(source)
	if err != nil {
		panic(err)
	}
	return s
}

func TestReadBasicStructWithMagicEnumArray(t *testing.T) {
	data := []byte("GS")
	data = append(data, 0x00, 0x02, 0x00, 0x0A, 0x00, 0x0B)
	v, rest, err := Read(basicStructSchema(), data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("rest = %v, want none", rest)
	}
	kind, _ := v.Field("kind")
	kn, _ := kind.Uint()
	if kn != 0 {
		t.Fatalf("kind = %d, want 0", kn)
	}
	body, ok := v.Field("body")
	if !ok {
		t.Fatal("missing body field")
	}
	elems, ok := body.Array()
	if !ok || len(elems) != 2 {
		t.Fatalf("body = %v, want a 2-element array", body.GoString())
	}
	e0, _ := elems[0].Uint()
	e1, _ := elems[1].Uint()
	if e0 != 0x0A || e1 != 0x0B {
		t.Fatalf("elems = %d, %d; want 10, 11", e0, e1)
	}
}

func TestReadBasicStructEnumStringBranch(t *testing.T) {
	data := []byte("GS")
	data = append(data, 0x01, 0x00)
	data = append(data, []byte("ABCD")...)
	v, _, err := Read(basicStructSchema(), data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body, _ := v.Field("body")
	s, ok := body.Str()
	if !ok || s != "ABCD" {
		t.Fatalf("body = %v, want string \"ABCD\"", body.GoString())
	}
}

func TestReadArraySizeAndLengthBothChecked(t *testing.T) {
	// Array of uint8, declared size=4 bytes AND length=4 elements: exact fit.
	arr := ArrayType(Uint8(), LiteralSize(4), LiteralSize(4))
	v, _, err := Read(arr, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	elems, _ := v.Array()
	if len(elems) != 4 {
		t.Fatalf("len(elems) = %d, want 4", len(elems))
	}
}

func TestReadArraySizeLengthMismatchIsSizeMismatch(t *testing.T) {
	// size says 4 bytes, but length says only 3 uint8 elements: 1 leftover byte.
	arr := ArrayType(Uint8(), LiteralSize(4), LiteralSize(3))
	_, _, err := Read(arr, []byte{1, 2, 3, 4})
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrSizeMismatch {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrSizeMismatch}", err)
	}
}

func checksumStructSchema() *Type {
	return StructType(
		FieldDef{Name: "start", Type: Uint8()},
		FieldDef{Name: "payload", Type: BinType(LiteralSize(3))},
		FieldDef{Name: "end", Type: Uint8()},
		FieldDef{Name: "sum", Type: ChecksumType(Sum8, "start", "end", "sum")},
	)
}

func TestReadChecksumRoundTrip(t *testing.T) {
	// start=0x01, payload=[2,3,4], end=0x05: window sum = 1+2+3+4+5=15=0x0F.
	data := []byte{0x01, 2, 3, 4, 0x05, 0x0F}
	v, _, err := Read(checksumStructSchema(), data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	sum, _ := v.Field("sum")
	n, _ := sum.Uint()
	if n != 0x0F {
		t.Fatalf("sum = %#x, want 0x0f", n)
	}
}

func TestReadChecksumMismatchIsChecksumError(t *testing.T) {
	data := []byte{0x01, 2, 3, 4, 0x05, 0x00}
	_, _, err := Read(checksumStructSchema(), data)
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrChecksum {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrChecksum}", err)
	}
}

func TestReadConverterPipeline(t *testing.T) {
	onRead := &ConverterSpec{
		BeforeValid: mustExpr("self >= 0"),
		Convert:     mustExpr("self * 2"),
		AfterValid:  mustExpr("self < 200"),
	}
	ct := ConverterType(Uint8(), onRead, nil)
	v, _, err := Read(ct, []byte{50})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	n, err := v.AsInt64()
	if err != nil || n != 100 {
		t.Fatalf("value = %v, %v; want 100", v.GoString(), err)
	}
}

func TestReadConverterBeforeValidFailure(t *testing.T) {
	onRead := &ConverterSpec{BeforeValid: mustExpr("self > 100")}
	ct := ConverterType(Uint8(), onRead, nil)
	_, _, err := Read(ct, []byte{50})
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrEvalExpr {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrEvalExpr}", err)
	}
}

func TestReadConverterAfterValidFailure(t *testing.T) {
	onRead := &ConverterSpec{
		Convert:    mustExpr("self * 10"),
		AfterValid: mustExpr("self < 100"),
	}
	ct := ConverterType(Uint8(), onRead, nil)
	_, _, err := Read(ct, []byte{50})
	ce, ok := err.(*CodecError)
	if !ok || ce.Kind != ErrEvalExpr {
		t.Fatalf("err = %v, want *CodecError{Kind: ErrEvalExpr}", err)
	}
}

func TestReadPreservesFloatIntDistinction(t *testing.T) {
	v, _, err := Read(Float64Type(), mustWrite(t, Float64Type(), Float(1.0)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Kind() != KindFloat {
		t.Fatalf("Kind() = %v, want float", v.Kind())
	}
	f, _ := v.Float()
	if f != 1.0 {
		t.Fatalf("value = %v, want 1.0", f)
	}
}

func TestReadEnumBoolDiscriminantViaConverter(t *testing.T) {
	// The converted (not the wire) value of "flag" selects the branch:
	// a boolean discriminant produced by a Converter, keyed via
	// strconv.FormatBool.
	schema := StructType(
		FieldDef{Name: "flag", Type: ConverterType(Uint8(), &ConverterSpec{Convert: mustExpr("self > 100")}, nil)},
		FieldDef{Name: "body", Type: EnumType("flag", map[string]*Type{
			"true":  Uint16(),
			"false": Uint8(),
		})},
	)
	v, _, err := Read(schema, []byte{200, 0x01, 0x02})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body, _ := v.Field("body")
	n, _ := body.Uint()
	if n != 0x0102 {
		t.Fatalf("body = %#x, want 0x0102 (the Uint16 branch)", n)
	}
}

func rangeKeyedEnumSchema() *Type {
	return StructType(
		FieldDef{Name: "count", Type: Uint8()},
		FieldDef{Name: "body", Type: EnumType("count", map[string]*Type{
			"0..10": Uint8(),
			"..":    Uint16(),
		})},
	)
}

func TestReadEnumRangeKeyedDiscriminant(t *testing.T) {
	v, _, err := Read(rangeKeyedEnumSchema(), []byte{5, 0x07})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body, _ := v.Field("body")
	n, _ := body.Uint()
	if n != 7 {
		t.Fatalf("body = %d, want 7 (the 0..10 Uint8 branch)", n)
	}
}

func TestReadEnumRangeKeyedDiscriminantFallsBackToDefault(t *testing.T) {
	v, _, err := Read(rangeKeyedEnumSchema(), []byte{99, 0x00, 0x01})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	body, _ := v.Field("body")
	n, _ := body.Uint()
	if n != 1 {
		t.Fatalf("body = %d, want 1 (the \"..\" Uint16 default branch)", n)
	}
}

func mustExpr(source string) *expr.Expr {
	e, err := expr.Parse(source)
	if err != nil {
		panic(err)
	}
	return e
}

func mustWrite(t *testing.T, typ *Type, v Value) []byte {
	t.Helper()
	b, err := Write(typ, v)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return b
}
