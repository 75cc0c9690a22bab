package binschema

import "testing"

func TestChecksumMethodWidth(t *testing.T) {
	cases := []struct {
		method ChecksumMethod
		want   int
	}{
		{Sum8, 1}, {Xor8, 1}, {Complement, 1},
		{Sum16, 2},
		{Sum32, 4}, {Crc32, 4},
	}
	for _, c := range cases {
		if got := c.method.Width(); got != c.want {
			t.Errorf("%v.Width() = %d, want %d", c.method, got, c.want)
		}
	}
}

func TestNumericConstructors(t *testing.T) {
	if u := Uint16(); u.Kind != KindNumeric || u.BitWidth != 16 || u.Signed {
		t.Fatalf("Uint16() = %+v", u)
	}
	if i := Int32(); i.Kind != KindNumeric || i.BitWidth != 32 || !i.Signed {
		t.Fatalf("Int32() = %+v", i)
	}
	if f := Float64Type(); f.Kind != KindNumeric || !f.IsFloat || f.BitWidth != 64 {
		t.Fatalf("Float64Type() = %+v", f)
	}
}

func TestStructTypePreservesFieldOrder(t *testing.T) {
	st := StructType(
		FieldDef{Name: "a", Type: Uint8()},
		FieldDef{Name: "b", Type: Uint16()},
	)
	if len(st.Fields) != 2 || st.Fields[0].Name != "a" || st.Fields[1].Name != "b" {
		t.Fatalf("StructType field order not preserved: %+v", st.Fields)
	}
}
