// Package binschema implements a bidirectional, schema-driven codec
// between binary byte/bit streams and a structured document model.
//
// A [Type] tree describes a binary layout: fixed-width integers and
// floats, byte and string runs, magic constants, structs, arrays,
// discriminated unions, and wrapper nodes for checksums, validating
// converters, encryption and signatures. [Read] walks a Type against a
// byte slice and produces a [Value]; [Write] walks a Type against a
// Value and produces bytes. The two walks are isomorphic: write mirrors
// read, field by field, rebuilding the same evaluation environment used
// to resolve inter-field references (sizes, lengths, discriminants).
//
// Schemas are themselves data: [ParseSchema] loads a Type tree from a
// small JSON-tagged text form, and [EmitSchema] renders one back out.
package binschema

import "fmt"

// Kind identifies the tag of a [Value].
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field is a single name/value pair in an [Object], kept in insertion
// order so that a re-emitted document matches the field order of the
// schema that produced it.
type Field struct {
	Name  string
	Value Value
}

// Value is the tagged document value produced by [Read] and consumed by
// [Write]. Only the field matching Kind is meaningful; the zero Value is
// KindNull.
type Value struct {
	kind Kind

	boolVal   bool
	intVal    int64
	uintVal   uint64
	floatVal  float64
	strVal    string
	bytesVal  []byte
	arrayVal  []Value
	objectVal []Field
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolVal: b} }

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, intVal: v} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: KindUint, uintVal: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, floatVal: v} }

// Str returns a string value.
func Str(v string) Value { return Value{kind: KindString, strVal: v} }

// Bin returns a byte-string value.
func Bin(v []byte) Value { return Value{kind: KindBytes, bytesVal: v} }

// Array returns an ordered array value.
func Array(vs ...Value) Value { return Value{kind: KindArray, arrayVal: vs} }

// Object returns an insertion-ordered object value.
func Object(fields ...Field) Value { return Value{kind: KindObject, objectVal: fields} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; ok is false if v is not KindBool.
func (v Value) Bool() (b bool, ok bool) { return v.boolVal, v.kind == KindBool }

// Int returns the signed-integer payload; ok is false if v is not KindInt.
func (v Value) Int() (n int64, ok bool) { return v.intVal, v.kind == KindInt }

// Uint returns the unsigned-integer payload; ok is false if v is not KindUint.
func (v Value) Uint() (n uint64, ok bool) { return v.uintVal, v.kind == KindUint }

// Float returns the float payload; ok is false if v is not KindFloat.
func (v Value) Float() (f float64, ok bool) { return v.floatVal, v.kind == KindFloat }

// Str returns the string payload; ok is false if v is not KindString.
func (v Value) Str() (s string, ok bool) { return v.strVal, v.kind == KindString }

// Bin returns the byte-string payload; ok is false if v is not KindBytes.
func (v Value) Bin() (b []byte, ok bool) { return v.bytesVal, v.kind == KindBytes }

// Array returns the element slice; ok is false if v is not KindArray.
func (v Value) Array() (vs []Value, ok bool) { return v.arrayVal, v.kind == KindArray }

// Object returns the field slice; ok is false if v is not KindObject.
func (v Value) Object() (fs []Field, ok bool) { return v.objectVal, v.kind == KindObject }

// Field looks up a field by name on an object value. The second return
// is false if v is not an object or has no such field.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.objectVal {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// AsNumber coerces v to a float64, accepting KindInt, KindUint and
// KindFloat. The write engine uses it to encode a float field from a
// document value of any numeric kind.
func (v Value) AsNumber() (float64, error) {
	switch v.kind {
	case KindInt:
		return float64(v.intVal), nil
	case KindUint:
		return float64(v.uintVal), nil
	case KindFloat:
		return v.floatVal, nil
	default:
		return 0, fmt.Errorf("binschema: value of kind %s is not numeric", v.kind)
	}
}

// AsInt64 coerces v to an int64, accepting KindInt and KindUint (with
// range checking) and integer-valued KindFloat.
func (v Value) AsInt64() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.intVal, nil
	case KindUint:
		if v.uintVal > (1<<63 - 1) {
			return 0, fmt.Errorf("binschema: uint value %d overflows int64", v.uintVal)
		}
		return int64(v.uintVal), nil
	case KindFloat:
		if v.floatVal != float64(int64(v.floatVal)) {
			return 0, fmt.Errorf("binschema: float value %v is not integral", v.floatVal)
		}
		return int64(v.floatVal), nil
	default:
		return 0, fmt.Errorf("binschema: value of kind %s is not an integer", v.kind)
	}
}

// GoString renders v for debugging.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("bool(%v)", v.boolVal)
	case KindInt:
		return fmt.Sprintf("int(%d)", v.intVal)
	case KindUint:
		return fmt.Sprintf("uint(%d)", v.uintVal)
	case KindFloat:
		return fmt.Sprintf("float(%v)", v.floatVal)
	case KindString:
		return fmt.Sprintf("string(%q)", v.strVal)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bytesVal))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arrayVal))
	case KindObject:
		return fmt.Sprintf("object(%d)", len(v.objectVal))
	default:
		return "invalid"
	}
}
