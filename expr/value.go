package expr

import (
	"fmt"
	"math/big"
)

// ValueKind identifies the tag of an evaluated [Value].
type ValueKind int

const (
	KindNumber ValueKind = iota
	KindBool
	KindString
)

// Value is the result of evaluating an expression, or a value bound
// into an [Env] for lookup. Numbers are held as exact rationals so
// arithmetic never loses integer exactness in the i64 range or a
// float operand's significant digits.
type Value struct {
	Kind ValueKind
	Num  *big.Rat
	Bool bool
	Str  string
}

// Number wraps r as a numeric Value.
func Number(r *big.Rat) Value { return Value{Kind: KindNumber, Num: r} }

// Int wraps an int64 as an exact numeric Value.
func Int(n int64) Value { return Value{Kind: KindNumber, Num: new(big.Rat).SetInt64(n)} }

// Uint wraps a uint64 as an exact numeric Value.
func Uint(n uint64) Value {
	return Value{Kind: KindNumber, Num: new(big.Rat).SetInt(new(big.Int).SetUint64(n))}
}

// Float wraps a float64 as an exact numeric Value (the IEEE-754 value
// is itself an exact rational; no precision is discarded converting it
// to *big.Rat).
func Float(f float64) Value {
	r := new(big.Rat)
	r.SetFloat64(f)
	return Value{Kind: KindNumber, Num: r}
}

// Bool wraps a boolean as a Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// String wraps a string as a Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// AsFloat64 converts a numeric Value to float64 at the caller's
// boundary.
func (v Value) AsFloat64() (float64, error) {
	if v.Kind != KindNumber {
		return 0, fmt.Errorf("expr: expected number, got %s", v.kindName())
	}
	f, _ := v.Num.Float64()
	return f, nil
}

// AsInt64 converts a numeric Value to int64, requiring it be an exact
// integer (denominator 1).
func (v Value) AsInt64() (int64, error) {
	if v.Kind != KindNumber {
		return 0, fmt.Errorf("expr: expected number, got %s", v.kindName())
	}
	if !v.Num.IsInt() {
		return 0, fmt.Errorf("expr: value %s is not an integer", v.Num.RatString())
	}
	i := v.Num.Num()
	if !i.IsInt64() {
		return 0, fmt.Errorf("expr: value %s overflows int64", v.Num.RatString())
	}
	return i.Int64(), nil
}

// AsBool converts a Value to bool, requiring KindBool.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, fmt.Errorf("expr: expected bool, got %s", v.kindName())
	}
	return v.Bool, nil
}

func (v Value) kindName() string {
	switch v.Kind {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Env resolves named variables (field references and "self") during
// evaluation.
type Env interface {
	Lookup(name string) (Value, bool)
}

// MapEnv is a trivial Env backed by a map, mainly useful for tests and
// for binding a lone "self".
type MapEnv map[string]Value

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}
