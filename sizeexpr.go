package binschema

import (
	"strconv"

	"github.com/latticeware/binschema/expr"
)

// SizeExpr is a schema-time size or length: either a fixed literal or
// a compiled expression evaluated against the current [Environment].
// The schema text format accepts a size as either a JSON integer or a
// JSON string. There is no separate "field reference" form: every
// string is parsed as an expression, and a bare identifier such as
// "len" is simply an expression consisting of one identifier whose
// evaluation looks the name up in the environment. Field references
// and arithmetic expressions therefore share one code path; a string
// that is not a valid expression (for example a field name containing
// characters outside [A-Za-z0-9_]) is rejected by CompiledSize.
type SizeExpr struct {
	literal  *int64
	compiled *expr.Expr
}

// LiteralSize returns a SizeExpr fixed to n.
func LiteralSize(n int64) *SizeExpr {
	return &SizeExpr{literal: &n}
}

// CompiledSize parses source as an expression (a bare field name is a
// valid one-token expression) and returns a SizeExpr that evaluates it
// against the environment at resolve time.
func CompiledSize(source string) (*SizeExpr, error) {
	e, err := expr.Parse(source)
	if err != nil {
		return nil, newErr(ErrSchema, "invalid size expression %q: %v", source, err)
	}
	return &SizeExpr{compiled: e}, nil
}

// Resolve computes the size as a non-negative int64 against env.
func (s *SizeExpr) Resolve(env *Environment) (int64, error) {
	if s == nil {
		return 0, newErr(ErrSchema, "size expression is required")
	}
	if s.literal != nil {
		return *s.literal, nil
	}
	v, err := s.compiled.Eval(envAdapter{env})
	if err != nil {
		return 0, newErr(ErrEvalExpr, "%v", err)
	}
	n, err := v.AsInt64()
	if err != nil {
		return 0, newErr(ErrEvalExpr, "size expression %q: %v", s.compiled.String(), err)
	}
	if n < 0 {
		return 0, newErr(ErrSizeMismatch, "size expression %q evaluated to negative value %d", s.compiled.String(), n)
	}
	return n, nil
}

// FieldRef reports whether s is a plain reference to a sibling field
// name (as opposed to a literal or a compound expression), returning
// that name.
func (s *SizeExpr) FieldRef() (string, bool) {
	if s == nil || s.compiled == nil {
		return "", false
	}
	return s.compiled.AsIdent()
}

// literalOrZero reports whether s holds a fixed literal (as opposed to
// a compiled expression) and returns it, for schema text emission.
func (s *SizeExpr) literalOrZero() (int64, bool) {
	if s == nil || s.literal == nil {
		return 0, false
	}
	return *s.literal, true
}

// String returns the expression source, or the literal in decimal.
func (s *SizeExpr) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.literal != nil {
		return strconv.FormatInt(*s.literal, 10)
	}
	return s.compiled.String()
}
