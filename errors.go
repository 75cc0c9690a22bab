package binschema

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies a [CodecError] by cause.
type ErrorKind uint8

const (
	ErrTruncation ErrorKind = iota
	ErrMagic
	ErrSizeMismatch
	ErrEnum
	ErrEncoding
	ErrRange
	ErrMissingField
	ErrEvalExpr
	ErrChecksum
	ErrSecure
	ErrSchema
)

// String returns the error kind's name.
func (k ErrorKind) String() string {
	switch k {
	case ErrTruncation:
		return "Truncation"
	case ErrMagic:
		return "MagicError"
	case ErrSizeMismatch:
		return "SizeMismatch"
	case ErrEnum:
		return "EnumError"
	case ErrEncoding:
		return "EncodingError"
	case ErrRange:
		return "RangeError"
	case ErrMissingField:
		return "MissingField"
	case ErrEvalExpr:
		return "EvalExprError"
	case ErrChecksum:
		return "ChecksumError"
	case ErrSecure:
		return "SecureError"
	case ErrSchema:
		return "SchemaError"
	default:
		return "UnknownError"
	}
}

// PathElement is one breadcrumb segment on a [CodecError]: either a
// struct field name or an array index.
type PathElement struct {
	Field string // set when this segment is a struct field
	Index int    // set (Field == "") when this segment is an array index
	IsIdx bool
}

func fieldElem(name string) PathElement { return PathElement{Field: name} }
func indexElem(i int) PathElement       { return PathElement{Index: i, IsIdx: true} }

func (p PathElement) String() string {
	if p.IsIdx {
		return "[" + strconv.Itoa(p.Index) + "]"
	}
	return p.Field
}

// CodecError is the error type returned by every read/write engine
// entry point. It wraps a specific ErrorKind and a breadcrumb Path
// naming the field/array-index chain from the root of the schema down
// to the node that failed, prepended to by each enclosing Struct (field
// name) or Array (element index) node as the error propagates back up
// the call stack. Enum nodes add no path element.
type CodecError struct {
	Kind ErrorKind
	Path []PathElement
	Err  error
}

func (e *CodecError) Error() string {
	loc := e.pathString()
	if loc == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, loc, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) pathString() string {
	if len(e.Path) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range e.Path {
		if i > 0 && !p.IsIdx {
			b.WriteByte('.')
		}
		b.WriteString(p.String())
	}
	return b.String()
}

// prepend returns a copy of e with elem inserted at the front of the
// path, used as each enclosing node re-raises an error from a child.
func (e *CodecError) prepend(elem PathElement) *CodecError {
	path := make([]PathElement, 0, len(e.Path)+1)
	path = append(path, elem)
	path = append(path, e.Path...)
	return &CodecError{Kind: e.Kind, Path: path, Err: e.Err}
}

func newErr(kind ErrorKind, format string, args ...any) *CodecError {
	return &CodecError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// wrapPath prepends elem to err's path if err is a *CodecError,
// otherwise leaves it untouched (used at package boundaries where a
// non-CodecError, e.g. from a user-supplied SecureKey, escapes).
func wrapPath(err error, elem PathElement) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CodecError); ok {
		return ce.prepend(elem)
	}
	return err
}
