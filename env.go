package binschema

import "github.com/latticeware/binschema/expr"

// frame is one lexical scope of the reference environment: an
// insertion-ordered set of field bindings, mirroring the way a Struct
// node's fields are bound as they are read or written.
type frame struct {
	order []string
	vals  map[string]Value
}

func newFrame() *frame {
	return &frame{vals: make(map[string]Value)}
}

func (f *frame) bind(name string, v Value) {
	if _, exists := f.vals[name]; !exists {
		f.order = append(f.order, name)
	}
	f.vals[name] = v
}

func (f *frame) lookup(name string) (Value, bool) {
	v, ok := f.vals[name]
	return v, ok
}

// Environment is the reference environment threaded through the read
// and write engines: a stack of frames, one pushed per Struct being
// processed (Array nodes push none), searched innermost-to-outermost so a
// SizeExpr or Enum discriminant can name a sibling field in its own
// struct or, failing that, a field further up the nesting chain.
type Environment struct {
	frames []*frame
}

// NewEnvironment returns an empty environment with one root frame.
func NewEnvironment() *Environment {
	return &Environment{frames: []*frame{newFrame()}}
}

// Push opens a new innermost scope.
func (e *Environment) Push() {
	e.frames = append(e.frames, newFrame())
}

// Pop closes the innermost scope.
func (e *Environment) Pop() {
	e.frames = e.frames[:len(e.frames)-1]
}

// Bind binds name to v in the innermost scope.
func (e *Environment) Bind(name string, v Value) {
	e.frames[len(e.frames)-1].bind(name, v)
}

// Lookup searches from the innermost scope outward.
func (e *Environment) Lookup(name string) (Value, bool) {
	for i := len(e.frames) - 1; i >= 0; i-- {
		if v, ok := e.frames[i].lookup(name); ok {
			return v, true
		}
	}
	return Value{}, false
}

// envAdapter satisfies expr.Env over an *Environment, converting the
// document Value model to the expression language's own value model at
// the lookup boundary.
type envAdapter struct {
	env *Environment
}

func (a envAdapter) Lookup(name string) (expr.Value, bool) {
	v, ok := a.env.Lookup(name)
	if !ok {
		return expr.Value{}, false
	}
	return toExprValue(v)
}

func toExprValue(v Value) (expr.Value, bool) {
	switch v.Kind() {
	case KindInt:
		n, _ := v.Int()
		return expr.Int(n), true
	case KindUint:
		n, _ := v.Uint()
		return expr.Uint(n), true
	case KindFloat:
		f, _ := v.Float()
		return expr.Float(f), true
	case KindBool:
		b, _ := v.Bool()
		return expr.Bool(b), true
	case KindString:
		s, _ := v.Str()
		return expr.String(s), true
	default:
		return expr.Value{}, false
	}
}
