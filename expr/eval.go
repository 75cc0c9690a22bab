package expr

import (
	"fmt"
	"math/big"
	"strings"
)

func (n *numberLit) eval(env Env) (Value, error) {
	r, ok := new(big.Rat).SetString(n.text)
	if !ok {
		return Value{}, fmt.Errorf("expr: invalid numeric literal %q", n.text)
	}
	return Number(r), nil
}

func (n *boolLit) eval(env Env) (Value, error) {
	return Bool(n.v), nil
}

func (n *identRef) eval(env Env) (Value, error) {
	v, ok := env.Lookup(n.name)
	if !ok {
		return Value{}, fmt.Errorf("expr: unbound name %q", n.name)
	}
	return v, nil
}

func (n *unaryOp) eval(env Env) (Value, error) {
	v, err := n.expr.eval(env)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case tokMinus:
		if v.Kind != KindNumber {
			return Value{}, fmt.Errorf("expr: unary '-' requires a number, got %s", v.kindName())
		}
		return Number(new(big.Rat).Neg(v.Num)), nil
	case tokNot:
		if v.Kind != KindBool {
			return Value{}, fmt.Errorf("expr: unary '!' requires a bool, got %s", v.kindName())
		}
		return Bool(!v.Bool), nil
	default:
		return Value{}, fmt.Errorf("expr: unsupported unary operator")
	}
}

func (n *binaryOp) eval(env Env) (Value, error) {
	switch n.op {
	case tokAnd, tokOr:
		return n.evalLogical(env)
	case tokEQ, tokNE, tokLT, tokLE, tokGT, tokGE:
		return n.evalComparison(env)
	default:
		return n.evalArithmetic(env)
	}
}

func (n *binaryOp) evalLogical(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	lb, err := l.AsBool()
	if err != nil {
		return Value{}, err
	}
	if n.op == tokAnd && !lb {
		return Bool(false), nil
	}
	if n.op == tokOr && lb {
		return Bool(true), nil
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}
	rb, err := r.AsBool()
	if err != nil {
		return Value{}, err
	}
	return Bool(rb), nil
}

func (n *binaryOp) evalArithmetic(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}
	if l.Kind != KindNumber || r.Kind != KindNumber {
		return Value{}, fmt.Errorf("expr: arithmetic requires numbers, got %s and %s", l.kindName(), r.kindName())
	}
	out := new(big.Rat)
	switch n.op {
	case tokPlus:
		out.Add(l.Num, r.Num)
	case tokMinus:
		out.Sub(l.Num, r.Num)
	case tokStar:
		out.Mul(l.Num, r.Num)
	case tokSlash:
		if r.Num.Sign() == 0 {
			return Value{}, fmt.Errorf("expr: division by zero")
		}
		out.Quo(l.Num, r.Num)
	case tokPercent:
		return evalModulo(l.Num, r.Num)
	default:
		return Value{}, fmt.Errorf("expr: unsupported arithmetic operator")
	}
	return Number(out), nil
}

// evalModulo implements % for integer-valued operands (the only case
// the schema language needs it for: bit-width and count arithmetic).
func evalModulo(l, r *big.Rat) (Value, error) {
	if !l.IsInt() || !r.IsInt() {
		return Value{}, fmt.Errorf("expr: '%%' requires integer operands")
	}
	if r.Num().Sign() == 0 {
		return Value{}, fmt.Errorf("expr: division by zero")
	}
	m := new(big.Int).Mod(l.Num(), r.Num())
	return Number(new(big.Rat).SetInt(m)), nil
}

func (n *binaryOp) evalComparison(env Env) (Value, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return Value{}, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return Value{}, err
	}

	// Numbers and strings support every comparison operator; booleans
	// support only == and !=. Mixed kinds are an error.
	switch {
	case l.Kind == KindString && r.Kind == KindString:
		cmp := strings.Compare(l.Str, r.Str)
		return Bool(compareResult(n.op, cmp)), nil
	case l.Kind == KindBool && r.Kind == KindBool:
		if n.op != tokEQ && n.op != tokNE {
			return Value{}, fmt.Errorf("expr: booleans only support == and !=")
		}
		eq := l.Bool == r.Bool
		if n.op == tokEQ {
			return Bool(eq), nil
		}
		return Bool(!eq), nil
	case l.Kind == KindNumber && r.Kind == KindNumber:
		cmp := l.Num.Cmp(r.Num)
		return Bool(compareResult(n.op, cmp)), nil
	default:
		return Value{}, fmt.Errorf("expr: cannot compare %s and %s", l.kindName(), r.kindName())
	}
}

func compareResult(op tokenKind, cmp int) bool {
	switch op {
	case tokEQ:
		return cmp == 0
	case tokNE:
		return cmp != 0
	case tokLT:
		return cmp < 0
	case tokLE:
		return cmp <= 0
	case tokGT:
		return cmp > 0
	case tokGE:
		return cmp >= 0
	default:
		return false
	}
}
