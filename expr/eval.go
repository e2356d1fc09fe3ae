package expr

import "math"

// eval walks the AST against env. src travels along for error excerpts.
func (e *Evaluator) eval(n node, src string, env map[string]any) (any, error) {
	switch x := n.(type) {
	case *numberNode:
		return x.val, nil
	case *stringNode:
		return x.val, nil
	case *boolNode:
		return x.val, nil
	case *nullNode:
		return nil, nil

	case *identNode:
		if v, ok := env[x.name]; ok {
			return v, nil
		}
		return nil, errf(ErrReference, src, x.pos, "unknown name %q", x.name)

	case *memberNode:
		obj, err := e.eval(x.obj, src, env)
		if err != nil {
			return nil, err
		}
		key, err := e.eval(x.key, src, env)
		if err != nil {
			return nil, err
		}
		return Member(obj, key), nil

	case *callNode:
		fn, ok := builtins[x.name]
		if !ok {
			return nil, errf(ErrReference, src, x.pos, "unknown function %q", x.name)
		}
		args := make([]any, len(x.args))
		for i, a := range x.args {
			v, err := e.eval(a, src, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		v, err := fn(e, args)
		if err != nil {
			if ee, ok := err.(*Error); ok {
				if ee.Excerpt == "" {
					ee.Excerpt = excerpt(src, x.pos)
				}
				return nil, ee
			}
			return nil, errf(ErrType, src, x.pos, "%s: %v", x.name, err)
		}
		return v, nil

	case *unaryNode:
		v, err := e.eval(x.operand, src, env)
		if err != nil {
			return nil, err
		}
		switch x.op {
		case tokNot:
			return !Truthy(v), nil
		case tokMinus:
			if n, ok := ToNumber(v); ok {
				return -n, nil
			}
			return math.NaN(), nil
		}
		return nil, errf(ErrParse, src, x.pos, "bad unary operator")

	case *binaryNode:
		return e.evalBinary(x, src, env)

	case *ternaryNode:
		cond, err := e.eval(x.cond, src, env)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return e.eval(x.then, src, env)
		}
		return e.eval(x.els, src, env)

	case *arrayNode:
		out := make([]any, len(x.elems))
		for i, el := range x.elems {
			v, err := e.eval(el, src, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *objectNode:
		out := make(map[string]any, len(x.fields))
		for _, f := range x.fields {
			v, err := e.eval(f.val, src, env)
			if err != nil {
				return nil, err
			}
			out[f.key] = v
		}
		return out, nil
	}
	return nil, &Error{Kind: ErrParse, Msg: "unknown node"}
}

// evalBinary applies a binary operator. && and || short-circuit and return
// the deciding operand (so "a || b" doubles as a default operator), == is
// deep equality, comparisons order numbers numerically and strings
// lexicographically, and + concatenates when either side is a string.
func (e *Evaluator) evalBinary(x *binaryNode, src string, env map[string]any) (any, error) {
	// Short-circuit forms first.
	switch x.op {
	case tokAnd:
		left, err := e.eval(x.left, src, env)
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return left, nil
		}
		return e.eval(x.right, src, env)
	case tokOr:
		left, err := e.eval(x.left, src, env)
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return left, nil
		}
		return e.eval(x.right, src, env)
	}

	left, err := e.eval(x.left, src, env)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(x.right, src, env)
	if err != nil {
		return nil, err
	}

	switch x.op {
	case tokEq:
		return Equal(left, right), nil
	case tokNeq:
		return !Equal(left, right), nil

	case tokLt, tokLte, tokGt, tokGte:
		return compare(x.op, left, right), nil

	case tokPlus:
		if ls, ok := left.(string); ok {
			return ls + ToString(right), nil
		}
		if rs, ok := right.(string); ok {
			return ToString(left) + rs, nil
		}
		return arith(x.op, left, right), nil

	case tokMinus, tokStar, tokSlash, tokPercent:
		return arith(x.op, left, right), nil
	}
	return nil, errf(ErrParse, src, x.pos, "bad binary operator")
}

// arith applies a numeric operator. Non-numeric operands become NaN, and
// division by zero follows IEEE-754 (±Inf, or NaN for 0/0).
func arith(op tokenKind, left, right any) float64 {
	a, aok := ToNumber(left)
	b, bok := ToNumber(right)
	if !aok || !bok {
		return math.NaN()
	}
	switch op {
	case tokPlus:
		return a + b
	case tokMinus:
		return a - b
	case tokStar:
		return a * b
	case tokSlash:
		return a / b
	case tokPercent:
		return math.Mod(a, b)
	}
	return math.NaN()
}

// compare orders two values. Numbers compare numerically, strings
// lexicographically; any other combination is unordered and yields false.
func compare(op tokenKind, left, right any) bool {
	ls, lIsStr := left.(string)
	rs, rIsStr := right.(string)
	if lIsStr && rIsStr {
		switch op {
		case tokLt:
			return ls < rs
		case tokLte:
			return ls <= rs
		case tokGt:
			return ls > rs
		case tokGte:
			return ls >= rs
		}
		return false
	}
	a, aok := ToNumber(left)
	b, bok := ToNumber(right)
	if !aok || !bok {
		return false
	}
	switch op {
	case tokLt:
		return a < b
	case tokLte:
		return a <= b
	case tokGt:
		return a > b
	case tokGte:
		return a >= b
	}
	return false
}
