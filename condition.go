package golem

import (
	"fmt"

	"github.com/nevindra/golem/expr"
)

// Condition gates handler and action execution. The document model accepts a
// bare expression string or a composite {all: [...]}, {any: [...]},
// {not: ...} object; every variant is evaluated, so no shape is
// unconditionally true.
type Condition interface {
	Eval(ev *expr.Evaluator, env map[string]any) (bool, error)
}

// ExprCondition evaluates a sandboxed expression and applies truthiness.
type ExprCondition string

func (c ExprCondition) Eval(ev *expr.Evaluator, env map[string]any) (bool, error) {
	v, err := ev.Evaluate(string(c), env)
	if err != nil {
		return false, err
	}
	return expr.Truthy(v), nil
}

// AllOf is true when every member is true. Empty is true.
type AllOf []Condition

func (c AllOf) Eval(ev *expr.Evaluator, env map[string]any) (bool, error) {
	for _, sub := range c {
		ok, err := sub.Eval(ev, env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// AnyOf is true when at least one member is true. Empty is false.
type AnyOf []Condition

func (c AnyOf) Eval(ev *expr.Evaluator, env map[string]any) (bool, error) {
	for _, sub := range c {
		ok, err := sub.Eval(ev, env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// NotOf negates its inner condition.
type NotOf struct {
	C Condition
}

func (c NotOf) Eval(ev *expr.Evaluator, env map[string]any) (bool, error) {
	ok, err := c.C.Eval(ev, env)
	return !ok, err
}

// boolCondition is a literal true/false from the document.
type boolCondition bool

func (c boolCondition) Eval(*expr.Evaluator, map[string]any) (bool, error) {
	return bool(c), nil
}

// DecodeCondition converts a raw document value into a Condition. nil input
// yields nil (no gate).
func DecodeCondition(v any) (Condition, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return boolCondition(x), nil
	case string:
		return ExprCondition(x), nil
	case Condition:
		return x, nil
	case map[string]any:
		if len(x) != 1 {
			return nil, &ValidationError{Field: "when", Msg: "composite condition must have exactly one of all/any/not"}
		}
		for op, inner := range x {
			switch op {
			case "all", "any":
				items, ok := inner.([]any)
				if !ok {
					return nil, &ValidationError{Field: "when", Msg: op + " requires a list of conditions"}
				}
				subs := make([]Condition, 0, len(items))
				for _, item := range items {
					sub, err := DecodeCondition(item)
					if err != nil {
						return nil, err
					}
					subs = append(subs, sub)
				}
				if op == "all" {
					return AllOf(subs), nil
				}
				return AnyOf(subs), nil
			case "not":
				sub, err := DecodeCondition(inner)
				if err != nil {
					return nil, err
				}
				return NotOf{C: sub}, nil
			default:
				return nil, &ValidationError{Field: "when", Msg: "unknown condition operator " + op}
			}
		}
	}
	return nil, &ValidationError{Field: "when", Msg: fmt.Sprintf("cannot decode condition from %T", v)}
}
