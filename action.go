package golem

import (
	"context"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/nevindra/golem/expr"
	"github.com/spf13/cast"
)

// SignalKind discriminates control signals flowing out of action handlers.
type SignalKind int

const (
	// SignalContinue lets the enclosing sequence proceed. Zero value.
	SignalContinue SignalKind = iota
	// SignalAbort stops the entire dispatch up to the event or command
	// boundary.
	SignalAbort
	// SignalReturn exits the current flow, optionally carrying a value.
	SignalReturn
	// SignalBreak exits the innermost loop.
	SignalBreak
)

// Signal is the control outcome of an action. The zero value is Continue.
type Signal struct {
	Kind   SignalKind
	Reason string // Abort only
	Value  any    // Return only
}

// Continue is the neutral signal.
func Continue() Signal { return Signal{} }

// AbortSignal stops the dispatch with an optional reason.
func AbortSignal(reason string) Signal { return Signal{Kind: SignalAbort, Reason: reason} }

// ReturnSignal exits the current flow with a value.
func ReturnSignal(v any) Signal { return Signal{Kind: SignalReturn, Value: v} }

// BreakSignal exits the innermost loop.
func BreakSignal() Signal { return Signal{Kind: SignalBreak} }

// Action is one tagged instruction from the document: the discriminator
// name, the optional when/error_handler meta fields, and the remaining
// action-specific config.
type Action struct {
	Name         string
	When         Condition
	ErrorHandler string // flow invoked on failure; empty = propagate
	Config       map[string]any
}

// DecodeAction converts a raw document map into an Action. The "action" key
// is the discriminator; "when" and "error_handler" are meta fields; every
// other key lands in Config untouched.
func DecodeAction(raw map[string]any) (Action, error) {
	name, _ := raw["action"].(string)
	if name == "" {
		return Action{}, &ValidationError{Field: "action", Msg: "missing action discriminator"}
	}
	a := Action{Name: name, Config: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "action":
		case "when":
			cond, err := DecodeCondition(v)
			if err != nil {
				return Action{}, err
			}
			a.When = cond
		case "error_handler":
			a.ErrorHandler = cast.ToString(v)
		default:
			a.Config[k] = v
		}
	}
	return a, nil
}

// DecodeActions converts a raw list (each element an action map) into a
// slice of Actions.
func DecodeActions(raw any) ([]Action, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if m, ok := raw.(map[string]any); ok {
			a, err := DecodeAction(m)
			if err != nil {
				return nil, err
			}
			return []Action{a}, nil
		}
		return nil, &ValidationError{Field: "actions", Msg: fmt.Sprintf("expected a list of actions, got %T", raw)}
	}
	out := make([]Action, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Field: "actions", Msg: fmt.Sprintf("action %d is %T, not an object", i, item)}
		}
		a, err := DecodeAction(m)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// HandlerFunc executes one action. It returns optional result data, a
// control signal, and an error. Handlers are registered once at startup.
type HandlerFunc func(ctx context.Context, inv *Invocation) (any, Signal, error)

// Invocation is what a handler receives: the action, the evaluation context,
// and accessors that evaluate expression-typed fields on demand.
type Invocation struct {
	Action Action
	Ctx    *ExecContext
	exec   *Executor
}

// Env flattens the evaluation context for expression evaluation.
func (inv *Invocation) Env() map[string]any { return inv.Ctx.Env() }

// Scope derives the scope IDs from the evaluation context.
func (inv *Invocation) Scope() ScopeRef { return ScopeFromEnv(inv.Env()) }

// Executor returns the executor running this invocation; flow-control
// handlers use it to dispatch nested action lists.
func (inv *Invocation) Executor() *Executor { return inv.exec }

// Raw returns a config field without evaluation.
func (inv *Invocation) Raw(field string) (any, bool) {
	v, ok := inv.Action.Config[field]
	return v, ok
}

// Value evaluates a config field: strings go through template evaluation
// (preserving the type of single-expression templates), lists and maps are
// walked recursively, everything else passes through.
func (inv *Invocation) Value(field string) (any, error) {
	raw, ok := inv.Action.Config[field]
	if !ok {
		return nil, nil
	}
	return inv.exec.evalValue(raw, inv.Env())
}

// String evaluates a config field and coerces the result to a string.
func (inv *Invocation) String(field string) (string, error) {
	v, err := inv.Value(field)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return expr.ToString(v), nil
}

// Float evaluates a numeric config field, falling back to def when absent.
func (inv *Invocation) Float(field string, def float64) (float64, error) {
	v, err := inv.Value(field)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return def, nil
	}
	if n, ok := expr.ToNumber(v); ok {
		return n, nil
	}
	return cast.ToFloat64E(v)
}

// Int evaluates an integer config field, falling back to def when absent.
func (inv *Invocation) Int(field string, def int) (int, error) {
	f, err := inv.Float(field, float64(def))
	return int(f), err
}

// Bool evaluates a boolean config field with expression truthiness.
func (inv *Invocation) Bool(field string, def bool) (bool, error) {
	v, err := inv.Value(field)
	if err != nil {
		return false, err
	}
	if v == nil {
		return def, nil
	}
	return expr.Truthy(v), nil
}

// Duration evaluates a duration-literal config field ("250ms", "5s", "10m",
// "2h"), falling back to def when absent or unparseable.
func (inv *Invocation) Duration(field string, def time.Duration) time.Duration {
	s, err := inv.String(field)
	if err != nil || s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Decode maps the whole config into a typed struct via mapstructure. Fields
// are not expression-evaluated; use the accessors for expression-typed
// fields.
func (inv *Invocation) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return &RuntimeError{Kind: RuntimeBadAction, Msg: err.Error()}
	}
	if err := dec.Decode(inv.Action.Config); err != nil {
		return &RuntimeError{Kind: RuntimeBadAction, Msg: fmt.Sprintf("%s: %v", inv.Action.Name, err)}
	}
	return nil
}
