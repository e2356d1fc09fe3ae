package golem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nevindra/golem/expr"
)

// Flow is a named, parameterized action list callable via call_flow. Its
// return action's value surfaces to the caller.
type Flow struct {
	Name    string
	Params  []FlowParam
	Actions []Action
}

// FlowParam declares one flow parameter with an optional type check and
// default.
type FlowParam struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Required bool   `mapstructure:"required"`
	Default  any    `mapstructure:"default"`
}

const defaultMaxLoopIterations = 1000

type callDepthKey struct{}

// runFlow executes a flow body, converting its Return signal into a value.
// Abort propagates. Recursion is bounded by the executor's call depth.
func (e *Executor) runFlow(ctx context.Context, f Flow, ec *ExecContext) (any, Signal, error) {
	depth, _ := ctx.Value(callDepthKey{}).(int)
	if depth >= e.maxCallDepth {
		return nil, Continue(), &RuntimeError{Kind: RuntimeCallDepth, Msg: fmt.Sprintf("flow %s exceeds call depth %d", f.Name, e.maxCallDepth)}
	}
	ctx = context.WithValue(ctx, callDepthKey{}, depth+1)
	sig, err := e.ExecuteSequence(ctx, f.Actions, ec)
	if err != nil {
		return nil, Continue(), err
	}
	if sig.Kind == SignalReturn {
		return sig.Value, Continue(), nil
	}
	return nil, sig, nil
}

// registerFlowActions installs the structured control actions. They are part
// of every executor; the rest of the catalog is wired by the runtime.
func registerFlowActions(e *Executor) {
	e.MustRegister("flow_if", flowIf)
	e.MustRegister("flow_switch", flowSwitch)
	e.MustRegister("flow_while", flowWhile)
	e.MustRegister("repeat", flowRepeat)
	e.MustRegister("parallel", flowParallel)
	e.MustRegister("batch", flowBatch)
	e.MustRegister("try", flowTry)
	e.MustRegister("call_flow", callFlow)
	e.MustRegister("abort", flowAbort)
	e.MustRegister("return", flowReturn)
}

// flowIf runs then/else on a child context; only the branch that actually
// ran merges its writes back.
func flowIf(ctx context.Context, inv *Invocation) (any, Signal, error) {
	condRaw, _ := inv.Raw("cond")
	cond, err := DecodeCondition(condRaw)
	if err != nil {
		return nil, Continue(), err
	}
	if cond == nil {
		return nil, Continue(), &ValidationError{Field: "cond", Msg: "flow_if requires cond"}
	}
	ok, err := cond.Eval(inv.exec.ev, inv.Env())
	if err != nil {
		return nil, Continue(), err
	}

	branchKey := "then"
	if !ok {
		branchKey = "else"
	}
	raw, present := inv.Raw(branchKey)
	if !present {
		return nil, Continue(), nil
	}
	branch, err := DecodeActions(raw)
	if err != nil {
		return nil, Continue(), err
	}
	child := inv.Ctx.Child()
	sig, err := inv.exec.ExecuteSequence(ctx, branch, child)
	if err != nil {
		return nil, Continue(), err
	}
	child.MergeInto(inv.Ctx)
	return nil, sig, nil
}

// flowSwitch stringifies value and matches it against case keys.
func flowSwitch(ctx context.Context, inv *Invocation) (any, Signal, error) {
	val, err := inv.String("value")
	if err != nil {
		return nil, Continue(), err
	}
	cases, _ := inv.Raw("cases")
	caseMap, ok := cases.(map[string]any)
	if !ok {
		return nil, Continue(), &ValidationError{Field: "cases", Msg: "flow_switch requires a cases object"}
	}
	var raw any
	if branch, ok := caseMap[val]; ok {
		raw = branch
	} else if def, ok := inv.Raw("default"); ok {
		raw = def
	} else {
		return nil, Continue(), nil
	}
	actions, err := DecodeActions(raw)
	if err != nil {
		return nil, Continue(), err
	}
	sig, err := inv.exec.ExecuteSequence(ctx, actions, inv.Ctx)
	return nil, sig, err
}

// flowWhile re-evaluates cond before each iteration and fails with a
// loop_bound error when max_iterations (default 1000) is exceeded.
func flowWhile(ctx context.Context, inv *Invocation) (any, Signal, error) {
	condRaw, _ := inv.Raw("cond")
	cond, err := DecodeCondition(condRaw)
	if err != nil {
		return nil, Continue(), err
	}
	if cond == nil {
		return nil, Continue(), &ValidationError{Field: "cond", Msg: "flow_while requires cond"}
	}
	body, err := DecodeActions(inv.Action.Config["do"])
	if err != nil {
		return nil, Continue(), err
	}
	maxIter, err := inv.Int("max_iterations", defaultMaxLoopIterations)
	if err != nil {
		return nil, Continue(), err
	}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, Continue(), err
		}
		ok, err := cond.Eval(inv.exec.ev, inv.Env())
		if err != nil {
			return nil, Continue(), err
		}
		if !ok {
			return nil, Continue(), nil
		}
		if i >= maxIter {
			return nil, Continue(), &RuntimeError{Kind: RuntimeLoopBound, Msg: fmt.Sprintf("flow_while exceeded %d iterations", maxIter)}
		}
		sig, err := inv.exec.ExecuteSequence(ctx, body, inv.Ctx)
		if err != nil {
			return nil, Continue(), err
		}
		switch sig.Kind {
		case SignalBreak:
			return nil, Continue(), nil
		case SignalAbort, SignalReturn:
			return nil, sig, nil
		}
	}
}

// flowRepeat evaluates times once and binds the loop index as "index".
func flowRepeat(ctx context.Context, inv *Invocation) (any, Signal, error) {
	times, err := inv.Int("times", 0)
	if err != nil {
		return nil, Continue(), err
	}
	body, err := DecodeActions(inv.Action.Config["do"])
	if err != nil {
		return nil, Continue(), err
	}
	for i := 0; i < times; i++ {
		if err := ctx.Err(); err != nil {
			return nil, Continue(), err
		}
		inv.Ctx.Set("index", float64(i))
		sig, err := inv.exec.ExecuteSequence(ctx, body, inv.Ctx)
		if err != nil {
			return nil, Continue(), err
		}
		switch sig.Kind {
		case SignalBreak:
			return nil, Continue(), nil
		case SignalAbort, SignalReturn:
			return nil, sig, nil
		}
	}
	return nil, Continue(), nil
}

// flowParallel dispatches its actions concurrently; see ExecuteParallel for
// the write-merge and error-aggregation rules.
func flowParallel(ctx context.Context, inv *Invocation) (any, Signal, error) {
	actions, err := DecodeActions(inv.Action.Config["actions"])
	if err != nil {
		return nil, Continue(), err
	}
	sig, err := inv.exec.ExecuteParallel(ctx, actions, inv.Ctx)
	return nil, sig, err
}

// flowBatch runs each over every element of items with bounded concurrency.
// Iteration writes are scoped to the iteration and discarded; failures are
// reported per element and aggregated.
func flowBatch(ctx context.Context, inv *Invocation) (any, Signal, error) {
	itemsVal, err := inv.Value("items")
	if err != nil {
		return nil, Continue(), err
	}
	items, ok := itemsVal.([]any)
	if !ok {
		if itemsVal == nil {
			return nil, Continue(), nil
		}
		return nil, Continue(), &ValidationError{Field: "items", Msg: fmt.Sprintf("batch items must be a list, got %T", itemsVal)}
	}
	body, err := DecodeActions(inv.Action.Config["each"])
	if err != nil {
		return nil, Continue(), err
	}
	concurrency, err := inv.Int("concurrency", 1)
	if err != nil {
		return nil, Continue(), err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	errs := make([]error, len(items))
	sigs := make([]Signal, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		select {
		case <-ctx.Done():
			return nil, Continue(), ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()
			child := inv.Ctx.Child()
			child.Set("item", item)
			child.Set("index", float64(i))
			sigs[i], errs[i] = inv.exec.ExecuteSequence(ctx, body, child)
		}(i, item)
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("batch element %d: %w", i, err))
		}
	}
	if len(failed) > 0 {
		return nil, Continue(), errors.Join(failed...)
	}
	for _, sig := range sigs {
		if sig.Kind == SignalAbort {
			return nil, sig, nil
		}
	}
	return nil, Continue(), nil
}

// flowTry captures errors from do into catch (bound as "error"); finally
// always runs and only overrides the outcome when it fails itself.
func flowTry(ctx context.Context, inv *Invocation) (any, Signal, error) {
	doActions, err := DecodeActions(inv.Action.Config["do"])
	if err != nil {
		return nil, Continue(), err
	}
	catchActions, err := DecodeActions(inv.Action.Config["catch"])
	if err != nil {
		return nil, Continue(), err
	}
	finallyActions, err := DecodeActions(inv.Action.Config["finally"])
	if err != nil {
		return nil, Continue(), err
	}

	sig, doErr := inv.exec.ExecuteSequence(ctx, doActions, inv.Ctx)
	if doErr != nil && len(catchActions) > 0 {
		inv.Ctx.Set("error", doErr.Error())
		sig, doErr = inv.exec.ExecuteSequence(ctx, catchActions, inv.Ctx)
	}

	// finally never overwrites the outer signal unless it fails itself.
	if len(finallyActions) > 0 {
		if _, ferr := inv.exec.ExecuteSequence(ctx, finallyActions, inv.Ctx); ferr != nil {
			return nil, Continue(), ferr
		}
	}
	return nil, sig, doErr
}

// callFlow looks up the flow, binds its parameters from args with
// type/default checks, runs its body on a fresh scratch seeded from the
// arguments, and captures the return value into "as".
func callFlow(ctx context.Context, inv *Invocation) (any, Signal, error) {
	name, err := inv.String("flow")
	if err != nil {
		return nil, Continue(), err
	}
	f, ok := inv.exec.flow(name)
	if !ok {
		return nil, Continue(), &RuntimeError{Kind: RuntimeUnknownFlow, Msg: name}
	}

	argsVal, err := inv.Value("args")
	if err != nil {
		return nil, Continue(), err
	}
	args, _ := argsVal.(map[string]any)

	// Fresh scratch over the trigger seed: caller scratch stays invisible
	// unless passed as an argument.
	flowCtx := inv.Ctx.Base()
	for _, p := range f.Params {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return nil, Continue(), &ValidationError{Field: p.Name, Msg: "flow " + name + " requires argument " + p.Name}
			}
			v = p.Default
		}
		if present && p.Type != "" && p.Type != "any" && v != nil && TypeTagOf(v) != p.Type {
			return nil, Continue(), &ValidationError{Field: p.Name, Msg: fmt.Sprintf("flow %s argument %s: expected %s, got %s", name, p.Name, p.Type, TypeTagOf(v))}
		}
		flowCtx.Set(p.Name, v)
	}
	// Undeclared extras are still visible under args.
	flowCtx.Set("args", args)

	value, sig, err := inv.exec.runFlow(ctx, f, flowCtx)
	if err != nil {
		return nil, Continue(), err
	}
	if sig.Kind == SignalAbort {
		return nil, sig, nil
	}
	if as, _ := inv.Raw("as"); as != nil {
		inv.Ctx.Set(expr.ToString(as), value)
	}
	return value, Continue(), nil
}

// flowAbort propagates Abort to the enclosing dispatch.
func flowAbort(ctx context.Context, inv *Invocation) (any, Signal, error) {
	reason, err := inv.String("reason")
	if err != nil {
		return nil, Continue(), err
	}
	return nil, AbortSignal(reason), nil
}

// flowReturn exits the current flow with an optional value. Outside a flow
// the executor treats it as end-of-sequence.
func flowReturn(ctx context.Context, inv *Invocation) (any, Signal, error) {
	v, err := inv.Value("value")
	if err != nil {
		return nil, Continue(), err
	}
	return nil, ReturnSignal(v), nil
}
