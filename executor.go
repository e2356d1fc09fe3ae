package golem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nevindra/golem/expr"
)

// ExecContext is the evaluation context an action list runs against:
// trigger-derived keys at the root plus scratch written by set/as. Contexts
// layer copy-on-write: a child reads through to its parent, writes only its
// own layer, and merges back explicitly. Siblings never see each other's
// writes.
type ExecContext struct {
	parent *ExecContext
	base   map[string]any // root's pristine trigger seed
	mu     sync.RWMutex
	vals   map[string]any
}

// NewExecContext creates a root context seeded with the trigger-derived
// keys. The seed map is copied and kept pristine so Base can rebuild a
// scratch-free context later.
func NewExecContext(base map[string]any) *ExecContext {
	seed := make(map[string]any, len(base))
	for k, v := range base {
		seed[k] = v
	}
	vals := make(map[string]any, len(seed))
	for k, v := range seed {
		vals[k] = v
	}
	return &ExecContext{base: seed, vals: vals}
}

// Child creates a copy-on-write layer over c.
func (c *ExecContext) Child() *ExecContext {
	return &ExecContext{parent: c, vals: make(map[string]any)}
}

// Base returns a fresh root context over the original trigger seed, without
// any scratch written since. call_flow builds the callee's context from it.
func (c *ExecContext) Base() *ExecContext {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return NewExecContext(root.base)
}

// Get walks the layer chain from innermost out.
func (c *ExecContext) Get(name string) (any, bool) {
	for ec := c; ec != nil; ec = ec.parent {
		ec.mu.RLock()
		v, ok := ec.vals[name]
		ec.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes into this layer, shadowing any parent value.
func (c *ExecContext) Set(name string, v any) {
	c.mu.Lock()
	c.vals[name] = v
	c.mu.Unlock()
}

// Delete removes a name from this layer only.
func (c *ExecContext) Delete(name string) {
	c.mu.Lock()
	delete(c.vals, name)
	c.mu.Unlock()
}

// MergeInto copies this layer's writes into target. Used when a winning
// branch's scratch becomes visible to the enclosing sequence.
func (c *ExecContext) MergeInto(target *ExecContext) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.vals {
		target.Set(k, v)
	}
}

// Env flattens the chain into a single map for expression evaluation.
// Inner layers shadow outer ones.
func (c *ExecContext) Env() map[string]any {
	var chain []*ExecContext
	for ec := c; ec != nil; ec = ec.parent {
		chain = append(chain, ec)
	}
	env := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for k, v := range chain[i].vals {
			env[k] = v
		}
		chain[i].mu.RUnlock()
	}
	return env
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets a structured logger. If not set, no logs are
// emitted.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorTracer sets the tracer used to span action execution.
func WithExecutorTracer(t Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithErrorReporter routes action failures into the error handler (C10).
func WithErrorReporter(h *ErrorHandler) ExecutorOption {
	return func(e *Executor) { e.errors = h }
}

// WithEvaluator overrides the expression evaluator (tests pin the clock and
// randomness through it).
func WithEvaluator(ev *expr.Evaluator) ExecutorOption {
	return func(e *Executor) { e.ev = ev }
}

// WithMaxCallDepth bounds call_flow recursion (default 64).
func WithMaxCallDepth(n int) ExecutorOption {
	return func(e *Executor) { e.maxCallDepth = n }
}

const defaultMaxCallDepth = 64

// Executor owns the action name→handler table and runs actions in one,
// sequence, and parallel modes, threading the evaluation context and the
// per-action error policy.
type Executor struct {
	mu           sync.RWMutex
	handlers     map[string]HandlerFunc
	flows        map[string]Flow
	ev           *expr.Evaluator
	errors       *ErrorHandler
	tracer       Tracer
	logger       *slog.Logger
	maxCallDepth int
}

// NewExecutor creates an executor with the flow-control actions
// pre-registered.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		handlers:     make(map[string]HandlerFunc),
		flows:        make(map[string]Flow),
		ev:           expr.New(),
		logger:       nopLogger,
		maxCallDepth: defaultMaxCallDepth,
	}
	for _, o := range opts {
		o(e)
	}
	registerFlowActions(e)
	return e
}

// Register adds an action handler. Registering a duplicate name fails.
func (e *Executor) Register(name string, h HandlerFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.handlers[name]; exists {
		return &ValidationError{Field: "action", Msg: "handler already registered for " + name}
	}
	e.handlers[name] = h
	return nil
}

// MustRegister is Register for startup wiring; it panics on duplicates.
func (e *Executor) MustRegister(name string, h HandlerFunc) {
	if err := e.Register(name, h); err != nil {
		panic(err)
	}
}

// SetFlows replaces the flow table. Called at build time and on hot swap.
func (e *Executor) SetFlows(flows map[string]Flow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flows = make(map[string]Flow, len(flows))
	for name, f := range flows {
		e.flows[name] = f
	}
}

func (e *Executor) flow(name string) (Flow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.flows[name]
	return f, ok
}

func (e *Executor) handler(name string) (HandlerFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

// Evaluator exposes the expression evaluator shared by conditions and
// accessors.
func (e *Executor) Evaluator() *expr.Evaluator { return e.ev }

// ExecuteOne runs a single action: when gate, handler dispatch, per-action
// error policy.
func (e *Executor) ExecuteOne(ctx context.Context, a Action, ec *ExecContext) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Continue(), err
	}
	if a.When != nil {
		ok, err := a.When.Eval(e.ev, ec.Env())
		if err != nil {
			return Continue(), e.actionFailed(ctx, a, ec, err)
		}
		if !ok {
			return Continue(), nil
		}
	}

	h, ok := e.handler(a.Name)
	if !ok {
		err := &RuntimeError{Kind: RuntimeUnknownAction, Msg: a.Name}
		return Continue(), e.actionFailed(ctx, a, ec, err)
	}

	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "action."+a.Name)
		defer span.End()
	}

	_, sig, err := h(ctx, &Invocation{Action: a, Ctx: ec, exec: e})
	if err != nil {
		return Continue(), e.actionFailed(ctx, a, ec, err)
	}
	return sig, nil
}

// actionFailed applies the per-action error policy: when the action names an
// error_handler flow, invoke it with {error, action_name} and swallow;
// otherwise report and propagate.
func (e *Executor) actionFailed(ctx context.Context, a Action, ec *ExecContext, err error) error {
	if a.ErrorHandler == "" {
		e.logger.Debug("action failed", "action", a.Name, "error", err)
		return fmt.Errorf("action %s: %w", a.Name, err)
	}
	f, ok := e.flow(a.ErrorHandler)
	if !ok {
		return &RuntimeError{Kind: RuntimeUnknownFlow, Msg: "error_handler " + a.ErrorHandler}
	}
	e.logger.Debug("action failed, invoking error handler", "action", a.Name, "flow", a.ErrorHandler, "error", err)
	handlerCtx := ec.Child()
	handlerCtx.Set("error", err.Error())
	handlerCtx.Set("action_name", a.Name)
	if _, _, herr := e.runFlow(ctx, f, handlerCtx); herr != nil {
		if e.errors != nil {
			e.errors.Handle(herr, CategoryAction, SeverityError, nil)
		}
	}
	return nil
}

// ExecuteSequence runs actions in program order, short-circuiting on
// Abort/Return/Break and on unhandled errors.
func (e *Executor) ExecuteSequence(ctx context.Context, actions []Action, ec *ExecContext) (Signal, error) {
	for _, a := range actions {
		sig, err := e.ExecuteOne(ctx, a, ec)
		if err != nil {
			return Continue(), err
		}
		if sig.Kind != SignalContinue {
			return sig, nil
		}
	}
	return Continue(), nil
}

// ExecuteParallel dispatches each action on its own child context, waits for
// all, aggregates every error, and merges each branch's writes into the
// parent in declaration order. Abort/Return from any branch wins (first in
// order).
func (e *Executor) ExecuteParallel(ctx context.Context, actions []Action, ec *ExecContext) (Signal, error) {
	children := make([]*ExecContext, len(actions))
	sigs := make([]Signal, len(actions))
	errs := make([]error, len(actions))

	var wg sync.WaitGroup
	for i, a := range actions {
		children[i] = ec.Child()
		wg.Add(1)
		go func(i int, a Action) {
			defer wg.Done()
			sigs[i], errs[i] = e.ExecuteOne(ctx, a, children[i])
		}(i, a)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return Continue(), err
	}
	out := Continue()
	for i := range actions {
		children[i].MergeInto(ec)
		if out.Kind == SignalContinue && sigs[i].Kind != SignalContinue {
			out = sigs[i]
		}
	}
	return out, nil
}

// evalValue evaluates expression-typed config recursively: strings are
// templates (single-expression templates keep their value type), lists and
// maps are walked, everything else passes through.
func (e *Executor) evalValue(raw any, env map[string]any) (any, error) {
	switch x := raw.(type) {
	case string:
		return e.ev.EvaluateTemplate(x, env)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, err := e.evalValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			v, err := e.evalValue(item, env)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return raw, nil
	}
}
