package golem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// recorder collects action invocations so tests can assert ordering.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestExecutor(t *testing.T, rec *recorder) *Executor {
	t.Helper()
	e := NewExecutor()
	e.MustRegister("probe", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		tag, err := inv.String("tag")
		if err != nil {
			return nil, Continue(), err
		}
		rec.add(tag)
		return nil, Continue(), nil
	})
	e.MustRegister("fail", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		return nil, Continue(), fmt.Errorf("boom")
	})
	e.MustRegister("scratch", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, _ := inv.String("name")
		value, err := inv.Value("value")
		if err != nil {
			return nil, Continue(), err
		}
		inv.Ctx.Set(name, value)
		return nil, Continue(), nil
	})
	return e
}

func probe(tag string) Action {
	return Action{Name: "probe", Config: map[string]any{"tag": tag}}
}

func TestExecuteSequenceOrder(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	sig, err := e.ExecuteSequence(context.Background(), []Action{probe("a"), probe("b"), probe("c")}, NewExecContext(nil))
	if err != nil {
		t.Fatal(err)
	}
	if sig.Kind != SignalContinue {
		t.Errorf("signal = %v, want Continue", sig.Kind)
	}
	got := rec.list()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("calls = %v, want [a b c]", got)
	}
}

func TestExecuteSequenceScratchVisibility(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	ec := NewExecContext(nil)
	actions := []Action{
		{Name: "scratch", Config: map[string]any{"name": "x", "value": float64(41)}},
		{Name: "scratch", Config: map[string]any{"name": "y", "value": "${x + 1}"}},
	}
	if _, err := e.ExecuteSequence(context.Background(), actions, ec); err != nil {
		t.Fatal(err)
	}
	if v, _ := ec.Get("y"); v != float64(42) {
		t.Errorf("y = %v, want 42", v)
	}
}

func TestExecuteOneWhenGate(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	ec := NewExecContext(map[string]any{"n": float64(3)})

	a := probe("gated")
	a.When = ExprCondition("n > 5")
	if _, err := e.ExecuteOne(context.Background(), a, ec); err != nil {
		t.Fatal(err)
	}
	if len(rec.list()) != 0 {
		t.Error("falsy when still executed the action")
	}

	a.When = ExprCondition("n > 1")
	if _, err := e.ExecuteOne(context.Background(), a, ec); err != nil {
		t.Fatal(err)
	}
	if len(rec.list()) != 1 {
		t.Error("truthy when did not execute the action")
	}
}

func TestExecuteOneUnknownAction(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	_, err := e.ExecuteOne(context.Background(), Action{Name: "nope"}, NewExecContext(nil))
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Kind != RuntimeUnknownAction {
		t.Errorf("err = %v, want unknown_action RuntimeError", err)
	}
}

func TestErrorHandlerFlowSwallows(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	e.SetFlows(map[string]Flow{
		"on_fail": {Name: "on_fail", Actions: []Action{
			{Name: "probe", Config: map[string]any{"tag": "handled:${action_name}"}},
		}},
	})

	actions := []Action{
		{Name: "fail", ErrorHandler: "on_fail"},
		probe("after"),
	}
	if _, err := e.ExecuteSequence(context.Background(), actions, NewExecContext(nil)); err != nil {
		t.Fatalf("handled error still propagated: %v", err)
	}
	got := rec.list()
	if len(got) != 2 || got[0] != "handled:fail" || got[1] != "after" {
		t.Errorf("calls = %v, want [handled:fail after]", got)
	}
}

func TestUnhandledErrorStopsSequence(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	actions := []Action{probe("a"), {Name: "fail"}, probe("b")}
	_, err := e.ExecuteSequence(context.Background(), actions, NewExecContext(nil))
	if err == nil {
		t.Fatal("expected error")
	}
	got := rec.list()
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("calls = %v, want [a]", got)
	}
}

func TestExecuteParallelMergesAndAggregates(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)
	ec := NewExecContext(nil)
	actions := []Action{
		{Name: "scratch", Config: map[string]any{"name": "a", "value": float64(1)}},
		{Name: "scratch", Config: map[string]any{"name": "b", "value": float64(2)}},
	}
	if _, err := e.ExecuteParallel(context.Background(), actions, ec); err != nil {
		t.Fatal(err)
	}
	if v, _ := ec.Get("a"); v != float64(1) {
		t.Errorf("a = %v, want 1", v)
	}
	if v, _ := ec.Get("b"); v != float64(2) {
		t.Errorf("b = %v, want 2", v)
	}

	// All branch errors are reported, none masked.
	_, err := e.ExecuteParallel(context.Background(), []Action{{Name: "fail"}, {Name: "fail"}}, ec)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
}

func TestExecContextLayering(t *testing.T) {
	root := NewExecContext(map[string]any{"base": "r"})
	child := root.Child()
	child.Set("base", "c")
	child.Set("own", "x")

	if v, _ := child.Get("base"); v != "c" {
		t.Errorf("child read = %v, want shadowed c", v)
	}
	if v, _ := root.Get("base"); v != "r" {
		t.Errorf("root read = %v, want r", v)
	}
	if _, ok := root.Get("own"); ok {
		t.Error("child write leaked to root without merge")
	}

	sibling := root.Child()
	if _, ok := sibling.Get("own"); ok {
		t.Error("sibling sees another child's write")
	}

	child.MergeInto(root)
	if v, _ := root.Get("own"); v != "x" {
		t.Errorf("merged own = %v, want x", v)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	e := NewExecutor()
	if err := e.Register("dup", func(context.Context, *Invocation) (any, Signal, error) {
		return nil, Continue(), nil
	}); err != nil {
		t.Fatal(err)
	}
	err := e.Register("dup", func(context.Context, *Invocation) (any, Signal, error) {
		return nil, Continue(), nil
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("duplicate register = %v, want ValidationError", err)
	}
}
