package golem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nevindra/golem/metrics"
	"github.com/spf13/cast"
)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithPlatform wires the platform client the message, moderation, role,
// channel, and voice actions call through. Without it those actions are not
// registered.
func WithPlatform(pc PlatformClient) RuntimeOption {
	return func(r *Runtime) { r.platform = pc }
}

// WithCanvas wires the canvas renderer used by canvas_render.
func WithCanvas(cr CanvasRenderer) RuntimeOption {
	return func(r *Runtime) { r.canvas = cr }
}

// WithPipes wires the pipe registry used by pipe_send and pipe_request.
// The caller owns pipe construction; see the pipe package's Manager.
func WithPipes(pipes PipeRegistry) RuntimeOption {
	return func(r *Runtime) { r.pipes = pipes }
}

// WithRuntimeLogger sets a structured logger shared by every component. If
// not set, nothing logs.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// WithRuntimeTracer sets the tracer threaded through dispatch and actions.
func WithRuntimeTracer(t Tracer) RuntimeOption {
	return func(r *Runtime) { r.tracer = t }
}

// WithRuntimeErrorHandler replaces the default error handler (stderr log,
// runtime:error emission).
func WithRuntimeErrorHandler(h *ErrorHandler) RuntimeOption {
	return func(r *Runtime) { r.errors = h }
}

// WithRuntimeMetrics replaces the metrics collector.
func WithRuntimeMetrics(mc *metrics.Collector) RuntimeOption {
	return func(r *Runtime) { r.metrics = mc }
}

// WithRuntimeTimerStore persists one-shot timers across restarts.
func WithRuntimeTimerStore(ts TimerStore) RuntimeOption {
	return func(r *Runtime) { r.timerStore = ts }
}

// Runtime assembles a document into a running bot: executor, router,
// scheduler, state, locale, and metrics, with the platform client and
// pipes supplied by the caller.
type Runtime struct {
	mu  sync.RWMutex
	doc *Document

	exec    *Executor
	router  *Router
	sched   *Scheduler
	state   *StateManager
	locale  *LocaleManager
	metrics *metrics.Collector

	storage    StorageAdapter
	platform   PlatformClient
	canvas     CanvasRenderer
	pipes      PipeRegistry
	errors     *ErrorHandler
	logger     *slog.Logger
	tracer     Tracer
	timerStore TimerStore

	commands map[string]CommandDef
	levels   map[string]float64
}

// New builds a runtime from a validated document. storage backs the state
// manager; nil storage is rejected. Call Start to connect and begin
// scheduling.
func New(doc *Document, storage StorageAdapter, opts ...RuntimeOption) (*Runtime, error) {
	if doc == nil {
		return nil, &ValidationError{Field: "document", Msg: "nil document"}
	}
	if storage == nil {
		return nil, &ValidationError{Field: "storage", Msg: "nil storage adapter"}
	}
	r := &Runtime{
		storage: storage,
		logger:  nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.errors == nil {
		r.errors = NewErrorHandler(WithErrorEmitter(func(event string, payload map[string]any) {
			go r.EmitEvent(context.Background(), event, payload)
		}))
	}
	if err := r.build(doc); err != nil {
		return nil, err
	}
	return r, nil
}

// build assembles every component from the document. Swap calls it again
// under the write lock.
func (r *Runtime) build(doc *Document) error {
	flows, err := doc.FlowTable()
	if err != nil {
		return err
	}

	exec := NewExecutor(
		WithExecutorLogger(r.logger),
		WithExecutorTracer(r.tracer),
		WithErrorReporter(r.errors),
	)
	exec.SetFlows(flows)

	state := NewStateManager(r.storage, doc.State.Variables, doc.State.Tables,
		WithStateLogger(r.logger))

	router := NewRouter(exec,
		WithRouterLogger(r.logger),
		WithRouterTracer(r.tracer),
		WithRouterErrorHandler(r.errors))

	schedOpts := []SchedulerOption{
		WithSchedulerLogger(r.logger),
		WithSchedulerErrorHandler(r.errors),
	}
	if r.timerStore != nil {
		schedOpts = append(schedOpts, WithTimerStore(r.timerStore))
	}
	sched := NewScheduler(router, schedOpts...)

	locale := NewLocaleManager(doc.Locale.Strings, doc.Locale.Default)

	registerStateActions(exec, state)
	registerTimingActions(exec, sched)
	registerPipeActions(exec, r.pipes)
	registerMiscActions(exec, router, r.metrics, r.logger)
	if r.platform != nil {
		registerPlatformActions(exec, r.platform, r.canvas, locale)
	}

	for _, ev := range doc.Events {
		h, err := buildHandler(ev)
		if err != nil {
			return err
		}
		if _, err := router.On(h); err != nil {
			return err
		}
	}

	for _, job := range doc.Scheduler {
		if !job.IsEnabled() {
			continue
		}
		if err := sched.AddJob(CronJob{Name: job.Name, Cron: job.Cron, Timezone: job.Timezone}); err != nil {
			return err
		}
		actions, err := DecodeActions(job.Actions)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if _, err := router.On(Handler{Event: "scheduler:" + job.Name, Actions: actions}); err != nil {
			return err
		}
	}

	for _, m := range doc.Metrics {
		switch m.Type {
		case "counter":
			r.metrics.Increment(m.Name, 0, nil)
		case "gauge":
			r.metrics.SetGauge(m.Name, 0)
		}
	}

	commands := make(map[string]CommandDef, len(doc.Commands))
	for _, cmd := range doc.Commands {
		commands[cmd.Name] = cmd
	}

	r.doc = doc
	r.exec = exec
	r.state = state
	r.router = router
	r.sched = sched
	r.locale = locale
	r.commands = commands
	r.levels = doc.Permissions
	return nil
}

func buildHandler(ev EventDef) (Handler, error) {
	when, err := DecodeCondition(ev.When)
	if err != nil {
		return Handler{}, err
	}
	actions, err := DecodeActions(ev.Actions)
	if err != nil {
		return Handler{}, fmt.Errorf("event %s: %w", ev.Event, err)
	}
	h := Handler{Event: ev.Event, When: when, Once: ev.Once, Actions: actions}
	if ev.Debounce != "" {
		d, err := ParseDuration(ev.Debounce)
		if err != nil {
			return Handler{}, &ValidationError{Field: "debounce", Msg: ev.Event + ": " + err.Error()}
		}
		h.Debounce = d
	}
	if ev.Throttle != "" {
		d, err := ParseDuration(ev.Throttle)
		if err != nil {
			return Handler{}, &ValidationError{Field: "throttle", Msg: ev.Event + ": " + err.Error()}
		}
		h.Throttle = d
	}
	return h, nil
}

// Start initializes storage, connects pipes, and begins scheduling.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.state.Init(ctx); err != nil {
		return err
	}
	if r.pipes != nil {
		if err := r.pipes.ConnectAll(ctx); err != nil {
			r.errors.Handle(err, CategoryPipe, SeverityError, nil)
		}
	}
	return r.sched.Start(ctx)
}

// EmitEvent injects an event into the router; platform adapters and pipes
// forward their traffic through here.
func (r *Runtime) EmitEvent(ctx context.Context, event string, env map[string]any) {
	r.mu.RLock()
	router := r.router
	r.mu.RUnlock()
	router.Emit(ctx, event, env)
}

// State exposes the state manager (tests and adapters use it directly).
func (r *Runtime) State() *StateManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Metrics exposes the collector; callers serve its Export text themselves.
func (r *Runtime) Metrics() *metrics.Collector { return r.metrics }

// Locale exposes the locale manager.
func (r *Runtime) Locale() *LocaleManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locale
}

// CommandInvocation is one command trigger from the platform adapter. Path
// names the subcommand chain (group then leaf) when present; Options are
// the raw option values keyed by name; Env is the trigger-derived context
// (guild, channel, user, member, interaction).
type CommandInvocation struct {
	Name    string
	Path    []string
	Options map[string]any
	Env     map[string]any
}

// DispatchCommand resolves the command path, coerces typed options into
// args, enforces the access rule, and runs the action list. The returned
// error is for the adapter to render generically; it has already been
// recorded.
func (r *Runtime) DispatchCommand(ctx context.Context, inv CommandInvocation) error {
	r.mu.RLock()
	cmd, ok := r.commands[inv.Name]
	exec := r.exec
	levels := r.levels
	r.mu.RUnlock()
	if !ok {
		return &ValidationError{Field: "command", Msg: "unknown command " + inv.Name}
	}

	access := cmd.Access
	path := inv.Name
	for _, seg := range inv.Path {
		var next *CommandDef
		for i := range cmd.Subcommands {
			if cmd.Subcommands[i].Name == seg {
				next = &cmd.Subcommands[i]
				break
			}
		}
		if next == nil {
			return &ValidationError{Field: "command", Msg: "unknown subcommand " + path + " " + seg}
		}
		cmd = *next
		path += " " + seg
		if cmd.Access != "" {
			access = cmd.Access
		}
	}
	if len(cmd.Actions) == 0 {
		return &ValidationError{Field: "command", Msg: path + " has no actions"}
	}

	if err := checkAccess(access, levels, inv.Env); err != nil {
		return err
	}

	args, err := coerceOptions(cmd.Options, inv.Options)
	if err != nil {
		return err
	}

	actions, err := DecodeActions(cmd.Actions)
	if err != nil {
		return err
	}

	env := make(map[string]any, len(inv.Env)+2)
	for k, v := range inv.Env {
		env[k] = v
	}
	env["args"] = args
	env["command"] = path

	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "command."+inv.Name, StringAttr("command", path))
		defer span.End()
	}

	if _, err := exec.ExecuteSequence(ctx, actions, NewExecContext(env)); err != nil {
		r.errors.Handle(err, CategoryClient, SeverityError, map[string]any{"command": path})
		return err
	}
	return nil
}

// checkAccess compares the member's permission level from context against
// the level the access rule names. No rule means open access.
func checkAccess(access string, levels map[string]float64, env map[string]any) error {
	if access == "" {
		return nil
	}
	required, ok := levels[access]
	if !ok {
		return &ValidationError{Field: "access", Msg: "unknown permission level " + access}
	}
	var have float64
	if m, ok := env["member"].(map[string]any); ok {
		have = cast.ToFloat64(m["permission_level"])
	}
	if have < required {
		return &RuntimeError{Kind: RuntimeScope, Msg: fmt.Sprintf("requires %s (level %g)", access, required)}
	}
	return nil
}

// coerceOptions applies declared types and defaults to raw option values.
func coerceOptions(defs []OptionDef, raw map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(defs))
	for _, def := range defs {
		v, present := raw[def.Name]
		if !present || v == nil {
			if def.Required {
				return nil, &ValidationError{Field: def.Name, Msg: "missing required option"}
			}
			if def.Default != nil {
				args[def.Name] = def.Default
			}
			continue
		}
		switch def.Type {
		case "number":
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, &ValidationError{Field: def.Name, Msg: "expected a number"}
			}
			args[def.Name] = f
		case "bool":
			b, err := cast.ToBoolE(v)
			if err != nil {
				return nil, &ValidationError{Field: def.Name, Msg: "expected a boolean"}
			}
			args[def.Name] = b
		default:
			// string, user, channel, role all carry string IDs
			args[def.Name] = cast.ToString(v)
		}
		if len(def.Choices) > 0 {
			matched := false
			for _, c := range def.Choices {
				if looseEqual(args[def.Name], c) {
					matched = true
					break
				}
			}
			if !matched {
				return nil, &ValidationError{Field: def.Name, Msg: "value not in choices"}
			}
		}
	}
	return args, nil
}

// Swap hot-swaps the document: handlers, jobs, flows, state schema, and
// locale are rebuilt atomically as a unit. In-flight dispatches finish on
// the old tables.
func (r *Runtime) Swap(ctx context.Context, doc *Document) error {
	if doc == nil {
		return &ValidationError{Field: "document", Msg: "nil document"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	oldRouter, oldSched, oldState := r.router, r.sched, r.state
	if err := r.build(doc); err != nil {
		return err
	}
	oldSched.Close()
	oldRouter.Clear()
	oldState.Close()
	if err := r.state.Init(ctx); err != nil {
		return err
	}
	return r.sched.Start(ctx)
}

// Close tears the runtime down: pipes first, then scheduler, router, and
// the state cache.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []string
	if r.pipes != nil {
		if err := r.pipes.CloseAll(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	r.sched.Close()
	r.router.Clear()
	if err := r.state.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("runtime close: %s", strings.Join(errs, "; "))
	}
	return nil
}
