package golem

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler is one event subscription from the document: a gate condition,
// the timing modifiers, and the action list to dispatch.
type Handler struct {
	Event    string
	When     Condition
	Once     bool
	Debounce time.Duration
	Throttle time.Duration
	Actions  []Action
}

type handlerEntry struct {
	id     string
	h      Handler
	active bool

	// debounce
	timer   *time.Timer
	pending *ExecContext

	// throttle
	lastFire time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets a structured logger. If not set, no logs are
// emitted.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithRouterTracer sets the tracer used to span event dispatch.
func WithRouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithRouterErrorHandler routes handler failures. Without it, failures are
// only logged.
func WithRouterErrorHandler(h *ErrorHandler) RouterOption {
	return func(r *Router) { r.errors = h }
}

// WithMaxHandlersPerEvent overrides the per-event registration cap
// (default 100).
func WithMaxHandlersPerEvent(n int) RouterOption {
	return func(r *Router) { r.maxPerEvent = n }
}

// WithRouterClock pins the clock for throttle windows.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

const defaultMaxHandlersPerEvent = 100

// Router maps event names to ordered handler lists and dispatches emits
// through the executor, applying when gates and the once/debounce/throttle
// timing rules. Handler failures are recorded and never stop sibling
// handlers.
type Router struct {
	mu          sync.Mutex
	entries     map[string][]*handlerEntry
	exec        *Executor
	errors      *ErrorHandler
	tracer      Tracer
	logger      *slog.Logger
	maxPerEvent int
	now         func() time.Time
}

// NewRouter creates a router dispatching through exec.
func NewRouter(exec *Executor, opts ...RouterOption) *Router {
	r := &Router{
		entries:     make(map[string][]*handlerEntry),
		exec:        exec,
		logger:      nopLogger,
		maxPerEvent: defaultMaxHandlersPerEvent,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// On registers a handler and returns its id. Debounce and throttle are
// mutually exclusive; each event holds at most maxPerEvent handlers.
func (r *Router) On(h Handler) (string, error) {
	if h.Event == "" {
		return "", &ValidationError{Field: "event", Msg: "handler requires an event name"}
	}
	if h.Debounce > 0 && h.Throttle > 0 {
		return "", &ValidationError{Field: "event", Msg: "debounce and throttle are mutually exclusive on " + h.Event}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries[h.Event]) >= r.maxPerEvent {
		return "", &ValidationError{Field: "event", Msg: "handler limit reached for " + h.Event}
	}
	e := &handlerEntry{id: NewID(), h: h, active: true}
	r.entries[h.Event] = append(r.entries[h.Event], e)
	return e.id, nil
}

// Off removes one handler by id, cancelling its pending debounce timer.
func (r *Router) Off(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, list := range r.entries {
		for i, e := range list {
			if e.id == id {
				if e.timer != nil {
					e.timer.Stop()
				}
				r.entries[event] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// HandlerCount reports registered handlers for an event.
func (r *Router) HandlerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[event])
}

// Emit dispatches an event. Handlers run in registration order on a shared
// root context built from env; debounced handlers run later with the ctx of
// the latest emit.
func (r *Router) Emit(ctx context.Context, event string, env map[string]any) {
	r.mu.Lock()
	list := r.entries[event]
	entries := make([]*handlerEntry, len(list))
	copy(entries, list)
	r.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "event."+event, StringAttr("event", event))
		defer span.End()
	}

	ec := NewExecContext(env)
	for _, e := range entries {
		r.dispatchEntry(ctx, event, e, ec)
	}
}

func (r *Router) dispatchEntry(ctx context.Context, event string, e *handlerEntry, ec *ExecContext) {
	r.mu.Lock()
	if !e.active {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if e.h.When != nil {
		ok, err := e.h.When.Eval(r.exec.Evaluator(), ec.Env())
		if err != nil {
			r.report(event, err)
			return
		}
		if !ok {
			return
		}
	}

	r.mu.Lock()
	if !e.active {
		r.mu.Unlock()
		return
	}
	// once deactivates before running so re-entrant emits cannot re-fire.
	if e.h.Once {
		e.active = false
	}

	switch {
	case e.h.Throttle > 0:
		now := r.now()
		if !e.lastFire.IsZero() && now.Sub(e.lastFire) < e.h.Throttle {
			r.mu.Unlock()
			return
		}
		e.lastFire = now
		r.mu.Unlock()

	case e.h.Debounce > 0:
		if e.timer != nil {
			e.timer.Stop()
		}
		e.pending = ec
		e.timer = time.AfterFunc(e.h.Debounce, func() {
			r.mu.Lock()
			pending := e.pending
			e.pending = nil
			e.timer = nil
			r.mu.Unlock()
			if pending != nil {
				r.run(context.Background(), event, e.h, pending)
			}
		})
		r.mu.Unlock()
		return

	default:
		r.mu.Unlock()
	}

	r.run(ctx, event, e.h, ec)
}

// run hands the action list to the executor. Each handler gets its own
// child layer so scratch never leaks to siblings.
func (r *Router) run(ctx context.Context, event string, h Handler, ec *ExecContext) {
	child := ec.Child()
	if _, err := r.exec.ExecuteSequence(ctx, h.Actions, child); err != nil {
		r.report(event, err)
	}
}

func (r *Router) report(event string, err error) {
	r.logger.Warn("event handler failed", "event", event, "error", err)
	if r.errors != nil {
		r.errors.Handle(err, CategoryEvent, SeverityError, map[string]any{"event": event})
	}
}

// Clear drops every handler and cancels all pending debounce timers.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.entries {
		for _, e := range list {
			if e.timer != nil {
				e.timer.Stop()
			}
		}
	}
	r.entries = make(map[string][]*handlerEntry)
}
