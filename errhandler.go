package golem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ErrorCategory names the subsystem an error originated from. Closed set.
type ErrorCategory string

const (
	CategoryScheduler  ErrorCategory = "scheduler"
	CategoryEvent      ErrorCategory = "event"
	CategoryAction     ErrorCategory = "action"
	CategoryExpression ErrorCategory = "expression"
	CategoryDatabase   ErrorCategory = "database"
	CategoryVoice      ErrorCategory = "voice"
	CategoryClient     ErrorCategory = "client"
	CategoryPipe       ErrorCategory = "pipe"
	CategoryParser     ErrorCategory = "parser"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Severity orders error importance: debug < info < warn < error < fatal.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ErrorBehavior is what Handle does after callbacks run.
type ErrorBehavior string

const (
	// BehaviorLog writes the error to the handler's logger. Default.
	BehaviorLog ErrorBehavior = "log"
	// BehaviorThrow returns the error from Handle so the caller propagates it.
	BehaviorThrow ErrorBehavior = "throw"
	// BehaviorSilent drops the error after callbacks.
	BehaviorSilent ErrorBehavior = "silent"
)

// ErrorCallback receives a handled error. Callbacks must not assume any
// particular goroutine; panics are recovered and logged, never propagated.
type ErrorCallback func(err error, category ErrorCategory, severity Severity, ctx map[string]any)

// ErrorHandlerOption configures an ErrorHandler.
type ErrorHandlerOption func(*ErrorHandler)

// WithMinSeverity drops everything below min.
func WithMinSeverity(min Severity) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.minSeverity = min }
}

// WithCategoryFilter restricts handling to the given categories. Unset means
// every category is handled.
func WithCategoryFilter(cats ...ErrorCategory) ErrorHandlerOption {
	return func(h *ErrorHandler) {
		h.filter = make(map[ErrorCategory]struct{}, len(cats))
		for _, c := range cats {
			h.filter[c] = struct{}{}
		}
	}
}

// WithErrorBehavior sets the terminal behavior (log, throw, silent).
func WithErrorBehavior(b ErrorBehavior) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.behavior = b }
}

// WithErrorEmitter forwards handled errors as runtime:error events. The
// router wires itself in here at build time.
func WithErrorEmitter(emit func(event string, payload map[string]any)) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.emit = emit }
}

// WithErrorHandlerLogger replaces the stderr logger.
func WithErrorHandlerLogger(l *slog.Logger) ErrorHandlerOption {
	return func(h *ErrorHandler) { h.logger = l }
}

// ErrorHandler routes runtime errors: severity and category filters,
// per-category callbacks, a global callback, optional event emission, and a
// terminal log/throw/silent behavior.
type ErrorHandler struct {
	mu          sync.RWMutex
	minSeverity Severity
	filter      map[ErrorCategory]struct{}
	callbacks   map[ErrorCategory][]ErrorCallback
	onError     ErrorCallback
	emit        func(event string, payload map[string]any)
	behavior    ErrorBehavior
	logger      *slog.Logger
}

// NewErrorHandler creates a handler that logs to stderr by default.
func NewErrorHandler(opts ...ErrorHandlerOption) *ErrorHandler {
	h := &ErrorHandler{
		callbacks: make(map[ErrorCategory][]ErrorCallback),
		behavior:  BehaviorLog,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// OnCategory registers a callback for one category. Callbacks for a category
// run in registration order.
func (h *ErrorHandler) OnCategory(cat ErrorCategory, cb ErrorCallback) {
	h.mu.Lock()
	h.callbacks[cat] = append(h.callbacks[cat], cb)
	h.mu.Unlock()
}

// OnError registers the global callback, invoked after per-category ones.
func (h *ErrorHandler) OnError(cb ErrorCallback) {
	h.mu.Lock()
	h.onError = cb
	h.mu.Unlock()
}

// Handle routes one error. It returns the error only under BehaviorThrow;
// otherwise nil.
func (h *ErrorHandler) Handle(err error, category ErrorCategory, severity Severity, ctx map[string]any) error {
	if err == nil {
		return nil
	}
	if category == "" {
		category = CategoryUnknown
	}

	h.mu.RLock()
	minSev := h.minSeverity
	filter := h.filter
	cbs := h.callbacks[category]
	onError := h.onError
	emit := h.emit
	behavior := h.behavior
	logger := h.logger
	h.mu.RUnlock()

	if severity < minSev {
		return nil
	}
	if filter != nil {
		if _, ok := filter[category]; !ok {
			return nil
		}
	}

	for _, cb := range cbs {
		h.invoke(cb, err, category, severity, ctx)
	}
	if onError != nil {
		h.invoke(onError, err, category, severity, ctx)
	}
	if emit != nil {
		emit("runtime:error", map[string]any{
			"error":    err.Error(),
			"category": string(category),
			"severity": severity.String(),
		})
	}

	switch behavior {
	case BehaviorThrow:
		return err
	case BehaviorSilent:
		return nil
	default:
		logger.LogAttrs(context.Background(), severity.slogLevel(), "runtime error",
			slog.String("category", string(category)),
			slog.String("severity", severity.String()),
			slog.String("error", err.Error()))
		return nil
	}
}

// invoke runs one callback, containing its panics.
func (h *ErrorHandler) invoke(cb ErrorCallback, err error, category ErrorCategory, severity Severity, ctx map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.RLock()
			logger := h.logger
			h.mu.RUnlock()
			logger.Error("error callback panicked", "category", string(category), "panic", fmt.Sprint(r))
		}
	}()
	cb(err, category, severity, ctx)
}

// Wrap turns fn into a fire-and-forget function whose error is routed
// through Handle instead of returned.
func (h *ErrorHandler) Wrap(fn func(ctx context.Context) error, category ErrorCategory, severity Severity) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			h.Handle(err, category, severity, nil)
		}
	}
}
