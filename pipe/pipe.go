// Package pipe provides long-lived transport connections (WebSocket, MQTT,
// TCP, UDP) behind a shared lifecycle: connect/disconnect state, a bounded
// fixed-delay reconnect supervisor, and per-event handler multiplexing with
// panic isolation.
package pipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is a pipe's lifecycle position. Closed is terminal.
type State int32

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Well-known lifecycle events every transport emits.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventError           = "error"
	EventMessage         = "message"
	EventReconnectFailed = "reconnect_failed"
)

// Handler receives one event payload. Handlers run on the pipe's read
// goroutine; panics are contained and reported, never unwound into other
// handlers.
type Handler func(data any)

// Pipe is the transport-independent surface.
type Pipe interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	State() State
	On(event string, h Handler) (off func())
	Send(ctx context.Context, data any) error
}

// Defaults for the reconnect supervisor.
const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultReconnectAttempts = 10
)

// ReconnectPolicy is the fixed-delay retry strategy applied after an
// unexpected close. Zero value disables reconnection.
type ReconnectPolicy struct {
	Enabled     bool
	Delay       time.Duration
	MaxAttempts uint64
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultReconnectAttempts
	}
	return p
}

// Option configures the shared pipe core.
type Option func(*core)

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(c *core) { c.logger = l }
}

// WithReconnect enables the reconnect supervisor.
func WithReconnect(p ReconnectPolicy) Option {
	return func(c *core) { c.reconnect = p.withDefaults() }
}

// WithErrorReporter routes handler panics and background failures out of
// the pipe (the runtime points this at its error handler).
func WithErrorReporter(report func(error)) Option {
	return func(c *core) { c.report = report }
}

// core is the shared state every transport embeds: name, lifecycle state,
// handler table, reconnect supervisor.
type core struct {
	name      string
	transport string
	state     atomic.Int32
	logger    *slog.Logger
	report    func(error)
	reconnect ReconnectPolicy

	hmu      sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64

	rmu       sync.Mutex
	recCancel context.CancelFunc
}

func initCore(c *core, name, transport string, opts ...Option) {
	c.name = name
	c.transport = transport
	c.logger = slog.New(discardHandler{})
	c.handlers = make(map[string]map[uint64]Handler)
	for _, o := range opts {
		o(c)
	}
}

func (c *core) Name() string { return c.name }

func (c *core) State() State { return State(c.state.Load()) }

func (c *core) setState(s State) { c.state.Store(int32(s)) }

// transition moves to s unless the pipe is already closed. Reports whether
// the transition took effect.
func (c *core) transition(s State) bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// On registers a handler for an event and returns its unregister func.
func (c *core) On(event string, h Handler) func() {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextID++
	id := c.nextID
	m, ok := c.handlers[event]
	if !ok {
		m = make(map[uint64]Handler)
		c.handlers[event] = m
	}
	m[id] = h
	return func() {
		c.hmu.Lock()
		delete(c.handlers[event], id)
		c.hmu.Unlock()
	}
}

// Emit dispatches data to every handler registered for event. Handler
// panics are contained per handler.
func (c *core) Emit(event string, data any) {
	c.hmu.RLock()
	m := c.handlers[event]
	hs := make([]Handler, 0, len(m))
	for _, h := range m {
		hs = append(hs, h)
	}
	c.hmu.RUnlock()
	for _, h := range hs {
		c.safeCall(event, h, data)
	}
}

func (c *core) safeCall(event string, h Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipe %s: handler for %s panicked: %v", c.name, event, r)
			c.logger.Error("pipe handler panicked", "pipe", c.name, "event", event, "panic", r)
			if c.report != nil {
				c.report(err)
			}
		}
	}()
	h(data)
}

func (c *core) reportErr(err error) {
	c.logger.Warn("pipe error", "pipe", c.name, "error", err)
	c.Emit(EventError, err.Error())
	if c.report != nil {
		c.report(err)
	}
}

// lost records an unexpected close and, when a policy is set, starts the
// reconnect supervisor with dial.
func (c *core) lost(dial func(ctx context.Context) error) {
	if !c.transition(StateDisconnected) {
		return
	}
	c.Emit(EventDisconnect, nil)
	if c.reconnect.Enabled {
		c.supervise(dial)
	}
}

// supervise dials at a fixed delay up to MaxAttempts total attempts, then
// emits reconnect_failed once. An explicit Connect or Disconnect cancels it.
func (c *core) supervise(dial func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	c.rmu.Lock()
	if c.recCancel != nil {
		c.recCancel()
	}
	c.recCancel = cancel
	c.rmu.Unlock()

	go func() {
		// WithMaxRetries counts retries after the first attempt.
		retries := c.reconnect.MaxAttempts
		if retries > 0 {
			retries--
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(c.reconnect.Delay), retries),
			ctx)
		err := backoff.Retry(func() error {
			if c.State() == StateClosed {
				return backoff.Permanent(context.Canceled)
			}
			c.logger.Debug("reconnect attempt", "pipe", c.name)
			return dial(ctx)
		}, policy)
		if err != nil && ctx.Err() == nil && c.State() != StateClosed {
			c.logger.Warn("reconnect exhausted", "pipe", c.name, "error", err)
			c.Emit(EventReconnectFailed, err.Error())
		}
	}()
}

// cancelSupervisor stops any pending reconnect loop.
func (c *core) cancelSupervisor() {
	c.rmu.Lock()
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
	c.rmu.Unlock()
}

// discardHandler drops every record; pipes stay silent unless a logger is
// injected.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
