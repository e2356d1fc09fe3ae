package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nevindra/golem"
)

// Manager owns a named set of pipes: lookup, bulk connect, bulk shutdown,
// and the send/request surface the runtime's pipe actions use.
type Manager struct {
	mu    sync.RWMutex
	pipes map[string]Pipe
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{pipes: make(map[string]Pipe)}
}

// Add registers a pipe under its name. Duplicate names fail.
func (m *Manager) Add(p Pipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pipes[p.Name()]; exists {
		return fmt.Errorf("pipe %s already registered", p.Name())
	}
	m.pipes[p.Name()] = p
	return nil
}

// Get returns a pipe by name.
func (m *Manager) Get(name string) (Pipe, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipes[name]
	return p, ok
}

// Names lists registered pipe names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.pipes))
	for name := range m.pipes {
		out = append(out, name)
	}
	return out
}

// ConnectAll connects every pipe, aggregating failures.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	pipes := make([]Pipe, 0, len(m.pipes))
	for _, p := range m.pipes {
		pipes = append(pipes, p)
	}
	m.mu.RUnlock()
	var errs []error
	for _, p := range pipes {
		if err := p.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pipe %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll disconnects every pipe.
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	pipes := make([]Pipe, 0, len(m.pipes))
	for _, p := range m.pipes {
		pipes = append(pipes, p)
	}
	m.mu.RUnlock()
	var errs []error
	for _, p := range pipes {
		if err := p.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("pipe %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Send writes data on a named pipe.
func (m *Manager) Send(ctx context.Context, name string, data any) error {
	p, ok := m.Get(name)
	if !ok {
		return &golem.ValidationError{Field: "pipe", Msg: "unknown pipe " + name}
	}
	return p.Send(ctx, data)
}

// Request performs a request/response exchange on a named pipe. Only
// WebSocket and TCP pipes support the overlay.
func (m *Manager) Request(ctx context.Context, name string, data any, responseEvent string, timeout time.Duration) (any, error) {
	p, ok := m.Get(name)
	if !ok {
		return nil, &golem.ValidationError{Field: "pipe", Msg: "unknown pipe " + name}
	}
	switch t := p.(type) {
	case *WSPipe:
		return t.Request(ctx, data, responseEvent, timeout)
	case *TCPPipe:
		return t.Request(ctx, data, timeout)
	default:
		return nil, &golem.TransportError{Transport: name, Err: fmt.Errorf("request not supported on this transport")}
	}
}
