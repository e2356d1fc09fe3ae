package pipe

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nevindra/golem"
)

// TCPMode selects client or server behavior.
type TCPMode string

const (
	TCPClient TCPMode = "client"
	TCPServer TCPMode = "server"
)

// TCPConfig describes one TCP pipe. Frames are newline-delimited in both
// modes.
type TCPConfig struct {
	Mode    TCPMode // default client
	Address string  // dial target (client) or listen address (server)
}

// TCPPipe is a newline-framed TCP transport. In client mode it keeps one
// outbound connection with the shared reconnect supervisor; in server mode
// it accepts connections and fans frames into the handler table. The
// request/response overlay resolves each waiter with the next inbound
// frame, which is only correct for strictly request-response protocols.
type TCPPipe struct {
	core
	cfg TCPConfig

	mu       sync.Mutex
	conn     net.Conn           // client mode
	listener net.Listener       // server mode
	conns    map[net.Conn]bool  // server mode
	waiters  []chan []byte      // request overlay, FIFO
}

var _ Pipe = (*TCPPipe)(nil)

// NewTCP creates a TCP pipe.
func NewTCP(name string, cfg TCPConfig, opts ...Option) *TCPPipe {
	if cfg.Mode == "" {
		cfg.Mode = TCPClient
	}
	p := &TCPPipe{
		cfg:   cfg,
		conns: make(map[net.Conn]bool),
	}
	initCore(&p.core, name, "tcp", opts...)
	return p
}

// Connect dials (client) or starts the accept loop (server). A failed dial
// starts the reconnect supervisor when a policy is enabled; the first error
// is still returned.
func (p *TCPPipe) Connect(ctx context.Context) error {
	p.cancelSupervisor()
	if p.cfg.Mode == TCPServer {
		return p.listen(ctx)
	}
	err := p.dial(ctx)
	if err != nil && p.reconnect.Enabled && p.State() != StateClosed {
		p.supervise(p.dial)
	}
	return err
}

func (p *TCPPipe) dial(ctx context.Context) error {
	if !p.transition(StateConnecting) {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("pipe is closed")}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.cfg.Address)
	if err != nil {
		p.transition(StateDisconnected)
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	p.transition(StateConnected)
	p.logger.Info("tcp connected", "pipe", p.name, "address", p.cfg.Address)
	p.Emit(EventConnect, nil)
	go p.readLoop(conn, true)
	return nil
}

func (p *TCPPipe) listen(ctx context.Context) error {
	if !p.transition(StateConnecting) {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("pipe is closed")}
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.cfg.Address)
	if err != nil {
		p.transition(StateDisconnected)
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()
	p.transition(StateConnected)
	p.logger.Info("tcp listening", "pipe", p.name, "address", ln.Addr().String())
	p.Emit(EventConnect, nil)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if p.State() != StateClosed {
					p.reportErr(&golem.TransportError{Transport: p.name, Err: err})
				}
				return
			}
			p.mu.Lock()
			p.conns[conn] = true
			p.mu.Unlock()
			go p.readLoop(conn, false)
		}
	}()
	return nil
}

// Addr returns the bound address in server mode; empty otherwise.
func (p *TCPPipe) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return p.listener.Addr().String()
	}
	return ""
}

func (p *TCPPipe) readLoop(conn net.Conn, client bool) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		if waiter := p.popWaiter(); waiter != nil {
			waiter <- frame
		}
		p.Emit(EventMessage, map[string]any{
			"data":   decodePayload(frame),
			"remote": conn.RemoteAddr().String(),
		})
	}
	if client {
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		if p.State() == StateClosed {
			return
		}
		if err := scanner.Err(); err != nil {
			p.reportErr(&golem.TransportError{Transport: p.name, Err: err})
		}
		p.lost(p.dial)
		return
	}
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	conn.Close()
}

func (p *TCPPipe) popWaiter() chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

// Send writes one newline-terminated frame: to the server in client mode,
// to every live connection in server mode.
func (p *TCPPipe) Send(ctx context.Context, data any) error {
	payload, _, err := encodePayload(data)
	if err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	frame := append(payload, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Mode == TCPServer {
		for conn := range p.conns {
			if _, err := conn.Write(frame); err != nil {
				p.logger.Warn("tcp write failed", "pipe", p.name, "remote", conn.RemoteAddr().String(), "error", err)
			}
		}
		return nil
	}
	if p.conn == nil {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	if _, err := p.conn.Write(frame); err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	return nil
}

// Request sends data and resolves with the next inbound frame, decoded.
// Waiters queue FIFO; the overlay is only sound for strictly alternating
// request-response traffic.
func (p *TCPPipe) Request(ctx context.Context, data any, timeout time.Duration) (any, error) {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	if err := p.Send(ctx, data); err != nil {
		p.dropWaiter(ch)
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		return decodePayload(frame), nil
	case <-timer.C:
		p.dropWaiter(ch)
		return nil, &golem.RequestTimeoutError{Transport: p.name, Timeout: timeout}
	case <-ctx.Done():
		p.dropWaiter(ch)
		return nil, ctx.Err()
	}
}

func (p *TCPPipe) dropWaiter(ch chan []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Disconnect closes the pipe permanently: the connection or the listener
// plus every accepted connection.
func (p *TCPPipe) Disconnect() error {
	p.cancelSupervisor()
	p.setState(StateClosed)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.listener != nil {
		p.listener.Close()
		p.listener = nil
	}
	for conn := range p.conns {
		conn.Close()
		delete(p.conns, conn)
	}
	return nil
}
