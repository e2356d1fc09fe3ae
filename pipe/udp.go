package pipe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/nevindra/golem"
)

// enableBroadcast sets SO_BROADCAST so datagrams may target broadcast
// addresses.
func enableBroadcast(conn *net.UDPConn) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}

// UDPConfig describes one UDP pipe. Connectionless: no reconnection
// semantics apply.
type UDPConfig struct {
	ListenAddress  string // local bind, e.g. ":9100"; empty for send-only
	RemoteAddress  string // default Send target
	MulticastGroup string // optional group to join, e.g. "239.0.0.1:9100"
	Broadcast      bool
}

// UDPPipe sends and receives datagrams, optionally joining a multicast
// group. Message handlers receive a map {data, from}.
type UDPPipe struct {
	core
	cfg UDPConfig

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
}

var _ Pipe = (*UDPPipe)(nil)

// NewUDP creates a UDP pipe.
func NewUDP(name string, cfg UDPConfig, opts ...Option) *UDPPipe {
	p := &UDPPipe{cfg: cfg}
	initCore(&p.core, name, "udp", opts...)
	return p
}

// Connect binds the socket (joining the multicast group when configured)
// and starts the read loop.
func (p *UDPPipe) Connect(ctx context.Context) error {
	if !p.transition(StateConnecting) {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("pipe is closed")}
	}

	var (
		conn *net.UDPConn
		err  error
	)
	switch {
	case p.cfg.MulticastGroup != "":
		group, rerr := net.ResolveUDPAddr("udp", p.cfg.MulticastGroup)
		if rerr != nil {
			err = rerr
			break
		}
		conn, err = net.ListenMulticastUDP("udp", nil, group)
	case p.cfg.ListenAddress != "":
		addr, rerr := net.ResolveUDPAddr("udp", p.cfg.ListenAddress)
		if rerr != nil {
			err = rerr
			break
		}
		conn, err = net.ListenUDP("udp", addr)
	default:
		conn, err = net.ListenUDP("udp", nil)
	}
	if err != nil {
		p.transition(StateDisconnected)
		return &golem.TransportError{Transport: p.name, Err: err}
	}

	if p.cfg.Broadcast {
		if err := enableBroadcast(conn); err != nil {
			conn.Close()
			p.transition(StateDisconnected)
			return &golem.TransportError{Transport: p.name, Err: err}
		}
	}

	var remote *net.UDPAddr
	if p.cfg.RemoteAddress != "" {
		remote, err = net.ResolveUDPAddr("udp", p.cfg.RemoteAddress)
		if err != nil {
			conn.Close()
			p.transition(StateDisconnected)
			return &golem.TransportError{Transport: p.name, Err: err}
		}
	}

	p.mu.Lock()
	p.conn = conn
	p.remote = remote
	p.mu.Unlock()
	p.transition(StateConnected)
	p.logger.Info("udp bound", "pipe", p.name, "local", conn.LocalAddr().String())
	p.Emit(EventConnect, nil)
	go p.readLoop(conn)
	return nil
}

// Addr returns the bound local address; empty before Connect.
func (p *UDPPipe) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn.LocalAddr().String()
	}
	return ""
}

func (p *UDPPipe) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if p.State() != StateClosed {
				p.reportErr(&golem.TransportError{Transport: p.name, Err: err})
				p.transition(StateDisconnected)
				p.Emit(EventDisconnect, nil)
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		p.Emit(EventMessage, map[string]any{
			"data": decodePayload(payload),
			"from": from.String(),
		})
	}
}

// Send writes one datagram to the configured remote address.
func (p *UDPPipe) Send(ctx context.Context, data any) error {
	p.mu.Lock()
	conn, remote := p.conn, p.remote
	p.mu.Unlock()
	if conn == nil {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	if remote == nil {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("no remote address configured")}
	}
	return p.sendTo(conn, remote, data)
}

// SendTo writes one datagram to an explicit address.
func (p *UDPPipe) SendTo(ctx context.Context, addr string, data any) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	target, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	return p.sendTo(conn, target, data)
}

func (p *UDPPipe) sendTo(conn *net.UDPConn, addr *net.UDPAddr, data any) error {
	payload, _, err := encodePayload(data)
	if err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	return nil
}

// Disconnect closes the socket. Terminal.
func (p *UDPPipe) Disconnect() error {
	p.setState(StateClosed)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
