package pipe

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nevindra/golem"
)

// WSConfig describes one WebSocket pipe.
type WSConfig struct {
	URL               string
	Headers           http.Header
	HeartbeatInterval time.Duration // 0 disables the heartbeat
	HeartbeatPayload  any           // sent verbatim each interval
}

// WSPipe is a WebSocket connection with optional heartbeat and a
// request/response overlay keyed by a logical response event.
type WSPipe struct {
	core
	cfg WSConfig

	wmu  sync.Mutex // serializes writes
	conn *websocket.Conn

	hbStop chan struct{}
}

var _ Pipe = (*WSPipe)(nil)

// NewWS creates a WebSocket pipe. Connect establishes the connection.
func NewWS(name string, cfg WSConfig, opts ...Option) *WSPipe {
	p := &WSPipe{cfg: cfg}
	initCore(&p.core, name, "websocket", opts...)
	return p
}

// Connect dials the endpoint and starts the read loop and heartbeat. An
// explicit Connect resets any running reconnect supervisor; a failed dial
// starts it when a policy is enabled.
func (p *WSPipe) Connect(ctx context.Context) error {
	p.cancelSupervisor()
	err := p.dial(ctx)
	if err != nil && p.reconnect.Enabled && p.State() != StateClosed {
		p.supervise(p.dial)
	}
	return err
}

func (p *WSPipe) dial(ctx context.Context) error {
	if !p.transition(StateConnecting) {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("pipe is closed")}
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, p.cfg.Headers)
	if err != nil {
		p.transition(StateDisconnected)
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	p.wmu.Lock()
	p.conn = conn
	p.hbStop = make(chan struct{})
	p.wmu.Unlock()

	p.transition(StateConnected)
	p.logger.Info("websocket connected", "pipe", p.name, "url", p.cfg.URL)
	p.Emit(EventConnect, nil)

	go p.readLoop(conn)
	if p.cfg.HeartbeatInterval > 0 {
		go p.heartbeat(p.hbStop)
	}
	return nil
}

func (p *WSPipe) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			p.stopHeartbeat()
			if p.State() == StateClosed {
				return
			}
			p.reportErr(&golem.TransportError{Transport: p.name, Err: err})
			p.lost(p.dial)
			return
		}
		p.Emit(EventMessage, decodePayload(payload))
	}
}

// heartbeat sends the configured payload at the interval while connected.
func (p *WSPipe) heartbeat(stop chan struct{}) {
	t := time.NewTicker(p.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := p.Send(context.Background(), p.cfg.HeartbeatPayload); err != nil {
				p.logger.Warn("heartbeat send failed", "pipe", p.name, "error", err)
				return
			}
		}
	}
}

func (p *WSPipe) stopHeartbeat() {
	p.wmu.Lock()
	if p.hbStop != nil {
		close(p.hbStop)
		p.hbStop = nil
	}
	p.wmu.Unlock()
}

// Send writes one frame: strings and JSON-marshalled values go as text,
// byte slices as binary.
func (p *WSPipe) Send(ctx context.Context, data any) error {
	if p.State() != StateConnected {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	payload, text, err := encodePayload(data)
	if err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	kind := websocket.BinaryMessage
	if text {
		kind = websocket.TextMessage
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.conn == nil {
		return &golem.TransportError{Transport: p.name, Err: fmt.Errorf("not connected")}
	}
	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(deadline)
	} else {
		p.conn.SetWriteDeadline(time.Time{})
	}
	if err := p.conn.WriteMessage(kind, payload); err != nil {
		return &golem.TransportError{Transport: p.name, Err: err}
	}
	return nil
}

// Request sends data and resolves on the first responseEvent emission
// (EventMessage when empty). Concurrent requests on the same response event
// race; callers pair requests with distinct response events or demultiplex
// by correlation ID above this layer.
func (p *WSPipe) Request(ctx context.Context, data any, responseEvent string, timeout time.Duration) (any, error) {
	if responseEvent == "" {
		responseEvent = EventMessage
	}
	ch := make(chan any, 1)
	var once sync.Once
	off := p.On(responseEvent, func(msg any) {
		once.Do(func() { ch <- msg })
	})
	defer off()

	if err := p.Send(ctx, data); err != nil {
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		return nil, &golem.RequestTimeoutError{Transport: p.name, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Disconnect closes the pipe permanently and cancels reconnection and the
// heartbeat.
func (p *WSPipe) Disconnect() error {
	p.cancelSupervisor()
	p.stopHeartbeat()
	p.setState(StateClosed)
	p.wmu.Lock()
	conn := p.conn
	p.conn = nil
	p.wmu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
