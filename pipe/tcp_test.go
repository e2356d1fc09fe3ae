package pipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/golem"
)

func tcpPair(t *testing.T) (*TCPPipe, *TCPPipe) {
	t.Helper()
	server := NewTCP("srv", TCPConfig{Mode: TCPServer, Address: "127.0.0.1:0"})
	if err := server.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { server.Disconnect() })

	client := NewTCP("cli", TCPConfig{Address: server.Addr()})
	if err := client.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return server, client
}

func waitMessage(t *testing.T, ch <-chan any, d time.Duration) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(d):
		t.Fatal("no message received")
		return nil
	}
}

func TestTCPClientToServer(t *testing.T) {
	server, client := tcpPair(t)

	got := make(chan any, 1)
	server.On(EventMessage, func(data any) { got <- data })

	if err := client.Send(t.Context(), map[string]any{"op": "hello"}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second).(map[string]any)
	body, ok := msg["data"].(map[string]any)
	if !ok || body["op"] != "hello" {
		t.Errorf("data = %v, want op hello", msg["data"])
	}
	if msg["remote"] == "" {
		t.Error("remote address missing")
	}
}

func TestTCPServerBroadcast(t *testing.T) {
	server, client := tcpPair(t)

	got := make(chan any, 1)
	client.On(EventMessage, func(data any) { got <- data })

	// The accept loop may still be registering the connection; send once it
	// lands.
	deadline := time.Now().Add(time.Second)
	for {
		server.mu.Lock()
		n := len(server.conns)
		server.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never registered the client connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := server.Send(t.Context(), map[string]any{"op": "tick"}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second).(map[string]any)
	if body, ok := msg["data"].(map[string]any); !ok || body["op"] != "tick" {
		t.Errorf("data = %v, want op tick", msg["data"])
	}
}

func TestTCPRequestResponse(t *testing.T) {
	server, client := tcpPair(t)

	server.On(EventMessage, func(any) {
		server.Send(context.Background(), map[string]any{"op": "pong"})
	})

	resp, err := client.Request(t.Context(), map[string]any{"op": "ping"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if body, ok := resp.(map[string]any); !ok || body["op"] != "pong" {
		t.Errorf("resp = %v, want op pong", resp)
	}
}

func TestTCPRequestTimeout(t *testing.T) {
	_, client := tcpPair(t)

	_, err := client.Request(t.Context(), map[string]any{"op": "ping"}, 50*time.Millisecond)
	var terr *golem.RequestTimeoutError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want RequestTimeoutError", err)
	}
}

func TestTCPSendWhenClosed(t *testing.T) {
	client := NewTCP("lonely", TCPConfig{Address: "127.0.0.1:1"})
	client.Disconnect()
	err := client.Send(t.Context(), "x")
	var terr *golem.TransportError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want TransportError", err)
	}
}
