package pipe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nevindra/golem"
)

// echoServer upgrades each request and echoes every frame back.
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSConnectAndEcho(t *testing.T) {
	p := NewWS("echo", WSConfig{URL: echoServer(t)})

	connected := make(chan any, 1)
	p.On(EventConnect, func(data any) { connected <- data })
	got := make(chan any, 1)
	p.On(EventMessage, func(data any) { got <- data })

	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Disconnect() })
	waitMessage(t, connected, time.Second)
	if p.State() != StateConnected {
		t.Errorf("state = %v, want connected", p.State())
	}

	if err := p.Send(t.Context(), map[string]any{"op": "hi"}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second)
	if body, ok := msg.(map[string]any); !ok || body["op"] != "hi" {
		t.Errorf("echo = %v, want op hi", msg)
	}
}

func TestWSRequest(t *testing.T) {
	p := NewWS("echo", WSConfig{URL: echoServer(t)})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Disconnect() })

	resp, err := p.Request(t.Context(), map[string]any{"id": float64(7)}, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if body, ok := resp.(map[string]any); !ok || body["id"] != float64(7) {
		t.Errorf("resp = %v, want the echoed request", resp)
	}
}

func TestWSRequestTimeout(t *testing.T) {
	// A server that swallows frames instead of echoing.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	p := NewWS("mute", WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Disconnect() })

	_, err := p.Request(t.Context(), "anyone there", "", 50*time.Millisecond)
	var terr *golem.RequestTimeoutError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want RequestTimeoutError", err)
	}
}

func TestWSHeartbeat(t *testing.T) {
	frames := make(chan []byte, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- payload
		}
	}))
	t.Cleanup(srv.Close)

	p := NewWS("hb", WSConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatPayload:  map[string]any{"op": "heartbeat"},
	})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Disconnect() })

	select {
	case payload := <-frames:
		if !strings.Contains(string(payload), "heartbeat") {
			t.Errorf("frame = %s, want the heartbeat payload", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat sent")
	}
}

func TestWSSendBeforeConnect(t *testing.T) {
	p := NewWS("idle", WSConfig{URL: "ws://127.0.0.1:1"})
	err := p.Send(t.Context(), "x")
	var terr *golem.TransportError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want TransportError", err)
	}
}

func TestWSDisconnectIsTerminal(t *testing.T) {
	p := NewWS("done", WSConfig{URL: echoServer(t)})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
	if err := p.Connect(t.Context()); err == nil {
		t.Error("Connect after Disconnect succeeded, want closed error")
	}
}
