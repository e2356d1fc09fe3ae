package pipe

import (
	"errors"
	"testing"
	"time"

	"github.com/nevindra/golem"
)

func TestUDPSendReceive(t *testing.T) {
	receiver := NewUDP("rx", UDPConfig{ListenAddress: "127.0.0.1:0"})
	if err := receiver.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { receiver.Disconnect() })

	sender := NewUDP("tx", UDPConfig{RemoteAddress: receiver.Addr()})
	if err := sender.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sender.Disconnect() })

	got := make(chan any, 1)
	receiver.On(EventMessage, func(data any) { got <- data })

	if err := sender.Send(t.Context(), map[string]any{"reading": float64(21)}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second).(map[string]any)
	body, ok := msg["data"].(map[string]any)
	if !ok || body["reading"] != float64(21) {
		t.Errorf("data = %v, want reading 21", msg["data"])
	}
	if msg["from"] == "" {
		t.Error("from address missing")
	}
}

func TestUDPSendTo(t *testing.T) {
	receiver := NewUDP("rx", UDPConfig{ListenAddress: "127.0.0.1:0"})
	if err := receiver.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { receiver.Disconnect() })

	// No default remote configured.
	sender := NewUDP("tx", UDPConfig{})
	if err := sender.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sender.Disconnect() })

	if err := sender.Send(t.Context(), "x"); err == nil {
		t.Error("Send without a remote address succeeded")
	}

	got := make(chan any, 1)
	receiver.On(EventMessage, func(data any) { got <- data })
	if err := sender.SendTo(t.Context(), receiver.Addr(), map[string]any{"op": "direct"}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second).(map[string]any)
	if body, ok := msg["data"].(map[string]any); !ok || body["op"] != "direct" {
		t.Errorf("data = %v, want op direct", msg["data"])
	}
}

func TestUDPRawBytesDeliveredAsIs(t *testing.T) {
	receiver := NewUDP("rx", UDPConfig{ListenAddress: "127.0.0.1:0"})
	if err := receiver.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { receiver.Disconnect() })

	sender := NewUDP("tx", UDPConfig{RemoteAddress: receiver.Addr()})
	if err := sender.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sender.Disconnect() })

	got := make(chan any, 1)
	receiver.On(EventMessage, func(data any) { got <- data })
	if err := sender.Send(t.Context(), []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatal(err)
	}
	msg := waitMessage(t, got, time.Second).(map[string]any)
	raw, ok := msg["data"].([]byte)
	if !ok || len(raw) != 3 || raw[0] != 0x01 {
		t.Errorf("data = %v, want the raw bytes", msg["data"])
	}
}

func TestUDPSendAfterDisconnect(t *testing.T) {
	p := NewUDP("x", UDPConfig{ListenAddress: "127.0.0.1:0"})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatal(err)
	}
	p.Disconnect()
	err := p.Send(t.Context(), "x")
	var terr *golem.TransportError
	if !errors.As(err, &terr) {
		t.Errorf("err = %v, want TransportError", err)
	}
}
