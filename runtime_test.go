package golem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakePlatform records platform calls; tests script per-method failures via
// fail.
type fakePlatform struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{fail: make(map[string]error)}
}

func (p *fakePlatform) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.fail[callName(call)]
}

func callName(call string) string {
	for i, r := range call {
		if r == '(' {
			return call[:i]
		}
	}
	return call
}

func (p *fakePlatform) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlatform) SendMessage(_ context.Context, ch string, msg Message) (string, error) {
	return "m1", p.record(fmt.Sprintf("SendMessage(%s, %q)", ch, msg.Content))
}
func (p *fakePlatform) EditMessage(_ context.Context, ch, id string, msg Message) error {
	return p.record(fmt.Sprintf("EditMessage(%s, %s, %q)", ch, id, msg.Content))
}
func (p *fakePlatform) DeleteMessage(_ context.Context, ch, id string) error {
	return p.record(fmt.Sprintf("DeleteMessage(%s, %s)", ch, id))
}
func (p *fakePlatform) SendDM(_ context.Context, user string, msg Message) (string, error) {
	return "dm1", p.record(fmt.Sprintf("SendDM(%s, %q)", user, msg.Content))
}
func (p *fakePlatform) AddReaction(_ context.Context, ch, id, emoji string) error {
	return p.record(fmt.Sprintf("AddReaction(%s, %s, %s)", ch, id, emoji))
}
func (p *fakePlatform) RemoveReaction(_ context.Context, ch, id, emoji string) error {
	return p.record(fmt.Sprintf("RemoveReaction(%s, %s, %s)", ch, id, emoji))
}
func (p *fakePlatform) KickMember(_ context.Context, g, u, reason string) error {
	return p.record(fmt.Sprintf("KickMember(%s, %s, %q)", g, u, reason))
}
func (p *fakePlatform) BanMember(_ context.Context, g, u, reason string, days int) error {
	return p.record(fmt.Sprintf("BanMember(%s, %s, %q, %d)", g, u, reason, days))
}
func (p *fakePlatform) UnbanMember(_ context.Context, g, u string) error {
	return p.record(fmt.Sprintf("UnbanMember(%s, %s)", g, u))
}
func (p *fakePlatform) TimeoutMember(_ context.Context, g, u string, d time.Duration, reason string) error {
	return p.record(fmt.Sprintf("TimeoutMember(%s, %s, %s, %q)", g, u, d, reason))
}
func (p *fakePlatform) SetNickname(_ context.Context, g, u, nick string) error {
	return p.record(fmt.Sprintf("SetNickname(%s, %s, %s)", g, u, nick))
}
func (p *fakePlatform) CreateRole(_ context.Context, g, name string, _ map[string]any) (string, error) {
	return "r1", p.record(fmt.Sprintf("CreateRole(%s, %s)", g, name))
}
func (p *fakePlatform) DeleteRole(_ context.Context, g, r string) error {
	return p.record(fmt.Sprintf("DeleteRole(%s, %s)", g, r))
}
func (p *fakePlatform) AddRole(_ context.Context, g, u, r string) error {
	return p.record(fmt.Sprintf("AddRole(%s, %s, %s)", g, u, r))
}
func (p *fakePlatform) RemoveRole(_ context.Context, g, u, r string) error {
	return p.record(fmt.Sprintf("RemoveRole(%s, %s, %s)", g, u, r))
}
func (p *fakePlatform) CreateChannel(_ context.Context, g, name, kind string, _ map[string]any) (string, error) {
	return "c1", p.record(fmt.Sprintf("CreateChannel(%s, %s, %s)", g, name, kind))
}
func (p *fakePlatform) DeleteChannel(_ context.Context, ch string) error {
	return p.record(fmt.Sprintf("DeleteChannel(%s)", ch))
}
func (p *fakePlatform) FetchGuild(_ context.Context, g string) (map[string]any, error) {
	return map[string]any{"id": g, "name": "Guild " + g}, p.record(fmt.Sprintf("FetchGuild(%s)", g))
}
func (p *fakePlatform) FetchChannel(_ context.Context, ch string) (map[string]any, error) {
	return map[string]any{"id": ch}, p.record(fmt.Sprintf("FetchChannel(%s)", ch))
}
func (p *fakePlatform) FetchUser(_ context.Context, u string) (map[string]any, error) {
	return map[string]any{"id": u}, p.record(fmt.Sprintf("FetchUser(%s)", u))
}
func (p *fakePlatform) FetchMember(_ context.Context, g, u string) (map[string]any, error) {
	return map[string]any{"id": u, "guild": g}, p.record(fmt.Sprintf("FetchMember(%s, %s)", g, u))
}
func (p *fakePlatform) VoiceConnect(_ context.Context, g, ch string) error {
	return p.record(fmt.Sprintf("VoiceConnect(%s, %s)", g, ch))
}
func (p *fakePlatform) VoiceDisconnect(_ context.Context, g string) error {
	return p.record(fmt.Sprintf("VoiceDisconnect(%s)", g))
}
func (p *fakePlatform) VoicePlay(_ context.Context, g, source string) error {
	return p.record(fmt.Sprintf("VoicePlay(%s, %s)", g, source))
}
func (p *fakePlatform) VoiceSeek(_ context.Context, g string, pos time.Duration) error {
	return p.record(fmt.Sprintf("VoiceSeek(%s, %s)", g, pos))
}

var _ PlatformClient = (*fakePlatform)(nil)

func runtimeDocTree() map[string]any {
	return map[string]any{
		"name": "helper",
		"commands": []any{
			map[string]any{
				"name": "ping",
				"actions": []any{
					map[string]any{"action": "reply", "content": "pong"},
				},
			},
			map[string]any{
				"name": "points",
				"options": []any{
					map[string]any{"name": "amount", "type": "number", "required": true},
				},
				"actions": []any{
					map[string]any{"action": "increment", "name": "points", "by": "${args.amount}", "as": "total"},
					map[string]any{"action": "reply", "content": "now ${total}"},
				},
			},
			map[string]any{
				"name":   "mod",
				"access": "moderator",
				"subcommands": []any{
					map[string]any{
						"name": "kick",
						"options": []any{
							map[string]any{"name": "user", "type": "user", "required": true},
							map[string]any{"name": "reason", "type": "string", "default": "no reason"},
						},
						"actions": []any{
							map[string]any{"action": "kick", "user": "${args.user}", "reason": "${args.reason}"},
						},
					},
				},
			},
			map[string]any{
				"name": "mode",
				"options": []any{
					map[string]any{"name": "value", "type": "string", "choices": []any{"on", "off"}},
				},
				"actions": []any{
					map[string]any{"action": "reply", "content": "mode ${args.value}"},
				},
			},
		},
		"events": []any{
			map[string]any{
				"event": "member_join",
				"actions": []any{
					map[string]any{"action": "reply", "channel": "welcome", "content": "hi ${user.name}"},
				},
			},
		},
		"state": map[string]any{
			"variables": map[string]any{
				"points": map[string]any{"type": "number", "default": float64(0), "scope": "user", "persist": true},
			},
		},
		"permissions": map[string]any{
			"everyone":  float64(0),
			"moderator": float64(50),
		},
		"metrics": []any{
			map[string]any{"name": "commands_total", "type": "counter"},
		},
	}
}

func newTestRuntime(t *testing.T, pc PlatformClient) *Runtime {
	t.Helper()
	doc, err := DecodeDocument(runtimeDocTree())
	if err != nil {
		t.Fatal(err)
	}
	rt, err := New(doc, newMemAdapter(),
		WithPlatform(pc),
		WithRuntimeErrorHandler(silentHandler()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func memberEnv(level float64) map[string]any {
	return map[string]any{
		"guild":   map[string]any{"id": "G1"},
		"channel": map[string]any{"id": "C1"},
		"user":    map[string]any{"id": "U1", "name": "ada"},
		"member":  map[string]any{"permission_level": level},
	}
}

func TestNewRejectsNilInputs(t *testing.T) {
	doc, err := DecodeDocument(runtimeDocTree())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(nil, newMemAdapter()); err == nil {
		t.Error("nil document accepted")
	}
	if _, err := New(doc, nil); err == nil {
		t.Error("nil storage accepted")
	}
}

func TestDispatchSimpleCommand(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name: "ping",
		Env:  memberEnv(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	got := pc.list()
	if len(got) != 1 || got[0] != `SendMessage(C1, "pong")` {
		t.Errorf("calls = %v", got)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	rt := newTestRuntime(t, newFakePlatform())
	err := rt.DispatchCommand(context.Background(), CommandInvocation{Name: "nope", Env: memberEnv(0)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestDispatchCoercesNumberOption(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name:    "points",
		Options: map[string]any{"amount": "5"},
		Env:     memberEnv(0),
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := rt.State().Get(context.Background(), "points", ScopeRef{UserID: "U1"})
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(5) {
		t.Errorf("points = %v, want 5", v)
	}
}

func TestDispatchMissingRequiredOption(t *testing.T) {
	rt := newTestRuntime(t, newFakePlatform())
	err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name: "points",
		Env:  memberEnv(0),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestDispatchChoiceEnforced(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name:    "mode",
		Options: map[string]any{"value": "sideways"},
		Env:     memberEnv(0),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	if err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name:    "mode",
		Options: map[string]any{"value": "on"},
		Env:     memberEnv(0),
	}); err != nil {
		t.Errorf("valid choice rejected: %v", err)
	}
}

func TestDispatchSubcommandWithAccess(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	inv := CommandInvocation{
		Name:    "mod",
		Path:    []string{"kick"},
		Options: map[string]any{"user": "U9"},
		Env:     memberEnv(10),
	}
	err := rt.DispatchCommand(context.Background(), inv)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Kind != RuntimeScope {
		t.Fatalf("low-level member: err = %v, want scope RuntimeError", err)
	}

	inv.Env = memberEnv(75)
	if err := rt.DispatchCommand(context.Background(), inv); err != nil {
		t.Fatal(err)
	}
	got := pc.list()
	if len(got) != 1 || got[0] != `KickMember(G1, U9, "no reason")` {
		t.Errorf("calls = %v, want the kick with the defaulted reason", got)
	}
}

func TestDispatchUnknownSubcommand(t *testing.T) {
	rt := newTestRuntime(t, newFakePlatform())
	err := rt.DispatchCommand(context.Background(), CommandInvocation{
		Name: "mod",
		Path: []string{"banish"},
		Env:  memberEnv(99),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestEmitEventRunsHandlers(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	rt.EmitEvent(context.Background(), "member_join", memberEnv(0))
	got := pc.list()
	if len(got) != 1 || got[0] != `SendMessage(welcome, "hi ada")` {
		t.Errorf("calls = %v", got)
	}
}

func TestPlatformFailureWrappedAsExternal(t *testing.T) {
	pc := newFakePlatform()
	pc.fail["SendMessage"] = errors.New("rate limited")
	rt := newTestRuntime(t, pc)

	err := rt.DispatchCommand(context.Background(), CommandInvocation{Name: "ping", Env: memberEnv(0)})
	var eerr *ExternalError
	if !errors.As(err, &eerr) {
		t.Errorf("err = %v, want ExternalError", err)
	}
}

func TestSwapReplacesCommands(t *testing.T) {
	pc := newFakePlatform()
	rt := newTestRuntime(t, pc)

	tree := map[string]any{
		"name": "helper-v2",
		"commands": []any{
			map[string]any{
				"name": "hello",
				"actions": []any{
					map[string]any{"action": "reply", "content": "v2"},
				},
			},
		},
	}
	doc, err := DecodeDocument(tree)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Swap(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	if err := rt.DispatchCommand(context.Background(), CommandInvocation{Name: "ping", Env: memberEnv(0)}); err == nil {
		t.Error("old command survived the swap")
	}
	if err := rt.DispatchCommand(context.Background(), CommandInvocation{Name: "hello", Env: memberEnv(0)}); err != nil {
		t.Errorf("new command missing after swap: %v", err)
	}
}

func TestMetricPreDeclared(t *testing.T) {
	rt := newTestRuntime(t, newFakePlatform())
	out := rt.Metrics().Export()
	if out == "" {
		t.Fatal("Export empty, want the pre-declared counter")
	}
	if got := rt.Metrics().Counter("commands_total", nil); got != 0 {
		t.Errorf("pre-declared counter = %v, want 0", got)
	}
}
