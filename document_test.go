package golem

import (
	"errors"
	"testing"
)

func sampleDocTree() map[string]any {
	return map[string]any{
		"name": "helper",
		"commands": []any{
			map[string]any{
				"name":        "ping",
				"description": "latency check",
				"actions": []any{
					map[string]any{"action": "reply", "content": "pong"},
				},
			},
			map[string]any{
				"name":   "admin",
				"access": "moderator",
				"subcommands": []any{
					map[string]any{
						"name": "purge",
						"options": []any{
							map[string]any{"name": "count", "type": "number", "required": true},
						},
						"actions": []any{
							map[string]any{"action": "bulk_delete", "count": "${count}"},
						},
					},
				},
			},
		},
		"events": []any{
			map[string]any{
				"event": "message",
				"when":  "content != ''",
				"actions": []any{
					map[string]any{"action": "emit", "event": "seen"},
				},
			},
		},
		"flows": []any{
			map[string]any{
				"name": "greet",
				"params": []any{
					map[string]any{"name": "who", "default": "world"},
				},
				"actions": []any{
					map[string]any{"action": "return", "value": "hi ${who}"},
				},
			},
		},
		"state": map[string]any{
			"variables": map[string]any{
				"counter": map[string]any{"type": "number", "default": float64(0), "scope": "guild"},
			},
		},
		"scheduler": []any{
			map[string]any{"name": "purge", "cron": "0 3 * * *", "enabled": false},
		},
		"pipes": []any{
			map[string]any{"name": "feed", "type": "websocket", "config": map[string]any{"url": "wss://x"}},
		},
		"permissions": map[string]any{
			"everyone":  float64(0),
			"moderator": float64(50),
		},
	}
}

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument(sampleDocTree())
	if err != nil {
		t.Fatal(err)
	}
	if doc.Name != "helper" {
		t.Errorf("Name = %q, want helper", doc.Name)
	}
	if len(doc.Commands) != 2 {
		t.Fatalf("Commands = %d, want 2", len(doc.Commands))
	}
	if doc.Commands[1].Subcommands[0].Options[0].Type != "number" {
		t.Error("subcommand option type lost in decode")
	}
	if doc.Scheduler[0].IsEnabled() {
		t.Error("enabled=false job decoded as enabled")
	}
	if doc.Permissions["moderator"] != 50 {
		t.Errorf("moderator rank = %v, want 50", doc.Permissions["moderator"])
	}
}

func TestJobEnabledDefault(t *testing.T) {
	j := JobDef{Name: "x", Cron: "* * * * *"}
	if !j.IsEnabled() {
		t.Error("job without an enabled field must default to enabled")
	}
}

func decodeErr(t *testing.T, mutate func(map[string]any)) error {
	t.Helper()
	tree := sampleDocTree()
	mutate(tree)
	_, err := DecodeDocument(tree)
	return err
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"duplicate command", func(m map[string]any) {
			m["commands"] = []any{
				map[string]any{"name": "ping"},
				map[string]any{"name": "ping"},
			}
		}},
		{"command without name", func(m map[string]any) {
			m["commands"] = []any{map[string]any{"description": "x"}}
		}},
		{"actions and subcommands together", func(m map[string]any) {
			m["commands"] = []any{map[string]any{
				"name":        "c",
				"actions":     []any{map[string]any{"action": "reply"}},
				"subcommands": []any{map[string]any{"name": "s"}},
			}}
		}},
		{"event without name", func(m map[string]any) {
			m["events"] = []any{map[string]any{"actions": []any{}}}
		}},
		{"debounce and throttle", func(m map[string]any) {
			m["events"] = []any{map[string]any{
				"event": "e", "debounce": "1s", "throttle": "1s",
			}}
		}},
		{"action missing discriminator", func(m map[string]any) {
			m["events"] = []any{map[string]any{
				"event":   "e",
				"actions": []any{map[string]any{"content": "no action key"}},
			}}
		}},
		{"duplicate flow", func(m map[string]any) {
			m["flows"] = []any{
				map[string]any{"name": "f"},
				map[string]any{"name": "f"},
			}
		}},
		{"bad variable identifier", func(m map[string]any) {
			m["state"] = map[string]any{
				"variables": map[string]any{
					"drop table": map[string]any{"type": "number"},
				},
			}
		}},
		{"bad column identifier", func(m map[string]any) {
			m["state"] = map[string]any{
				"tables": map[string]any{
					"scores": map[string]any{
						"columns": map[string]any{"1bad": map[string]any{"type": "string"}},
					},
				},
			}
		}},
		{"job without cron", func(m map[string]any) {
			m["scheduler"] = []any{map[string]any{"name": "j"}}
		}},
		{"duplicate pipe", func(m map[string]any) {
			m["pipes"] = []any{
				map[string]any{"name": "p", "type": "tcp"},
				map[string]any{"name": "p", "type": "udp"},
			}
		}},
		{"bad when condition", func(m map[string]any) {
			m["events"] = []any{map[string]any{
				"event": "e",
				"when":  map[string]any{"nand": []any{}},
			}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeErr(t, tt.mutate)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestFlowTable(t *testing.T) {
	doc, err := DecodeDocument(sampleDocTree())
	if err != nil {
		t.Fatal(err)
	}
	flows, err := doc.FlowTable()
	if err != nil {
		t.Fatal(err)
	}
	f, ok := flows["greet"]
	if !ok {
		t.Fatal("flow greet missing")
	}
	if len(f.Params) != 1 || f.Params[0].Name != "who" || f.Params[0].Default != "world" {
		t.Errorf("params = %+v", f.Params)
	}
	if len(f.Actions) != 1 || f.Actions[0].Name != "return" {
		t.Errorf("actions = %+v", f.Actions)
	}
}
