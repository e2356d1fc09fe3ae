package golem

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Document is the validated, in-memory shape of a bot declaration. It is
// immutable once built; a hot swap replaces the whole tree. Action lists
// stay as raw maps here and are decoded into Actions when the runtime is
// assembled.
type Document struct {
	Name     string         `mapstructure:"name"`
	Identity map[string]any `mapstructure:"identity"` // opaque, passed to the adapter
	Presence map[string]any `mapstructure:"presence"`
	Intents  []string       `mapstructure:"intents"`

	Commands []CommandDef `mapstructure:"commands"`
	Events   []EventDef   `mapstructure:"events"`
	Flows    []FlowDef    `mapstructure:"flows"`

	State     StateSchema `mapstructure:"state"`
	Scheduler []JobDef    `mapstructure:"scheduler"`
	Pipes     []PipeDef   `mapstructure:"pipes"`

	Locale      LocaleDef          `mapstructure:"locale"`
	Metrics     []MetricDef        `mapstructure:"metrics"`
	Permissions map[string]float64 `mapstructure:"permissions"` // level name → rank
}

// CommandDef is one invocable command. Subcommand groups nest one level: a
// group is a CommandDef whose Subcommands are the leaves.
type CommandDef struct {
	Name        string       `mapstructure:"name"`
	Description string       `mapstructure:"description"`
	Options     []OptionDef  `mapstructure:"options"`
	Subcommands []CommandDef `mapstructure:"subcommands"`
	Access      string       `mapstructure:"access"` // permission level name
	Actions     []any        `mapstructure:"actions"`
}

// OptionDef is one typed command option.
type OptionDef struct {
	Name        string `mapstructure:"name"`
	Type        string `mapstructure:"type"` // string | number | bool | user | channel | role
	Description string `mapstructure:"description"`
	Required    bool   `mapstructure:"required"`
	Default     any    `mapstructure:"default"`
	Choices     []any  `mapstructure:"choices"`
}

// EventDef is one declared event handler.
type EventDef struct {
	Event    string `mapstructure:"event"`
	When     any    `mapstructure:"when"`
	Debounce string `mapstructure:"debounce"` // duration literal
	Throttle string `mapstructure:"throttle"`
	Once     bool   `mapstructure:"once"`
	Actions  []any  `mapstructure:"actions"`
}

// FlowDef is one named flow declaration.
type FlowDef struct {
	Name    string      `mapstructure:"name"`
	Params  []FlowParam `mapstructure:"params"`
	Actions []any       `mapstructure:"actions"`
}

// StateSchema declares variables and tables.
type StateSchema struct {
	Variables map[string]VarDef   `mapstructure:"variables"`
	Tables    map[string]TableDef `mapstructure:"tables"`
}

// JobDef is one cron job declaration. Enabled defaults to true.
type JobDef struct {
	Name     string `mapstructure:"name"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
	Enabled  *bool  `mapstructure:"enabled"`
	Actions  []any  `mapstructure:"actions"`
}

// IsEnabled resolves the Enabled default.
func (j JobDef) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// PipeDef declares one pipe; Config is transport-specific and interpreted
// by the pipe assembly.
type PipeDef struct {
	Name   string         `mapstructure:"name"`
	Type   string         `mapstructure:"type"` // http | webhook | websocket | mqtt | tcp | udp
	Config map[string]any `mapstructure:"config"`
}

// LocaleDef carries the locale string tables and the fallback code.
type LocaleDef struct {
	Default string                    `mapstructure:"default"`
	Strings map[string]map[string]any `mapstructure:"strings"`
}

// MetricDef pre-declares a metric so it exports even before first touch.
type MetricDef struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"` // counter | gauge | histogram
	Help string `mapstructure:"help"`
}

// DecodeDocument converts a raw loaded tree (JSON/TOML/YAML-shaped maps)
// into a Document and validates it.
func DecodeDocument(raw map[string]any) (*Document, error) {
	var doc Document
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ValidationError{Field: "document", Msg: err.Error()}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the parts that would otherwise fail at dispatch time:
// names, identifiers, action list shapes, and timing-rule exclusivity.
func (d *Document) Validate() error {
	seen := make(map[string]bool, len(d.Commands))
	for _, cmd := range d.Commands {
		if cmd.Name == "" {
			return &ValidationError{Field: "commands", Msg: "command without a name"}
		}
		if seen[cmd.Name] {
			return &ValidationError{Field: "commands", Msg: "duplicate command " + cmd.Name}
		}
		seen[cmd.Name] = true
		if err := validateCommand(cmd, cmd.Name); err != nil {
			return err
		}
	}

	for i, ev := range d.Events {
		if ev.Event == "" {
			return &ValidationError{Field: "events", Msg: fmt.Sprintf("event handler %d without an event name", i)}
		}
		if ev.Debounce != "" && ev.Throttle != "" {
			return &ValidationError{Field: "events", Msg: "debounce and throttle are mutually exclusive on " + ev.Event}
		}
		if _, err := DecodeActions(ev.Actions); err != nil {
			return err
		}
		if _, err := DecodeCondition(ev.When); err != nil {
			return err
		}
	}

	flows := make(map[string]bool, len(d.Flows))
	for _, f := range d.Flows {
		if f.Name == "" {
			return &ValidationError{Field: "flows", Msg: "flow without a name"}
		}
		if flows[f.Name] {
			return &ValidationError{Field: "flows", Msg: "duplicate flow " + f.Name}
		}
		flows[f.Name] = true
		if _, err := DecodeActions(f.Actions); err != nil {
			return err
		}
	}

	for name := range d.State.Variables {
		if err := CheckIdentifier("variable", name); err != nil {
			return err
		}
	}
	for name, def := range d.State.Tables {
		if err := CheckIdentifier("table", name); err != nil {
			return err
		}
		for col := range def.Columns {
			if err := CheckIdentifier("column", col); err != nil {
				return err
			}
		}
	}

	for _, job := range d.Scheduler {
		if job.Name == "" || job.Cron == "" {
			return &ValidationError{Field: "scheduler", Msg: "job requires name and cron"}
		}
		if _, err := DecodeActions(job.Actions); err != nil {
			return err
		}
	}

	pipes := make(map[string]bool, len(d.Pipes))
	for _, p := range d.Pipes {
		if p.Name == "" || p.Type == "" {
			return &ValidationError{Field: "pipes", Msg: "pipe requires name and type"}
		}
		if pipes[p.Name] {
			return &ValidationError{Field: "pipes", Msg: "duplicate pipe " + p.Name}
		}
		pipes[p.Name] = true
	}

	return nil
}

func validateCommand(cmd CommandDef, path string) error {
	if len(cmd.Actions) > 0 && len(cmd.Subcommands) > 0 {
		return &ValidationError{Field: "commands", Msg: path + " has both actions and subcommands"}
	}
	if _, err := DecodeActions(cmd.Actions); err != nil {
		return err
	}
	for _, opt := range cmd.Options {
		if opt.Name == "" {
			return &ValidationError{Field: "commands", Msg: path + " has an option without a name"}
		}
	}
	for _, sub := range cmd.Subcommands {
		if sub.Name == "" {
			return &ValidationError{Field: "commands", Msg: path + " has a subcommand without a name"}
		}
		if err := validateCommand(sub, path+" "+sub.Name); err != nil {
			return err
		}
	}
	return nil
}

// FlowTable decodes every flow into executable form.
func (d *Document) FlowTable() (map[string]Flow, error) {
	out := make(map[string]Flow, len(d.Flows))
	for _, f := range d.Flows {
		actions, err := DecodeActions(f.Actions)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", f.Name, err)
		}
		out[f.Name] = Flow{Name: f.Name, Params: f.Params, Actions: actions}
	}
	return out, nil
}
