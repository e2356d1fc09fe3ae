package golem

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/golem/metrics"
	"github.com/spf13/cast"
)

// PipeRegistry is the surface the pipe actions call through. The pipe
// package's Manager satisfies it; the runtime only sees this interface so
// the root package stays transport-free.
type PipeRegistry interface {
	Send(ctx context.Context, pipe string, data any) error
	Request(ctx context.Context, pipe string, data any, responseEvent string, timeout time.Duration) (any, error)
	ConnectAll(ctx context.Context) error
	CloseAll() error
}

// registerTimingActions installs wait and the one-shot timer actions.
func registerTimingActions(e *Executor, sch *Scheduler) {
	e.MustRegister("wait", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		d := inv.Duration("duration", 0)
		if d <= 0 {
			return nil, Continue(), nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil, Continue(), nil
		case <-ctx.Done():
			return nil, Continue(), ctx.Err()
		}
	})

	e.MustRegister("create_timer", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		id, err := inv.String("id")
		if err != nil {
			return nil, Continue(), err
		}
		event, err := inv.String("event")
		if err != nil {
			return nil, Continue(), err
		}
		d := inv.Duration("duration", 0)
		dataVal, err := inv.Value("data")
		if err != nil {
			return nil, Continue(), err
		}
		data, _ := dataVal.(map[string]any)
		return nil, Continue(), sch.CreateTimer(ctx, id, d, event, data)
	})

	e.MustRegister("cancel_timer", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		id, err := inv.String("id")
		if err != nil {
			return nil, Continue(), err
		}
		cancelled := sch.CancelTimer(ctx, id)
		storeAs(inv, cancelled)
		return cancelled, Continue(), nil
	})
}

// registerPipeActions installs pipe_send and pipe_request.
func registerPipeActions(e *Executor, pipes PipeRegistry) {
	e.MustRegister("pipe_send", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		if pipes == nil {
			return nil, Continue(), &ValidationError{Field: "pipe", Msg: "no pipes configured"}
		}
		name, err := inv.String("pipe")
		if err != nil {
			return nil, Continue(), err
		}
		data, err := inv.Value("data")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), pipes.Send(ctx, name, data)
	})

	e.MustRegister("pipe_request", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		if pipes == nil {
			return nil, Continue(), &ValidationError{Field: "pipe", Msg: "no pipes configured"}
		}
		name, err := inv.String("pipe")
		if err != nil {
			return nil, Continue(), err
		}
		data, err := inv.Value("data")
		if err != nil {
			return nil, Continue(), err
		}
		responseEvent, err := inv.String("response_event")
		if err != nil {
			return nil, Continue(), err
		}
		timeout := inv.Duration("timeout", 5*time.Second)
		resp, err := pipes.Request(ctx, name, data, responseEvent, timeout)
		if err != nil {
			return nil, Continue(), err
		}
		storeAs(inv, resp)
		return resp, Continue(), nil
	})
}

// registerMiscActions installs emit, log, and the metrics actions.
func registerMiscActions(e *Executor, emitter EventEmitter, mc *metrics.Collector, logger *slog.Logger) {
	e.MustRegister("emit", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		event, err := inv.String("event")
		if err != nil {
			return nil, Continue(), err
		}
		if event == "" {
			return nil, Continue(), &ValidationError{Field: "event", Msg: "emit requires an event name"}
		}
		dataVal, err := inv.Value("data")
		if err != nil {
			return nil, Continue(), err
		}
		env := map[string]any{"event": event}
		if data, ok := dataVal.(map[string]any); ok {
			for k, v := range data {
				env[k] = v
			}
			env["data"] = data
		}
		emitter.Emit(ctx, event, env)
		return nil, Continue(), nil
	})

	e.MustRegister("log", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		level, err := inv.String("level")
		if err != nil {
			return nil, Continue(), err
		}
		msg, err := inv.String("message")
		if err != nil {
			return nil, Continue(), err
		}
		switch level {
		case "debug":
			logger.Debug(msg)
		case "warn":
			logger.Warn(msg)
		case "error":
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
		return nil, Continue(), nil
	})

	e.MustRegister("metrics_increment", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		by, err := inv.Float("by", 1)
		if err != nil {
			return nil, Continue(), err
		}
		labels, err := labelField(inv)
		if err != nil {
			return nil, Continue(), err
		}
		mc.Increment(name, by, labels)
		return nil, Continue(), nil
	})

	e.MustRegister("metrics_gauge", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		value, err := inv.Float("value", 0)
		if err != nil {
			return nil, Continue(), err
		}
		mc.SetGauge(name, value)
		return nil, Continue(), nil
	})

	e.MustRegister("metrics_observe", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		value, err := inv.Float("value", 0)
		if err != nil {
			return nil, Continue(), err
		}
		mc.Observe(name, value)
		return nil, Continue(), nil
	})
}

func labelField(inv *Invocation) (map[string]string, error) {
	v, err := inv.Value("labels")
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = cast.ToString(val)
	}
	return out, nil
}
