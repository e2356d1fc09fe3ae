package golem

import (
	"context"

	"github.com/spf13/cast"
)

// registerStateActions installs the state mutation and table actions. The
// "set"/"delete" pair is dual-purpose: a declared variable goes through the
// state manager (persisted, scoped), an undeclared name is a plain scratch
// write visible to later actions in the same sequence.
func registerStateActions(e *Executor, st *StateManager) {
	e.MustRegister("set", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		value, err := inv.Value("value")
		if err != nil {
			return nil, Continue(), err
		}
		if st != nil && st.HasVar(name) {
			if err := st.Set(ctx, name, value, inv.Scope()); err != nil {
				return nil, Continue(), err
			}
		}
		inv.Ctx.Set(name, value)
		return nil, Continue(), nil
	})

	e.MustRegister("delete", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		if st != nil && st.HasVar(name) {
			if _, err := st.Delete(ctx, name, inv.Scope()); err != nil {
				return nil, Continue(), err
			}
		}
		inv.Ctx.Delete(name)
		return nil, Continue(), nil
	})

	e.MustRegister("get", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		v, err := st.Get(ctx, name, inv.Scope())
		if err != nil {
			return nil, Continue(), err
		}
		storeAs(inv, v)
		return v, Continue(), nil
	})

	e.MustRegister("increment", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		return arithmeticAction(ctx, inv, st.Increment)
	})
	e.MustRegister("decrement", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		return arithmeticAction(ctx, inv, st.Decrement)
	})

	e.MustRegister("list_push", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, value, err := nameValue(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), st.ListPush(ctx, name, value, inv.Scope())
	})

	e.MustRegister("list_remove", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, value, err := nameValue(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), st.ListRemove(ctx, name, value, inv.Scope())
	})

	e.MustRegister("map_put", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, value, err := nameValue(inv)
		if err != nil {
			return nil, Continue(), err
		}
		key, err := inv.String("key")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), st.MapPut(ctx, name, key, value, inv.Scope())
	})

	e.MustRegister("map_delete", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		key, err := inv.String("key")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), st.MapDelete(ctx, name, key, inv.Scope())
	})

	e.MustRegister("db_insert", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		table, err := inv.String("table")
		if err != nil {
			return nil, Continue(), err
		}
		rowVal, err := inv.Value("row")
		if err != nil {
			return nil, Continue(), err
		}
		row, ok := rowVal.(map[string]any)
		if !ok {
			return nil, Continue(), &ValidationError{Field: "row", Msg: "db_insert row must be an object"}
		}
		return nil, Continue(), st.Insert(ctx, table, row)
	})

	e.MustRegister("db_update", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		table, err := inv.String("table")
		if err != nil {
			return nil, Continue(), err
		}
		where, err := objectField(inv, "where")
		if err != nil {
			return nil, Continue(), err
		}
		patch, err := objectField(inv, "set")
		if err != nil {
			return nil, Continue(), err
		}
		n, err := st.Update(ctx, table, where, patch)
		if err != nil {
			return nil, Continue(), err
		}
		storeAs(inv, float64(n))
		return float64(n), Continue(), nil
	})

	e.MustRegister("db_delete", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		table, err := inv.String("table")
		if err != nil {
			return nil, Continue(), err
		}
		where, err := objectField(inv, "where")
		if err != nil {
			return nil, Continue(), err
		}
		n, err := st.DeleteRows(ctx, table, where)
		if err != nil {
			return nil, Continue(), err
		}
		storeAs(inv, float64(n))
		return float64(n), Continue(), nil
	})

	e.MustRegister("db_query", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		table, err := inv.String("table")
		if err != nil {
			return nil, Continue(), err
		}
		where, err := objectField(inv, "where")
		if err != nil {
			return nil, Continue(), err
		}
		orderBy, err := inv.String("order_by")
		if err != nil {
			return nil, Continue(), err
		}
		limit, err := inv.Int("limit", 0)
		if err != nil {
			return nil, Continue(), err
		}
		offset, err := inv.Int("offset", 0)
		if err != nil {
			return nil, Continue(), err
		}
		var sel []string
		if raw, _ := inv.Raw("select"); raw != nil {
			if items, ok := raw.([]any); ok {
				for _, item := range items {
					sel = append(sel, cast.ToString(item))
				}
			}
		}
		rows, err := st.Query(ctx, table, TableQuery{
			Where:   where,
			Select:  sel,
			OrderBy: orderBy,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return nil, Continue(), err
		}
		out := make([]any, len(rows))
		for i, row := range rows {
			out[i] = map[string]any(row)
		}
		storeAs(inv, out)
		return out, Continue(), nil
	})
}

func nameValue(inv *Invocation) (string, any, error) {
	name, err := inv.String("name")
	if err != nil {
		return "", nil, err
	}
	value, err := inv.Value("value")
	if err != nil {
		return "", nil, err
	}
	return name, value, nil
}

func objectField(inv *Invocation, field string) (map[string]any, error) {
	v, err := inv.Value(field)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: field, Msg: field + " must be an object"}
	}
	return m, nil
}

func arithmeticAction(ctx context.Context, inv *Invocation, op func(context.Context, string, float64, ScopeRef) (float64, error)) (any, Signal, error) {
	name, err := inv.String("name")
	if err != nil {
		return nil, Continue(), err
	}
	by, err := inv.Float("by", 1)
	if err != nil {
		return nil, Continue(), err
	}
	v, err := op(ctx, name, by, inv.Scope())
	if err != nil {
		return nil, Continue(), err
	}
	storeAs(inv, v)
	return v, Continue(), nil
}
