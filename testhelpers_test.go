package golem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// memAdapter is a minimal in-process StorageAdapter for the root package
// tests. The full-featured adapter lives in store/memory; the root tests
// cannot import it (it imports this package), so they use this stub.
type memAdapter struct {
	mu     sync.Mutex
	kv     map[string]StoredValue
	tables map[string][]map[string]any
	defs   map[string]TableDef

	// setCalls counts KV writes; tests assert write-through behavior.
	setCalls int
}

var _ StorageAdapter = (*memAdapter)(nil)

func newMemAdapter() *memAdapter {
	return &memAdapter{
		kv:     make(map[string]StoredValue),
		tables: make(map[string][]map[string]any),
		defs:   make(map[string]TableDef),
	}
}

func (a *memAdapter) Init(ctx context.Context) error { return nil }
func (a *memAdapter) Close() error                   { return nil }

func (a *memAdapter) Get(ctx context.Context, key string) (StoredValue, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.kv[key]
	if !ok || v.Expired(time.Now().UnixMilli()) {
		delete(a.kv, key)
		return StoredValue{}, false, nil
	}
	return v, true, nil
}

func (a *memAdapter) Set(ctx context.Context, key string, v StoredValue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kv[key] = v
	a.setCalls++
	return nil
}

func (a *memAdapter) Delete(ctx context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.kv[key]
	delete(a.kv, key)
	return ok, nil
}

func (a *memAdapter) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := a.Get(ctx, key)
	return ok, err
}

func (a *memAdapter) Keys(ctx context.Context, glob string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.kv {
		if MatchGlob(glob, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *memAdapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kv = make(map[string]StoredValue)
	return nil
}

func (a *memAdapter) CreateTable(ctx context.Context, name string, def TableDef) error {
	if err := CheckIdentifier("table", name); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tables[name]; !ok {
		a.tables[name] = nil
		a.defs[name] = def
	}
	return nil
}

func (a *memAdapter) Insert(ctx context.Context, table string, row map[string]any) error {
	if err := CheckIdentifier("table", table); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make(map[string]any, len(row))
	for k, v := range row {
		cp[k] = v
	}
	a.tables[table] = append(a.tables[table], cp)
	return nil
}

func (a *memAdapter) Update(ctx context.Context, table string, where, patch map[string]any) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, row := range a.tables[table] {
		if rowMatches(row, where) {
			for k, v := range patch {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

func (a *memAdapter) DeleteRows(ctx context.Context, table string, where map[string]any) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.tables[table][:0]
	var n int64
	for _, row := range a.tables[table] {
		if rowMatches(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	a.tables[table] = kept
	return n, nil
}

func (a *memAdapter) Query(ctx context.Context, table string, q TableQuery) ([]map[string]any, error) {
	if err := CheckIdentifier("table", table); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []map[string]any
	for _, row := range a.tables[table] {
		if rowMatches(row, q.Where) {
			cp := make(map[string]any, len(row))
			for k, v := range row {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func rowMatches(row, where map[string]any) bool {
	for k, want := range where {
		if cast.ToString(row[k]) != cast.ToString(want) {
			return false
		}
	}
	return true
}
