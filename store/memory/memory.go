// Package memory implements golem.StorageAdapter with in-process maps.
// It backs tests and local runs; nothing survives a restart.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nevindra/golem"
	"github.com/spf13/cast"
)

// StoreOption configures a memory Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. If not set, no logs are
// emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements golem.StorageAdapter over plain maps guarded by a single
// mutex. Expired KV entries are deleted on read, matching the SQL adapters.
type Store struct {
	mu     sync.Mutex
	kv     map[string]golem.StoredValue
	tables map[string]*table
	logger *slog.Logger
}

type table struct {
	def  golem.TableDef
	rows []map[string]any
}

var _ golem.StorageAdapter = (*Store)(nil)

// New creates an empty in-memory store.
func New(opts ...StoreOption) *Store {
	s := &Store{
		kv:     make(map[string]golem.StoredValue),
		tables: make(map[string]*table),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init is a no-op; the store is ready on construction.
func (s *Store) Init(ctx context.Context) error { return nil }

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string]golem.StoredValue)
	s.tables = make(map[string]*table)
	return nil
}

// --- KV ---

func (s *Store) Get(ctx context.Context, key string) (golem.StoredValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return golem.StoredValue{}, false, nil
	}
	if v.Expired(time.Now().UnixMilli()) {
		delete(s.kv, key)
		return golem.StoredValue{}, false, nil
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value golem.StoredValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	s.logger.Debug("memory: set", "key", key, "type", value.TypeTag)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.kv[key]
	delete(s.kv, key)
	return ok, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Keys(ctx context.Context, glob string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	var keys []string
	for k, v := range s.kv {
		if v.Expired(now) {
			delete(s.kv, k)
			continue
		}
		if golem.MatchGlob(glob, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string]golem.StoredValue)
	return nil
}

// --- Tabular ---

func (s *Store) CreateTable(ctx context.Context, name string, def golem.TableDef) error {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return err
	}
	for col := range def.Columns {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = &table{def: def}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, name string, row map[string]any) error {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return err
	}
	for col := range row {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return &golem.ValidationError{Field: "table", Msg: "unknown table " + name}
	}
	stored := make(map[string]any, len(row))
	for k, v := range row {
		stored[k] = v
	}
	for col, def := range t.def.Columns {
		if _, ok := stored[col]; !ok && def.Default != nil && golem.PrimitiveDefault(def.Default) {
			stored[col] = def.Default
		}
	}
	t.rows = append(t.rows, stored)
	return nil
}

func (s *Store) Update(ctx context.Context, name string, where map[string]any, patch map[string]any) (int64, error) {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return 0, err
	}
	if err := checkCols(where); err != nil {
		return 0, err
	}
	if err := checkCols(patch); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return 0, &golem.ValidationError{Field: "table", Msg: "unknown table " + name}
	}
	var n int64
	for _, row := range t.rows {
		if !matches(row, where) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		n++
	}
	return n, nil
}

func (s *Store) DeleteRows(ctx context.Context, name string, where map[string]any) (int64, error) {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return 0, err
	}
	if err := checkCols(where); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return 0, &golem.ValidationError{Field: "table", Msg: "unknown table " + name}
	}
	kept := t.rows[:0]
	var n int64
	for _, row := range t.rows {
		if matches(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return n, nil
}

func (s *Store) Query(ctx context.Context, name string, q golem.TableQuery) ([]map[string]any, error) {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return nil, err
	}
	if err := checkCols(q.Where); err != nil {
		return nil, err
	}
	if err := golem.CheckIdentifiers("column", q.Select...); err != nil {
		return nil, err
	}
	q = golem.ClampQuery(q)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, &golem.ValidationError{Field: "table", Msg: "unknown table " + name}
	}

	var out []map[string]any
	for _, row := range t.rows {
		if matches(row, q.Where) {
			out = append(out, row)
		}
	}

	if col, desc, ok := golem.ParseOrderBy(q.OrderBy); ok && q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValue(out[i][col], out[j][col])
			if desc {
				return !less && !equalValue(out[i][col], out[j][col])
			}
			return less
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}

	// Copy rows out (projected if requested) so callers cannot mutate storage.
	result := make([]map[string]any, len(out))
	for i, row := range out {
		if len(q.Select) > 0 {
			proj := make(map[string]any, len(q.Select))
			for _, col := range q.Select {
				if v, ok := row[col]; ok {
					proj[col] = v
				}
			}
			result[i] = proj
			continue
		}
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		result[i] = cp
	}
	return result, nil
}

func checkCols(m map[string]any) error {
	for col := range m {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return err
		}
	}
	return nil
}

func matches(row map[string]any, where map[string]any) bool {
	for k, want := range where {
		if !equalValue(row[k], want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if an, err := cast.ToFloat64E(a); err == nil {
		if bn, err := cast.ToFloat64E(b); err == nil {
			return an == bn
		}
		return false
	}
	return cast.ToString(a) == cast.ToString(b)
}

func lessValue(a, b any) bool {
	if an, err := cast.ToFloat64E(a); err == nil {
		if bn, err := cast.ToFloat64E(b); err == nil {
			return an < bn
		}
	}
	return cast.ToString(a) < cast.ToString(b)
}
