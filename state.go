package golem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"
)

// Variable scopes. Each scope partitions the key space differently; the
// canonical storage key is var/<scope>/<scope params...>/<name>.
const (
	ScopeGlobal  = "global"
	ScopeGuild   = "guild"
	ScopeChannel = "channel"
	ScopeUser    = "user"
	ScopeMember  = "member"
)

// VarDef declares a state variable: its scope, default, TTL, and whether it
// persists (non-persistent variables still flow through the adapter; the
// loader may map them to an in-memory adapter).
type VarDef struct {
	Type    string        `mapstructure:"type"`
	Scope   string        `mapstructure:"scope"`
	Default any           `mapstructure:"default"`
	TTL     string        `mapstructure:"ttl"`
	Persist bool          `mapstructure:"persist"`
	ttl     time.Duration // parsed once at registration
}

// ScopeRef carries the entity IDs a scoped access resolves against. Only the
// IDs the variable's declared scope needs are consulted; extra IDs are
// ignored, so a user-scoped read under {user, guild} resolves to the user
// scope.
type ScopeRef struct {
	GuildID   string
	ChannelID string
	UserID    string
}

// ScopeFromEnv extracts a ScopeRef from an evaluation context. It accepts
// both entity objects ({"guild": {"id": "G"}}) and flat keys ("guildId").
func ScopeFromEnv(env map[string]any) ScopeRef {
	id := func(entity, flat string) string {
		if m, ok := env[entity].(map[string]any); ok {
			if s, ok := m["id"].(string); ok {
				return s
			}
		}
		if s, ok := env[flat].(string); ok {
			return s
		}
		return ""
	}
	return ScopeRef{
		GuildID:   id("guild", "guildId"),
		ChannelID: id("channel", "channelId"),
		UserID:    id("user", "userId"),
	}
}

// StateOption configures a StateManager.
type StateOption func(*StateManager)

// WithStateLogger sets a structured logger. If not set, no logs are emitted.
func WithStateLogger(l *slog.Logger) StateOption {
	return func(m *StateManager) { m.logger = l }
}

// WithCacheSize bounds the cache entry count (default 10 000).
func WithCacheSize(n int) StateOption {
	return func(m *StateManager) { m.cacheSize = n }
}

// WithCacheTTL sets the per-entry cache TTL (default 60s).
func WithCacheTTL(d time.Duration) StateOption {
	return func(m *StateManager) { m.cacheTTL = d }
}

// WithClock overrides the time source; tests use it to force expiry.
func WithClock(now func() time.Time) StateOption {
	return func(m *StateManager) { m.now = now }
}

// StateManager implements scoped variables over a StorageAdapter: scope
// resolution, default materialization, TTL enforcement, a write-through
// cache, and serialized arithmetic per (scope key, name). Table operations
// delegate to the adapter after a registry check.
type StateManager struct {
	adapter   StorageAdapter
	vars      map[string]VarDef
	tables    map[string]TableDef
	cache     *stateCache
	km        *keyedMutex
	logger    *slog.Logger
	cacheSize int
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewStateManager builds a manager over the adapter from declared variables
// and tables. Call Init to create the declared tables.
func NewStateManager(adapter StorageAdapter, vars map[string]VarDef, tables map[string]TableDef, opts ...StateOption) *StateManager {
	m := &StateManager{
		adapter: adapter,
		vars:    make(map[string]VarDef, len(vars)),
		tables:  make(map[string]TableDef, len(tables)),
		km:      newKeyedMutex(),
		logger:  nopLogger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.cache = newStateCache(m.cacheSize, m.cacheTTL, m.now)
	for name, def := range vars {
		if def.Scope == "" {
			def.Scope = ScopeGlobal
		}
		if def.TTL != "" {
			if d, err := ParseDuration(def.TTL); err == nil {
				def.ttl = d
			}
		}
		m.vars[name] = def
	}
	for name, def := range tables {
		m.tables[name] = def
	}
	return m
}

// Init creates every declared table through the adapter.
func (m *StateManager) Init(ctx context.Context) error {
	for name, def := range m.tables {
		if err := m.adapter.CreateTable(ctx, name, def); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}

// Close clears the cache. The adapter is closed by its owner.
func (m *StateManager) Close() error {
	m.cache.purge()
	return nil
}

// keyFor builds the canonical storage key, failing with a scope
// RuntimeError when a required ID is absent. Violations are programming
// errors and are never silently coerced to another scope.
func (m *StateManager) keyFor(def VarDef, name string, sc ScopeRef) (string, error) {
	switch def.Scope {
	case ScopeGlobal:
		return "var/global/" + name, nil
	case ScopeGuild:
		if sc.GuildID == "" {
			return "", &RuntimeError{Kind: RuntimeScope, Msg: "variable " + name + " is guild-scoped but no guildId in context"}
		}
		return "var/guild/" + sc.GuildID + "/" + name, nil
	case ScopeChannel:
		if sc.ChannelID == "" {
			return "", &RuntimeError{Kind: RuntimeScope, Msg: "variable " + name + " is channel-scoped but no channelId in context"}
		}
		return "var/channel/" + sc.ChannelID + "/" + name, nil
	case ScopeUser:
		if sc.UserID == "" {
			return "", &RuntimeError{Kind: RuntimeScope, Msg: "variable " + name + " is user-scoped but no userId in context"}
		}
		return "var/user/" + sc.UserID + "/" + name, nil
	case ScopeMember:
		if sc.GuildID == "" || sc.UserID == "" {
			return "", &RuntimeError{Kind: RuntimeScope, Msg: "variable " + name + " is member-scoped but guildId or userId missing from context"}
		}
		return "var/member/" + sc.GuildID + "/" + sc.UserID + "/" + name, nil
	default:
		return "", &ValidationError{Field: "scope", Msg: "unknown scope " + def.Scope + " on variable " + name}
	}
}

// HasVar reports whether a variable is declared in the schema.
func (m *StateManager) HasVar(name string) bool {
	_, ok := m.vars[name]
	return ok
}

func (m *StateManager) varDef(name string) (VarDef, error) {
	def, ok := m.vars[name]
	if !ok {
		return VarDef{}, &ValidationError{Field: "variable", Msg: "undeclared variable " + name}
	}
	return def, nil
}

// Get returns the stored value, or the declared default when nothing is
// stored. A stored zero value (0, "", false) shadows the default.
func (m *StateManager) Get(ctx context.Context, name string, sc ScopeRef) (any, error) {
	def, err := m.varDef(name)
	if err != nil {
		return nil, err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return nil, err
	}
	v, ok, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def.Default, nil
	}
	return v.Value, nil
}

// Has reports whether a value is stored (defaults do not count).
func (m *StateManager) Has(ctx context.Context, name string, sc ScopeRef) (bool, error) {
	def, err := m.varDef(name)
	if err != nil {
		return false, err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return false, err
	}
	_, ok, err := m.load(ctx, key)
	return ok, err
}

// load consults the cache first, then storage, refreshing the cache on a
// storage hit.
func (m *StateManager) load(ctx context.Context, key string) (StoredValue, bool, error) {
	if v, ok := m.cache.get(key); ok {
		return v, true, nil
	}
	v, ok, err := m.adapter.Get(ctx, key)
	if err != nil || !ok {
		return StoredValue{}, false, err
	}
	if v.Expired(m.now().UnixMilli()) {
		return StoredValue{}, false, nil
	}
	m.cache.put(key, v)
	return v, true, nil
}

// Set writes through: storage commits first, then the cache entry is
// refreshed.
func (m *StateManager) Set(ctx context.Context, name string, value any, sc ScopeRef) error {
	def, err := m.varDef(name)
	if err != nil {
		return err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return err
	}
	return m.write(ctx, key, def, value)
}

func (m *StateManager) write(ctx context.Context, key string, def VarDef, value any) error {
	now := m.now().UnixMilli()
	sv := StoredValue{
		Value:     value,
		TypeTag:   TypeTagOf(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := m.cache.get(key); ok {
		sv.CreatedAt = prev.CreatedAt
	}
	if def.ttl > 0 {
		sv.ExpiresAt = now + def.ttl.Milliseconds()
	}
	if err := m.adapter.Set(ctx, key, sv); err != nil {
		return err
	}
	m.cache.put(key, sv)
	m.logger.Debug("state: set", "key", key, "type", sv.TypeTag)
	return nil
}

// Delete removes the stored value; the declared default becomes visible
// again on the next Get.
func (m *StateManager) Delete(ctx context.Context, name string, sc ScopeRef) (bool, error) {
	def, err := m.varDef(name)
	if err != nil {
		return false, err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return false, err
	}
	m.cache.remove(key)
	return m.adapter.Delete(ctx, key)
}

// Increment atomically adds delta to a numeric variable and returns the new
// value. Calls for the same (scope key, name) are serialized; N concurrent
// increments from k produce k+Σδ with each call observing a distinct prefix
// sum.
func (m *StateManager) Increment(ctx context.Context, name string, delta float64, sc ScopeRef) (float64, error) {
	def, err := m.varDef(name)
	if err != nil {
		return 0, err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return 0, err
	}

	unlock := m.km.Lock(key)
	defer unlock()

	cur := 0.0
	v, ok, err := m.load(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		cur = cast.ToFloat64(v.Value)
	} else if def.Default != nil {
		cur = cast.ToFloat64(def.Default)
	}
	next := cur + delta
	if err := m.write(ctx, key, def, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Decrement is Increment with a negated delta.
func (m *StateManager) Decrement(ctx context.Context, name string, delta float64, sc ScopeRef) (float64, error) {
	return m.Increment(ctx, name, -delta, sc)
}

// ListPush appends to a list variable, creating it from the default (or
// empty) when absent.
func (m *StateManager) ListPush(ctx context.Context, name string, item any, sc ScopeRef) error {
	return m.mutate(ctx, name, sc, func(cur any) any {
		list, _ := cur.([]any)
		return append(list, item)
	})
}

// ListRemove removes every element equal to item. Equality is loose:
// numbers compare numerically, everything else by string form.
func (m *StateManager) ListRemove(ctx context.Context, name string, item any, sc ScopeRef) error {
	return m.mutate(ctx, name, sc, func(cur any) any {
		list, _ := cur.([]any)
		kept := make([]any, 0, len(list))
		for _, e := range list {
			if !looseEqual(e, item) {
				kept = append(kept, e)
			}
		}
		return kept
	})
}

// MapPut sets a key in a map variable.
func (m *StateManager) MapPut(ctx context.Context, name, field string, value any, sc ScopeRef) error {
	return m.mutate(ctx, name, sc, func(cur any) any {
		mp, ok := cur.(map[string]any)
		if !ok {
			mp = make(map[string]any)
		} else {
			cp := make(map[string]any, len(mp)+1)
			for k, v := range mp {
				cp[k] = v
			}
			mp = cp
		}
		mp[field] = value
		return mp
	})
}

// MapDelete removes a key from a map variable.
func (m *StateManager) MapDelete(ctx context.Context, name, field string, sc ScopeRef) error {
	return m.mutate(ctx, name, sc, func(cur any) any {
		mp, ok := cur.(map[string]any)
		if !ok {
			return map[string]any{}
		}
		cp := make(map[string]any, len(mp))
		for k, v := range mp {
			if k != field {
				cp[k] = v
			}
		}
		return cp
	})
}

// mutate is a read-modify-write under the same keyed mutex arithmetic uses.
func (m *StateManager) mutate(ctx context.Context, name string, sc ScopeRef, fn func(any) any) error {
	def, err := m.varDef(name)
	if err != nil {
		return err
	}
	key, err := m.keyFor(def, name, sc)
	if err != nil {
		return err
	}

	unlock := m.km.Lock(key)
	defer unlock()

	var cur any
	v, ok, err := m.load(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		cur = v.Value
	} else {
		cur = def.Default
	}
	return m.write(ctx, key, def, fn(cur))
}

// --- Tables ---

// HasTable reports whether the table is declared.
func (m *StateManager) HasTable(name string) bool {
	_, ok := m.tables[name]
	return ok
}

func (m *StateManager) checkTable(name string) error {
	if !m.HasTable(name) {
		return &ValidationError{Field: "table", Msg: "unknown table " + name}
	}
	return nil
}

// Insert adds a row to a declared table.
func (m *StateManager) Insert(ctx context.Context, table string, row map[string]any) error {
	if err := m.checkTable(table); err != nil {
		return err
	}
	return m.adapter.Insert(ctx, table, row)
}

// Update patches matching rows in a declared table.
func (m *StateManager) Update(ctx context.Context, table string, where, patch map[string]any) (int64, error) {
	if err := m.checkTable(table); err != nil {
		return 0, err
	}
	return m.adapter.Update(ctx, table, where, patch)
}

// DeleteRows removes matching rows from a declared table.
func (m *StateManager) DeleteRows(ctx context.Context, table string, where map[string]any) (int64, error) {
	if err := m.checkTable(table); err != nil {
		return 0, err
	}
	return m.adapter.DeleteRows(ctx, table, where)
}

// Query reads rows from a declared table.
func (m *StateManager) Query(ctx context.Context, table string, q TableQuery) ([]map[string]any, error) {
	if err := m.checkTable(table); err != nil {
		return nil, err
	}
	return m.adapter.Query(ctx, table, q)
}

func looseEqual(a, b any) bool {
	af, aerr := cast.ToFloat64E(a)
	bf, berr := cast.ToFloat64E(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return cast.ToString(a) == cast.ToString(b)
}
