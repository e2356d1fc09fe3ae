package golem

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// StoredValue is a single KV entry as the adapters persist it. Timestamps are
// Unix milliseconds; ExpiresAt zero means the entry never expires.
type StoredValue struct {
	Value     any
	TypeTag   string // "string" | "number" | "bool" | "list" | "map" | "null"
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt int64
}

// Expired reports whether the entry's expiry has passed at the given instant
// (Unix milliseconds). Entries with no expiry never report true.
func (v StoredValue) Expired(nowMillis int64) bool {
	return v.ExpiresAt > 0 && v.ExpiresAt <= nowMillis
}

// TypeTagOf classifies a value into the stored type tag.
func TypeTagOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	default:
		return "map"
	}
}

// ColumnDef describes one column of a declared table.
type ColumnDef struct {
	Type     string `mapstructure:"type"` // string | number | bool | json
	Primary  bool   `mapstructure:"primary"`
	Nullable bool   `mapstructure:"nullable"`
	Unique   bool   `mapstructure:"unique"`
	Index    bool   `mapstructure:"index"`
	Default  any    `mapstructure:"default"`
}

// TableDef describes a declared table: its columns and optional composite
// indexes (each a list of column names).
type TableDef struct {
	Columns          map[string]ColumnDef `mapstructure:"columns"`
	CompositeIndexes [][]string           `mapstructure:"composite_indexes"`
}

// TableQuery selects rows: optional equality filter, projection, ordering,
// and pagination. Adapters clamp Limit to 10 000 and Offset to 1 000 000.
type TableQuery struct {
	Where   map[string]any
	Select  []string
	OrderBy string // "column" or "column ASC|DESC"; anything else is dropped
	Limit   int
	Offset  int
}

// StorageAdapter is the uniform persistence contract: a KV space with TTL
// plus named tables with projection/filter/order/limit. Implementations live
// in store/memory, store/sqlite, and store/postgres and share the
// store/storetest conformance suite.
//
// Every table and column identifier must match [A-Za-z_][A-Za-z0-9_]* and is
// rejected with a ValidationError before any I/O. Values reach SQL backends
// only through parameterized queries.
type StorageAdapter interface {
	// KV
	Get(ctx context.Context, key string) (StoredValue, bool, error)
	Set(ctx context.Context, key string, value StoredValue) error
	Delete(ctx context.Context, key string) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, glob string) ([]string, error)
	Clear(ctx context.Context) error

	// Tabular
	CreateTable(ctx context.Context, name string, def TableDef) error
	Insert(ctx context.Context, table string, row map[string]any) error
	Update(ctx context.Context, table string, where map[string]any, patch map[string]any) (int64, error)
	DeleteRows(ctx context.Context, table string, where map[string]any) (int64, error)
	Query(ctx context.Context, table string, q TableQuery) ([]map[string]any, error)

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
}

// Clamp bounds shared by all adapters.
const (
	MaxQueryLimit  = 10000
	MaxQueryOffset = 1000000
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is a legal table or column name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// CheckIdentifier returns a ValidationError unless s is a legal identifier.
// Adapters call this for every table and column name before touching storage.
func CheckIdentifier(field, s string) error {
	if !ValidIdentifier(s) {
		return &ValidationError{Field: field, Msg: "invalid identifier " + strconv.Quote(s)}
	}
	return nil
}

// CheckIdentifiers validates a whole set of column names.
func CheckIdentifiers(field string, names ...string) error {
	for _, n := range names {
		if err := CheckIdentifier(field, n); err != nil {
			return err
		}
	}
	return nil
}

var orderByRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(?:\s+(?i:(ASC|DESC)))?$`)

// ParseOrderBy parses "column" or "column ASC|DESC". Any other shape returns
// ok=false and the clause is dropped rather than passed through to SQL.
func ParseOrderBy(s string) (column string, desc bool, ok bool) {
	m := orderByRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false, false
	}
	return m[1], strings.EqualFold(m[2], "DESC"), true
}

// ClampQuery applies the shared limit/offset bounds. Limit <= 0 means
// unlimited and is preserved.
func ClampQuery(q TableQuery) TableQuery {
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	if q.Offset > MaxQueryOffset {
		q.Offset = MaxQueryOffset
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// PrimitiveDefault reports whether a column default is simple enough to emit
// in DDL. Complex defaults (lists, maps) are silently skipped.
func PrimitiveDefault(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// MatchGlob matches a key against a glob with "*" wildcards ("?" is not
// supported; keys use "/" freely and "*" crosses separators). An empty glob
// matches everything.
func MatchGlob(glob, key string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	parts := strings.Split(glob, "*")
	if len(parts) == 1 {
		return glob == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(key, parts[i])
		if idx < 0 {
			return false
		}
		key = key[idx+len(parts[i]):]
	}
	return strings.HasSuffix(key, parts[len(parts)-1])
}
