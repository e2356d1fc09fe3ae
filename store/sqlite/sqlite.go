// Package sqlite implements golem.StorageAdapter using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // goqu sqlite3 dialect
	"github.com/nevindra/golem"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and key parameters.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements golem.StorageAdapter backed by a local SQLite file.
// Values are stored as JSON text; identifiers are validated before any
// statement is built and row values only travel as parameters.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	logger  *slog.Logger
}

var _ golem.StorageAdapter = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the KV table. Declared tables are created on demand through
// CreateTable.
func (s *Store) Init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		type_tag TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return &golem.StorageError{Op: "kv.init", Err: err}
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// --- KV ---

func (s *Store) Get(ctx context.Context, key string) (golem.StoredValue, bool, error) {
	var (
		raw                             string
		tag                             string
		createdAt, updatedAt, expiresAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT value, type_tag, created_at, updated_at, expires_at FROM kv WHERE key = ?`, key)
	if err := row.Scan(&raw, &tag, &createdAt, &updatedAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return golem.StoredValue{}, false, nil
		}
		return golem.StoredValue{}, false, &golem.StorageError{Op: "kv.get", Err: err, Retriable: isBusy(err)}
	}
	v := golem.StoredValue{TypeTag: tag, CreatedAt: createdAt, UpdatedAt: updatedAt, ExpiresAt: expiresAt}
	if v.Expired(time.Now().UnixMilli()) {
		// Lazy expiry: delete and report absent.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			s.logger.Debug("sqlite: expired delete failed", "key", key, "error", err)
		}
		return golem.StoredValue{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &v.Value); err != nil {
		return golem.StoredValue{}, false, &golem.StorageError{Op: "kv.get", Err: fmt.Errorf("decode value: %w", err)}
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value golem.StoredValue) error {
	raw, err := json.Marshal(value.Value)
	if err != nil {
		return &golem.StorageError{Op: "kv.set", Err: fmt.Errorf("encode value: %w", err)}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, type_tag, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   type_tag = excluded.type_tag,
		   updated_at = excluded.updated_at,
		   expires_at = excluded.expires_at`,
		key, string(raw), value.TypeTag, value.CreatedAt, value.UpdatedAt, value.ExpiresAt)
	if err != nil {
		return &golem.StorageError{Op: "kv.set", Err: err, Retriable: isBusy(err)}
	}
	s.logger.Debug("sqlite: set", "key", key, "type", value.TypeTag)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return false, &golem.StorageError{Op: "kv.delete", Err: err, Retriable: isBusy(err)}
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Keys(ctx context.Context, glob string) ([]string, error) {
	now := time.Now().UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE expires_at = 0 OR expires_at > ? ORDER BY key`, now)
	if err != nil {
		return nil, &golem.StorageError{Op: "kv.keys", Err: err, Retriable: isBusy(err)}
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &golem.StorageError{Op: "kv.keys", Err: err}
		}
		if golem.MatchGlob(glob, k) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return &golem.StorageError{Op: "kv.clear", Err: err, Retriable: isBusy(err)}
	}
	return nil
}

// --- Tabular ---

func (s *Store) CreateTable(ctx context.Context, name string, def golem.TableDef) error {
	stmts, err := buildCreateTable(name, def)
	if err != nil {
		return err
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &golem.StorageError{Op: "table.create", Err: err, Retriable: isBusy(err)}
		}
	}
	s.logger.Debug("sqlite: table created", "table", name)
	return nil
}

// buildCreateTable emits CREATE TABLE plus CREATE INDEX statements. All
// identifiers are validated first, then double-quoted; only primitive
// defaults make it into the DDL.
func buildCreateTable(name string, def golem.TableDef) ([]string, error) {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return nil, err
	}
	var cols []string
	for col, cd := range def.Columns {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return nil, err
		}
		line := quoteIdent(col) + " " + sqliteType(cd.Type)
		if cd.Primary {
			line += " PRIMARY KEY"
		}
		if !cd.Nullable && !cd.Primary {
			line += " NOT NULL"
		}
		if cd.Unique && !cd.Primary {
			line += " UNIQUE"
		}
		if cd.Default != nil && golem.PrimitiveDefault(cd.Default) {
			line += " DEFAULT " + sqlLiteral(cd.Default)
		}
		cols = append(cols, line)
	}
	if len(cols) == 0 {
		return nil, &golem.ValidationError{Field: "table", Msg: "table " + name + " has no columns"}
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + quoteIdent(name) + " (\n\t" + strings.Join(cols, ",\n\t") + "\n)",
	}
	for col, cd := range def.Columns {
		if cd.Index && !cd.Primary {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quoteIdent("idx_"+name+"_"+col), quoteIdent(name), quoteIdent(col)))
		}
	}
	for _, idx := range def.CompositeIndexes {
		if err := golem.CheckIdentifiers("column", idx...); err != nil {
			return nil, err
		}
		quoted := make([]string, len(idx))
		for i, c := range idx {
			quoted[i] = quoteIdent(c)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("idx_"+name+"_"+strings.Join(idx, "_")), quoteIdent(name), strings.Join(quoted, ", ")))
	}
	return stmts, nil
}

func (s *Store) Insert(ctx context.Context, table string, row map[string]any) error {
	if err := golem.CheckIdentifier("table", table); err != nil {
		return err
	}
	if err := checkCols(row); err != nil {
		return err
	}
	query, args, err := s.dialect.Insert(table).Rows(goqu.Record(encodeRow(row))).Prepared(true).ToSQL()
	if err != nil {
		return &golem.StorageError{Op: "table.insert", Err: err}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &golem.StorageError{Op: "table.insert", Err: err, Retriable: isBusy(err)}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, where map[string]any, patch map[string]any) (int64, error) {
	if err := golem.CheckIdentifier("table", table); err != nil {
		return 0, err
	}
	if err := checkCols(where); err != nil {
		return 0, err
	}
	if err := checkCols(patch); err != nil {
		return 0, err
	}
	query, args, err := s.dialect.Update(table).
		Set(goqu.Record(encodeRow(patch))).
		Where(goqu.Ex(encodeRow(where))).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, &golem.StorageError{Op: "table.update", Err: err}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &golem.StorageError{Op: "table.update", Err: err, Retriable: isBusy(err)}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) DeleteRows(ctx context.Context, table string, where map[string]any) (int64, error) {
	if err := golem.CheckIdentifier("table", table); err != nil {
		return 0, err
	}
	if err := checkCols(where); err != nil {
		return 0, err
	}
	query, args, err := s.dialect.Delete(table).Where(goqu.Ex(encodeRow(where))).Prepared(true).ToSQL()
	if err != nil {
		return 0, &golem.StorageError{Op: "table.delete", Err: err}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &golem.StorageError{Op: "table.delete", Err: err, Retriable: isBusy(err)}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Query(ctx context.Context, table string, q golem.TableQuery) ([]map[string]any, error) {
	if err := golem.CheckIdentifier("table", table); err != nil {
		return nil, err
	}
	if err := checkCols(q.Where); err != nil {
		return nil, err
	}
	if err := golem.CheckIdentifiers("column", q.Select...); err != nil {
		return nil, err
	}
	q = golem.ClampQuery(q)

	ds := s.dialect.From(table)
	if len(q.Select) > 0 {
		sel := make([]any, len(q.Select))
		for i, c := range q.Select {
			sel[i] = goqu.C(c)
		}
		ds = ds.Select(sel...)
	}
	if len(q.Where) > 0 {
		ds = ds.Where(goqu.Ex(encodeRow(q.Where)))
	}
	if col, desc, ok := golem.ParseOrderBy(q.OrderBy); ok && q.OrderBy != "" {
		if desc {
			ds = ds.Order(goqu.C(col).Desc())
		} else {
			ds = ds.Order(goqu.C(col).Asc())
		}
	}
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	if q.Offset > 0 {
		ds = ds.Offset(uint(q.Offset))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, &golem.StorageError{Op: "table.query", Err: err}
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &golem.StorageError{Op: "table.query", Err: err, Retriable: isBusy(err)}
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, &golem.StorageError{Op: "table.query", Err: err}
	}
	s.logger.Debug("sqlite: query", "table", table, "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// scanRows reads all result rows into generic maps. []byte columns are
// returned as strings.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func checkCols(m map[string]any) error {
	for col := range m {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return err
		}
	}
	return nil
}

// encodeRow converts complex values (lists, maps) to JSON text so every
// parameter is a driver-supported scalar.
func encodeRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch v.(type) {
		case []any, map[string]any:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprintf("%v", v)
				continue
			}
			out[k] = string(b)
		default:
			out[k] = v
		}
	}
	return out
}

func sqliteType(t string) string {
	switch t {
	case "number":
		return "REAL"
	case "bool":
		return "INTEGER"
	default: // string, json, unknown
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	// Callers validate against [A-Za-z_][A-Za-z0-9_]* before quoting.
	return `"` + s + `"`
}

func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", x)
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
