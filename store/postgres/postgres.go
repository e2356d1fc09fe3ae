// Package postgres implements golem.StorageAdapter on PostgreSQL via pgx.
// The caller owns the pool: construct it with pgxpool.New and pass it in,
// which keeps connection tuning and credentials out of the adapter.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu postgres dialect
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nevindra/golem"
)

// StoreOption configures a Postgres Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. If not set, no logs are
// emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements golem.StorageAdapter backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
	logger  *slog.Logger
}

var _ golem.StorageAdapter = (*Store)(nil)

// New wraps an existing pgx pool. Close() does not close the pool; the
// owner does.
func New(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool:    pool,
		dialect: goqu.Dialect("postgres"),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the KV table.
func (s *Store) Init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		type_tag TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return &golem.StorageError{Op: "kv.init", Err: err, Retriable: isTransient(err)}
	}
	return nil
}

// Close is a no-op; the pool owner closes the pool.
func (s *Store) Close() error { return nil }

// --- KV ---

func (s *Store) Get(ctx context.Context, key string) (golem.StoredValue, bool, error) {
	var (
		raw                             []byte
		tag                             string
		createdAt, updatedAt, expiresAt int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT value, type_tag, created_at, updated_at, expires_at FROM kv WHERE key = $1`, key).
		Scan(&raw, &tag, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return golem.StoredValue{}, false, nil
		}
		return golem.StoredValue{}, false, &golem.StorageError{Op: "kv.get", Err: err, Retriable: isTransient(err)}
	}
	v := golem.StoredValue{TypeTag: tag, CreatedAt: createdAt, UpdatedAt: updatedAt, ExpiresAt: expiresAt}
	if v.Expired(time.Now().UnixMilli()) {
		if _, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
			s.logger.Debug("postgres: expired delete failed", "key", key, "error", err)
		}
		return golem.StoredValue{}, false, nil
	}
	if err := json.Unmarshal(raw, &v.Value); err != nil {
		return golem.StoredValue{}, false, &golem.StorageError{Op: "kv.get", Err: fmt.Errorf("decode value: %w", err)}
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value golem.StoredValue) error {
	raw, err := json.Marshal(value.Value)
	if err != nil {
		return &golem.StorageError{Op: "kv.set", Err: fmt.Errorf("encode value: %w", err)}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO kv (key, value, type_tag, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
		   value = EXCLUDED.value,
		   type_tag = EXCLUDED.type_tag,
		   updated_at = EXCLUDED.updated_at,
		   expires_at = EXCLUDED.expires_at`,
		key, raw, value.TypeTag, value.CreatedAt, value.UpdatedAt, value.ExpiresAt)
	if err != nil {
		return &golem.StorageError{Op: "kv.set", Err: err, Retriable: isTransient(err)}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key)
	if err != nil {
		return false, &golem.StorageError{Op: "kv.delete", Err: err, Retriable: isTransient(err)}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Keys(ctx context.Context, glob string) ([]string, error) {
	now := time.Now().UnixMilli()
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM kv WHERE expires_at = 0 OR expires_at > $1 ORDER BY key`, now)
	if err != nil {
		return nil, &golem.StorageError{Op: "kv.keys", Err: err, Retriable: isTransient(err)}
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
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv`); err != nil {
		return &golem.StorageError{Op: "kv.clear", Err: err, Retriable: isTransient(err)}
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
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return &golem.StorageError{Op: "table.create", Err: err, Retriable: isTransient(err)}
		}
	}
	return nil
}

func buildCreateTable(name string, def golem.TableDef) ([]string, error) {
	if err := golem.CheckIdentifier("table", name); err != nil {
		return nil, err
	}
	var cols []string
	for col, cd := range def.Columns {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return nil, err
		}
		line := quoteIdent(col) + " " + pgType(cd.Type)
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
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return &golem.StorageError{Op: "table.insert", Err: err, Retriable: isTransient(err)}
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
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, &golem.StorageError{Op: "table.update", Err: err, Retriable: isTransient(err)}
	}
	return tag.RowsAffected(), nil
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
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, &golem.StorageError{Op: "table.delete", Err: err, Retriable: isTransient(err)}
	}
	return tag.RowsAffected(), nil
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
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &golem.StorageError{Op: "table.query", Err: err, Retriable: isTransient(err)}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, &golem.StorageError{Op: "table.query", Err: err}
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			if b, ok := vals[i].([]byte); ok {
				row[f.Name] = string(b)
			} else {
				row[f.Name] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &golem.StorageError{Op: "table.query", Err: err, Retriable: isTransient(err)}
	}
	s.logger.Debug("postgres: query", "table", table, "rows", len(out), "duration", time.Since(start))
	return out, nil
}

func checkCols(m map[string]any) error {
	for col := range m {
		if err := golem.CheckIdentifier("column", col); err != nil {
			return err
		}
	}
	return nil
}

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

func pgType(t string) string {
	switch t {
	case "number":
		return "DOUBLE PRECISION"
	case "bool":
		return "BOOLEAN"
	case "json":
		return "JSONB"
	default:
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
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// isTransient classifies connection-level failures as retriable. Constraint
// and syntax errors are not.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 40001 = serialization failure,
		// 55P03 = lock not available.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "55P03"
	}
	return pgconn.SafeToRetry(err)
}
