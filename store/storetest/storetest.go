// Package storetest is the conformance suite every StorageAdapter
// implementation must pass. Backend packages call Run from their own tests
// with a factory that yields a fresh, initialized adapter.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nevindra/golem"
	"github.com/spf13/cast"
)

// Factory yields a fresh adapter. The suite calls Init and Close.
type Factory func(t *testing.T) golem.StorageAdapter

// Run executes the full conformance suite against the adapter.
func Run(t *testing.T, open Factory) {
	t.Run("KVRoundTrip", func(t *testing.T) { testKVRoundTrip(t, open) })
	t.Run("KVZeroValuesShadow", func(t *testing.T) { testKVZeroValues(t, open) })
	t.Run("KVDelete", func(t *testing.T) { testKVDelete(t, open) })
	t.Run("KVExpiry", func(t *testing.T) { testKVExpiry(t, open) })
	t.Run("KVKeysGlob", func(t *testing.T) { testKVKeysGlob(t, open) })
	t.Run("KVClear", func(t *testing.T) { testKVClear(t, open) })
	t.Run("IdentifierRejection", func(t *testing.T) { testIdentifierRejection(t, open) })
	t.Run("TableCRUD", func(t *testing.T) { testTableCRUD(t, open) })
	t.Run("TableOrderLimit", func(t *testing.T) { testTableOrderLimit(t, open) })
	t.Run("TableProjection", func(t *testing.T) { testTableProjection(t, open) })
	t.Run("TableDefaults", func(t *testing.T) { testTableDefaults(t, open) })
}

func setup(t *testing.T, open Factory) (context.Context, golem.StorageAdapter) {
	t.Helper()
	ctx := context.Background()
	s := open(t)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return ctx, s
}

func stored(v any) golem.StoredValue {
	now := time.Now().UnixMilli()
	return golem.StoredValue{Value: v, TypeTag: golem.TypeTagOf(v), CreatedAt: now, UpdatedAt: now}
}

func testKVRoundTrip(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	cases := []struct {
		key string
		val any
	}{
		{"var/global/greeting", "hello"},
		{"var/global/count", float64(42)},
		{"var/global/flag", true},
		{"var/global/nothing", nil},
		{"var/global/prefs", map[string]any{"color": "red", "size": float64(3)}},
		{"var/global/items", []any{"a", "b", float64(1)}},
	}
	for _, c := range cases {
		if err := s.Set(ctx, c.key, stored(c.val)); err != nil {
			t.Fatalf("Set(%q): %v", c.key, err)
		}
		got, ok, err := s.Get(ctx, c.key)
		if err != nil || !ok {
			t.Fatalf("Get(%q) = ok=%v err=%v, want present", c.key, ok, err)
		}
		if !equalish(got.Value, c.val) {
			t.Errorf("Get(%q).Value = %#v, want %#v", c.key, got.Value, c.val)
		}
		if got.TypeTag != golem.TypeTagOf(c.val) {
			t.Errorf("Get(%q).TypeTag = %q, want %q", c.key, got.TypeTag, golem.TypeTagOf(c.val))
		}
	}
}

func testKVZeroValues(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	for key, val := range map[string]any{"z/num": float64(0), "z/str": "", "z/bool": false} {
		if err := s.Set(ctx, key, stored(val)); err != nil {
			t.Fatalf("Set(%q): %v", key, err)
		}
		got, ok, err := s.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get(%q): stored zero value must be present, ok=%v err=%v", key, ok, err)
		}
		if !equalish(got.Value, val) {
			t.Errorf("Get(%q) = %#v, want %#v", key, got.Value, val)
		}
	}
}

func testKVDelete(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.Set(ctx, "d/k", stored("v")); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Delete(ctx, "d/k"); err != nil || !ok {
		t.Fatalf("Delete existing = %v, %v, want true, nil", ok, err)
	}
	if ok, err := s.Delete(ctx, "d/k"); err != nil || ok {
		t.Fatalf("Delete absent = %v, %v, want false, nil", ok, err)
	}
	if ok, _ := s.Has(ctx, "d/k"); ok {
		t.Error("Has after delete = true, want false")
	}
}

func testKVExpiry(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	v := stored("stale")
	v.ExpiresAt = time.Now().UnixMilli() - 1000
	if err := s.Set(ctx, "e/k", v); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get(ctx, "e/k"); err != nil || ok {
		t.Errorf("Get expired = ok=%v err=%v, want absent", ok, err)
	}
	if ok, _ := s.Has(ctx, "e/k"); ok {
		t.Error("Has expired = true, want false")
	}

	v = stored("fresh")
	v.ExpiresAt = time.Now().UnixMilli() + 60000
	if err := s.Set(ctx, "e/k2", v); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "e/k2"); !ok {
		t.Error("Get unexpired = absent, want present")
	}
}

func testKVKeysGlob(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	for _, k := range []string{"var/guild/G1/xp", "var/guild/G1/level", "var/guild/G2/xp", "var/global/motd"} {
		if err := s.Set(ctx, k, stored("x")); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys(ctx, "var/guild/G1/*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys(var/guild/G1/*) = %v, want 2 entries", keys)
	}
	all, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("Keys(\"\") = %d entries, want 4", len(all))
	}
}

func testKVClear(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.Set(ctx, "c/k", stored("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	keys, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("Keys after Clear = %v, want empty", keys)
	}
}

func testIdentifierRejection(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	var verr *golem.ValidationError

	bad := []string{"1table", "ta-ble", "ta ble", `ta"ble`, "t;drop", ""}
	for _, name := range bad {
		if err := s.CreateTable(ctx, name, golem.TableDef{Columns: map[string]golem.ColumnDef{"id": {Type: "string", Primary: true}}}); !errors.As(err, &verr) {
			t.Errorf("CreateTable(%q) = %v, want ValidationError", name, err)
		}
		if err := s.Insert(ctx, name, map[string]any{"id": "x"}); !errors.As(err, &verr) {
			t.Errorf("Insert(%q) = %v, want ValidationError", name, err)
		}
		if _, err := s.Query(ctx, name, golem.TableQuery{}); !errors.As(err, &verr) {
			t.Errorf("Query(%q) = %v, want ValidationError", name, err)
		}
	}

	// Bad column names must fail before I/O even on a real table.
	if err := s.CreateTable(ctx, "idents", golem.TableDef{Columns: map[string]golem.ColumnDef{"id": {Type: "string", Primary: true}}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, "idents", map[string]any{"id; --": "x"}); !errors.As(err, &verr) {
		t.Errorf("Insert with bad column = %v, want ValidationError", err)
	}
	if _, err := s.Update(ctx, "idents", map[string]any{"id": "x"}, map[string]any{"bad col": 1}); !errors.As(err, &verr) {
		t.Errorf("Update with bad column = %v, want ValidationError", err)
	}
	if _, err := s.Query(ctx, "idents", golem.TableQuery{Where: map[string]any{`a"b`: 1}}); !errors.As(err, &verr) {
		t.Errorf("Query with bad where column = %v, want ValidationError", err)
	}
}

func levelsDef() golem.TableDef {
	return golem.TableDef{
		Columns: map[string]golem.ColumnDef{
			"user_id": {Type: "string", Primary: true},
			"guild":   {Type: "string", Index: true},
			"xp":      {Type: "number"},
		},
		CompositeIndexes: [][]string{{"guild", "xp"}},
	}
}

func testTableCRUD(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.CreateTable(ctx, "levels", levelsDef()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	rows := []map[string]any{
		{"user_id": "u1", "guild": "g1", "xp": float64(10)},
		{"user_id": "u2", "guild": "g1", "xp": float64(30)},
		{"user_id": "u3", "guild": "g2", "xp": float64(20)},
	}
	for _, r := range rows {
		if err := s.Insert(ctx, "levels", r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.Query(ctx, "levels", golem.TableQuery{Where: map[string]any{"guild": "g1"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query guild=g1 = %d rows, want 2", len(got))
	}

	n, err := s.Update(ctx, "levels", map[string]any{"user_id": "u2"}, map[string]any{"xp": float64(99)})
	if err != nil || n != 1 {
		t.Fatalf("Update = %d, %v, want 1, nil", n, err)
	}
	got, err = s.Query(ctx, "levels", golem.TableQuery{Where: map[string]any{"user_id": "u2"}})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query after update: %v rows, err %v", len(got), err)
	}
	if xp := cast.ToFloat64(got[0]["xp"]); xp != 99 {
		t.Errorf("updated xp = %v, want 99", got[0]["xp"])
	}

	n, err = s.DeleteRows(ctx, "levels", map[string]any{"guild": "g1"})
	if err != nil || n != 2 {
		t.Fatalf("DeleteRows = %d, %v, want 2, nil", n, err)
	}
	got, _ = s.Query(ctx, "levels", golem.TableQuery{})
	if len(got) != 1 {
		t.Errorf("rows after delete = %d, want 1", len(got))
	}
}

func testTableOrderLimit(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.CreateTable(ctx, "scores", golem.TableDef{Columns: map[string]golem.ColumnDef{
		"id":    {Type: "string", Primary: true},
		"score": {Type: "number"},
	}}); err != nil {
		t.Fatal(err)
	}
	for i, score := range []float64{5, 1, 4, 2, 3} {
		if err := s.Insert(ctx, "scores", map[string]any{"id": string(rune('a' + i)), "score": score}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Query(ctx, "scores", golem.TableQuery{OrderBy: "score DESC", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || cast.ToFloat64(got[0]["score"]) != 5 || cast.ToFloat64(got[1]["score"]) != 4 {
		t.Errorf("order desc limit 2 = %v", got)
	}

	got, err = s.Query(ctx, "scores", golem.TableQuery{OrderBy: "score", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || cast.ToFloat64(got[0]["score"]) != 2 {
		t.Errorf("order asc offset 1 = %v", got)
	}

	// Malformed order_by is dropped, not an error.
	if _, err := s.Query(ctx, "scores", golem.TableQuery{OrderBy: "score; DROP TABLE scores"}); err != nil {
		t.Errorf("malformed order_by should be dropped, got error %v", err)
	}
	if got, _ := s.Query(ctx, "scores", golem.TableQuery{}); len(got) != 5 {
		t.Errorf("table damaged after malformed order_by: %d rows, want 5", len(got))
	}
}

func testTableProjection(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.CreateTable(ctx, "profiles", golem.TableDef{Columns: map[string]golem.ColumnDef{
		"id":   {Type: "string", Primary: true},
		"name": {Type: "string"},
		"bio":  {Type: "string", Nullable: true},
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, "profiles", map[string]any{"id": "p1", "name": "ada", "bio": "x"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Query(ctx, "profiles", golem.TableQuery{Select: []string{"name"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if _, ok := got[0]["bio"]; ok {
		t.Errorf("projection leaked column bio: %v", got[0])
	}
	if got[0]["name"] != "ada" {
		t.Errorf("name = %v, want ada", got[0]["name"])
	}
}

func testTableDefaults(t *testing.T, open Factory) {
	ctx, s := setup(t, open)
	if err := s.CreateTable(ctx, "settings", golem.TableDef{Columns: map[string]golem.ColumnDef{
		"id":    {Type: "string", Primary: true},
		"tier":  {Type: "string", Default: "free"},
		"extra": {Type: "json", Nullable: true, Default: map[string]any{"a": 1}}, // complex: skipped
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, "settings", map[string]any{"id": "s1"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Query(ctx, "settings", golem.TableQuery{Where: map[string]any{"id": "s1"}})
	if err != nil || len(got) != 1 {
		t.Fatalf("query: %d rows, err %v", len(got), err)
	}
	if got[0]["tier"] != "free" {
		t.Errorf("tier default = %v, want \"free\"", got[0]["tier"])
	}
	if v, ok := got[0]["extra"]; ok && v != nil && v != "" {
		t.Errorf("complex default must be skipped, got %v", v)
	}
}

// equalish compares stored values across backends: numbers numerically,
// bools through coercion (SQLite stores them as integers), everything else
// structurally via JSON-ish comparison.
func equalish(got, want any) bool {
	switch w := want.(type) {
	case nil:
		return got == nil
	case float64:
		g, err := cast.ToFloat64E(got)
		return err == nil && g == w
	case bool:
		g, err := cast.ToBoolE(got)
		return err == nil && g == w
	case string:
		return got == w
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !equalish(g[i], w[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for k, wv := range w {
			if !equalish(g[k], wv) {
				return false
			}
		}
		return true
	}
	return false
}
