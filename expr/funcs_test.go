package expr

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"
)

// --- function table ---

func TestFunctions_TableIsFixed(t *testing.T) {
	names := Functions()
	if len(names) != 75 {
		t.Errorf("Functions() has %d entries, want 75", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Error("Functions() is not sorted")
	}
	for _, name := range []string{"upper", "now", "randomInt", "pluck", "coalesce"} {
		if !IsFunction(name) {
			t.Errorf("IsFunction(%q) = false, want true", name)
		}
	}
	if IsFunction("eval") {
		t.Error(`IsFunction("eval") = true, want false`)
	}
}

// --- string functions ---

func TestFuncs_Strings(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`upper("hi")`, "HI"},
		{`lower("HI")`, "hi"},
		{`trim("  x  ")`, "x"},
		{`capitalize("ñandú")`, "Ñandú"},
		{`capitalize("")`, ""},
		{`length("héllo")`, float64(5)},
		{`length([1, 2, 3])`, float64(3)},
		{`length({a: 1})`, float64(1)},
		{`length(null)`, float64(0)},
		{`contains("hello", "ell")`, true},
		{`contains([1, 2], 2)`, true},
		{`contains([1, 2], 3)`, false},
		{`startsWith("hello", "he")`, true},
		{`endsWith("hello", "lo")`, true},
		{`replace("a-b-c", "-", "+")`, "a+b+c"},
		{`split("a,b", ",")`, []any{"a", "b"}},
		{`join(["a", "b"], "-")`, "a-b"},
		{`join([1, 2], ", ")`, "1, 2"},
		{`substring("héllo", 1, 3)`, "él"},
		{`substring("hello", -3)`, "llo"},
		{`substring("hello", 3, 1)`, "el"},
		{`indexOf("héllo", "llo")`, float64(2)},
		{`indexOf("hello", "zz")`, float64(-1)},
		{`indexOf([10, 20], 20)`, float64(1)},
		{`padStart("5", 3, "0")`, "005"},
		{`padStart("5", 3)`, "  5"},
		{`padEnd("5", 3, ".")`, "5.."},
		{`padStart("long", 2, "0")`, "long"},
		{`repeat("ab", 3)`, "ababab"},
		{`repeat("ab", -1)`, ""},
		{`matches("abc123", '[a-z]+\\d+')`, true},
		{`matches("abc", '^\\d+$')`, false},
	}
	for _, tt := range tests {
		if got := evalOK(t, tt.src); !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_MatchesBadPattern(t *testing.T) {
	evalKind(t, `matches("x", "(unclosed")`, ErrType)
}

func TestFuncs_RepeatResultLimit(t *testing.T) {
	evalKind(t, `repeat("aaaaaaaaaa", 100000)`, ErrLimit)
}

// --- numeric functions ---

func TestFuncs_Numeric(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"abs(-3)", 3},
		{"ceil(1.2)", 2},
		{"floor(1.8)", 1},
		{"sqrt(9)", 3},
		{"sign(-5)", -1},
		{"sign(0)", 0},
		{"sign(3)", 1},
		{"round(2.5)", 3},
		{"round(-2.5)", -3},
		{"round(3.14159, 2)", 3.14},
		{"pow(2, 10)", 1024},
		{"min([3, 1, 2])", 1},
		{"min(3, 1, 2)", 1},
		{"max([3, 7])", 7},
		{"max(3, 7, 5)", 7},
		{"clamp(15, 0, 10)", 10},
		{"clamp(-5, 0, 10)", 0},
		{"clamp(5, 0, 10)", 5},
		{"sum([1, 2, 3])", 6},
		{"sum([])", 0},
		{"avg([2, 4])", 3},
	}
	for _, tt := range tests {
		got := evalOK(t, tt.src)
		n, ok := got.(float64)
		if !ok || n != tt.want {
			t.Errorf("Evaluate(%q) = %#v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_NumericNaNCases(t *testing.T) {
	for _, src := range []string{`sum([1, "x"])`, "avg([])", `min(["a"])`, `abs("x")`} {
		got, err := Evaluate(src, nil)
		if err != nil {
			// abs("x") reports a type error rather than NaN; both are
			// acceptable rejections for the wrong operand kind.
			continue
		}
		n, ok := got.(float64)
		if !ok || !math.IsNaN(n) {
			t.Errorf("Evaluate(%q) = %#v, want NaN", src, got)
		}
	}
}

func TestFuncs_ToFixed(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"toFixed(3.14159, 2)", "3.14"},
		{"toFixed(2, 3)", "2.000"},
		{"toFixed(1.005, 0)", "1"},
	}
	for _, tt := range tests {
		if got := evalOK(t, tt.src); got != tt.want {
			t.Errorf("Evaluate(%q) = %#v, want %q", tt.src, got, tt.want)
		}
	}
}

// --- randomness ---

func TestFuncs_Random(t *testing.T) {
	e := New(WithRand(rand.New(rand.NewSource(1))))
	for i := 0; i < 100; i++ {
		got, err := e.Evaluate("random()", nil)
		if err != nil {
			t.Fatal(err)
		}
		n := got.(float64)
		if n < 0 || n >= 1 {
			t.Fatalf("random() = %v, want [0, 1)", n)
		}
	}
}

func TestFuncs_RandomInt(t *testing.T) {
	e := New(WithRand(rand.New(rand.NewSource(1))))
	seen := map[float64]bool{}
	for i := 0; i < 200; i++ {
		got, err := e.Evaluate("randomInt(1, 3)", nil)
		if err != nil {
			t.Fatal(err)
		}
		n := got.(float64)
		if n < 1 || n > 3 || n != math.Trunc(n) {
			t.Fatalf("randomInt(1, 3) = %v, want integer in [1, 3]", n)
		}
		seen[n] = true
	}
	// Both bounds are reachable.
	if !seen[1] || !seen[3] {
		t.Errorf("randomInt(1, 3) never produced a bound: %v", seen)
	}
	// Reversed bounds behave the same.
	if _, err := e.Evaluate("randomInt(3, 1)", nil); err != nil {
		t.Errorf("randomInt(3, 1): %v", err)
	}
}

func TestFuncs_SampleAndShuffle(t *testing.T) {
	e := New(WithRand(rand.New(rand.NewSource(42))))
	env := map[string]any{"list": []any{float64(1), float64(2), float64(3)}}

	got, err := e.Evaluate("sample(list)", env)
	if err != nil {
		t.Fatal(err)
	}
	if n := got.(float64); n < 1 || n > 3 {
		t.Errorf("sample(list) = %v, not an element", n)
	}

	got, err = e.Evaluate("sample([])", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !IsUndefined(got) {
		t.Errorf("sample([]) = %#v, want Undefined", got)
	}

	got, err = e.Evaluate("shuffle(list) | sort", env)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(got, env["list"]) {
		t.Errorf("shuffle changed the multiset: %#v", got)
	}
	// The input list itself is untouched.
	if !Equal(env["list"], []any{float64(1), float64(2), float64(3)}) {
		t.Errorf("shuffle mutated its argument: %#v", env["list"])
	}
}

// --- date and time ---

func TestFuncs_DateTime(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC) // a Friday
	e := New(WithNow(func() time.Time { return fixed }))

	got, err := e.Evaluate("now()", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != float64(fixed.UnixMilli()) {
		t.Errorf("now() = %v, want %v", got, float64(fixed.UnixMilli()))
	}

	got, err = e.Evaluate("nowIso()", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2024-03-15T10:30:45Z" {
		t.Errorf("nowIso() = %q", got)
	}

	env := map[string]any{"ts": float64(fixed.UnixMilli())}
	tests := []struct {
		src  string
		want any
	}{
		{`formatDate(ts)`, "2024-03-15T10:30:45Z"},
		{`formatDate(ts, "2006-01-02")`, "2024-03-15"},
		{`parseDate("2024-03-15T10:30:45Z")`, float64(fixed.UnixMilli())},
		{`parseDate("2024-03-15")`, float64(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).UnixMilli())},
		{"year(ts)", float64(2024)},
		{"month(ts)", float64(3)},
		{"day(ts)", float64(15)},
		{"hour(ts)", float64(10)},
		{"minute(ts)", float64(30)},
		{"second(ts)", float64(45)},
		{"weekday(ts)", float64(5)},
	}
	for _, tt := range tests {
		got, err := e.Evaluate(tt.src, env)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_ParseDateUnparseable(t *testing.T) {
	got := evalOK(t, `parseDate("not a date")`)
	if got != nil {
		t.Errorf("parseDate = %#v, want null", got)
	}
}

// --- list and object functions ---

func TestFuncs_Lists(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"first([1, 2])", float64(1)},
		{"last([1, 2])", float64(2)},
		{"reverse([1, 2, 3])", []any{float64(3), float64(2), float64(1)}},
		{`reverse("abc")`, "cba"},
		{"sort([3, 1, 2])", []any{float64(1), float64(2), float64(3)}},
		{`sort(["b", "a"])`, []any{"a", "b"}},
		{"unique([1, 2, 1, 3, 2])", []any{float64(1), float64(2), float64(3)}},
		{"slice([1, 2, 3, 4], 1, 3)", []any{float64(2), float64(3)}},
		{"slice([1, 2, 3], 1)", []any{float64(2), float64(3)}},
		{"slice([1, 2, 3], -2)", []any{float64(2), float64(3)}},
		{"slice([1, 2], 5, 9)", []any{}},
		{"concat([1], [2, 3], [])", []any{float64(1), float64(2), float64(3)}},
		{"flatten([[1, 2], [3], [4, [5]]])", []any{float64(1), float64(2), float64(3), float64(4), []any{float64(5)}}},
		{"range(3)", []any{float64(0), float64(1), float64(2)}},
		{"range(1, 4)", []any{float64(1), float64(2), float64(3)}},
		{"range(0, 10, 5)", []any{float64(0), float64(5)}},
		{"range(3, 0, -1)", []any{float64(3), float64(2), float64(1)}},
		{"range(0)", []any{}},
	}
	for _, tt := range tests {
		if got := evalOK(t, tt.src); !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_FirstLastEmpty(t *testing.T) {
	for _, src := range []string{"first([])", "last([])"} {
		if got := evalOK(t, src); !IsUndefined(got) {
			t.Errorf("Evaluate(%q) = %#v, want Undefined", src, got)
		}
	}
}

func TestFuncs_RangeZeroStep(t *testing.T) {
	evalKind(t, "range(1, 5, 0)", ErrType)
}

func TestFuncs_SortBy(t *testing.T) {
	env := map[string]any{"players": []any{
		map[string]any{"name": "carol", "score": float64(5)},
		map[string]any{"name": "alice", "score": float64(9)},
		map[string]any{"name": "bob", "score": float64(7)},
	}}
	got, err := Evaluate(`sortBy(players, "score") | pluck("name")`, env)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(got, []any{"carol", "bob", "alice"}) {
		t.Errorf("sortBy score = %#v", got)
	}

	got, err = Evaluate(`sortBy(players, "name") | pluck("score")`, env)
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(got, []any{float64(9), float64(7), float64(5)}) {
		t.Errorf("sortBy name = %#v", got)
	}
}

func TestFuncs_Objects(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`keys({b: 1, a: 2})`, []any{"a", "b"}},
		{`values({b: 1, a: 2})`, []any{float64(2), float64(1)}},
		{`has({a: 1}, "a")`, true},
		{`has({a: 1}, "b")`, false},
		{`get(user, "stats.wins")`, float64(3)},
		{`get(user, "roles.0")`, "admin"},
		{`get(user, "missing.x", "dflt")`, "dflt"},
		{`pluck([{n: 1}, {n: 2}], "n")`, []any{float64(1), float64(2)}},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, testEnv())
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_GetWithoutDefaultIsUndefined(t *testing.T) {
	got := evalOK(t, `get(user, "missing.x")`)
	if !IsUndefined(got) {
		t.Errorf("got %#v, want Undefined", got)
	}
}

// --- type functions ---

func TestFuncs_TypeOf(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`typeOf("")`, "string"},
		{"typeOf(1)", "number"},
		{"typeOf(true)", "bool"},
		{"typeOf(null)", "null"},
		{"typeOf([1])", "array"},
		{"typeOf({a: 1})", "object"},
		{"typeOf(user.missing)", "undefined"},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, testEnv())
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %#v, want %q", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_TypePredicates(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`isString("x")`, true},
		{"isString(1)", false},
		{"isNumber(1.5)", true},
		{`isNumber("1")`, false},
		{"isBool(false)", true},
		{"isArray([])", true},
		{"isObject({})", true},
		{"isObject([])", false},
		{"isNull(null)", true},
		{"isNull(user.missing)", false},
		{"isDefined(user.missing)", false},
		{"isDefined(null)", true},
		{"isDefined(0)", true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, testEnv())
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %#v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_Conversions(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`toString(42)`, "42"},
		{`toString(null)`, "null"},
		{`toString([1, 2])`, "[1,2]"},
		{`toNumber("42")`, float64(42)},
		{`toNumber(" 3.5 ")`, float64(3.5)},
		{`toNumber(true)`, float64(1)},
		{`toNumber(false)`, float64(0)},
		{`toNumber(null)`, float64(0)},
		{`toBool("")`, false},
		{`toBool("x")`, true},
		{`toBool(0)`, false},
		{`toBool([])`, true},
		{`toJson({a: 1})`, `{"a":1}`},
		{`toJson("hi")`, `"hi"`},
		{`toJson(user.missing)`, "null"},
		{`fromJson('{"a": [1, 2]}')`, map[string]any{"a": []any{float64(1), float64(2)}}},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, testEnv())
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestFuncs_ToNumberUnparseableIsNaN(t *testing.T) {
	got := evalOK(t, `toNumber("nope")`)
	if n, ok := got.(float64); !ok || !math.IsNaN(n) {
		t.Errorf("toNumber = %#v, want NaN", got)
	}
}

func TestFuncs_FromJsonBadInputIsNull(t *testing.T) {
	if got := evalOK(t, `fromJson("{oops")`); got != nil {
		t.Errorf("fromJson = %#v, want null", got)
	}
}

func TestFuncs_DefaultAndCoalesce(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`default(user.missing, "x")`, "x"},
		{`default(null, "x")`, "x"},
		{`default(0, "x")`, float64(0)},
		{`default("", "x")`, ""},
		{`coalesce(none, user.missing, 0, 5)`, float64(0)},
		{`coalesce(none, "found")`, "found"},
		{`coalesce()`, nil},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, testEnv())
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if tt.want == nil {
			if got != nil {
				t.Errorf("Evaluate(%q) = %#v, want nil", tt.src, got)
			}
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}
