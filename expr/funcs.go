package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// builtinFunc is the signature of a function-table entry. Arguments arrive
// already evaluated; the evaluator is passed for the time and randomness
// sources.
type builtinFunc func(e *Evaluator, args []any) (any, error)

// Functions returns the sorted names of the fixed function table, for
// documentation and validation tooling.
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFunction reports whether name is in the fixed function table.
func IsFunction(name string) bool {
	_, ok := builtins[name]
	return ok
}

func (e *Evaluator) randFloat() float64 {
	if e.rand != nil {
		return e.rand.Float64()
	}
	return rand.Float64()
}

func (e *Evaluator) randIntn(n int) int {
	if e.rand != nil {
		return e.rand.Intn(n)
	}
	return rand.Intn(n)
}

// --- argument helpers ---

func typeErr(format string, args ...any) *Error {
	return &Error{Kind: ErrType, Msg: fmt.Sprintf(format, args...)}
}

func wantArgs(name string, args []any, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		if min == max {
			return typeErr("%s expects %d argument(s), got %d", name, min, len(args))
		}
		return typeErr("%s expects %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func argNumber(name string, args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, typeErr("%s: missing argument %d", name, i+1)
	}
	n, ok := ToNumber(args[i])
	if !ok {
		return 0, typeErr("%s: argument %d is not a number", name, i+1)
	}
	return n, nil
}

func argList(name string, args []any, i int) ([]any, error) {
	if i >= len(args) {
		return nil, typeErr("%s: missing argument %d", name, i+1)
	}
	l, ok := args[i].([]any)
	if !ok {
		return nil, typeErr("%s: argument %d is not an array", name, i+1)
	}
	return l, nil
}

func argObject(name string, args []any, i int) (map[string]any, error) {
	if i >= len(args) {
		return nil, typeErr("%s: missing argument %d", name, i+1)
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, typeErr("%s: argument %d is not an object", name, i+1)
	}
	return m, nil
}

// builtins is the fixed function table. Expression sources cannot call
// anything outside it.
var builtins = map[string]builtinFunc{

	// --- string functions ---

	"upper": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("upper", args, 1, 1); err != nil {
			return nil, err
		}
		return strings.ToUpper(ToString(args[0])), nil
	},
	"lower": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("lower", args, 1, 1); err != nil {
			return nil, err
		}
		return strings.ToLower(ToString(args[0])), nil
	},
	"trim": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("trim", args, 1, 1); err != nil {
			return nil, err
		}
		return strings.TrimSpace(ToString(args[0])), nil
	},
	"capitalize": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("capitalize", args, 1, 1); err != nil {
			return nil, err
		}
		s := ToString(args[0])
		if s == "" {
			return s, nil
		}
		r, size := utf8.DecodeRuneInString(s)
		return string(unicode.ToUpper(r)) + s[size:], nil
	},
	"length": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("length", args, 1, 1); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case string:
			return float64(utf8.RuneCountInString(x)), nil
		case []any:
			return float64(len(x)), nil
		case map[string]any:
			return float64(len(x)), nil
		case []byte:
			return float64(len(x)), nil
		case nil, undefinedVal:
			return float64(0), nil
		}
		return nil, typeErr("length: argument has no length")
	},
	"contains": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("contains", args, 2, 2); err != nil {
			return nil, err
		}
		if list, ok := args[0].([]any); ok {
			for _, el := range list {
				if Equal(el, args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(ToString(args[0]), ToString(args[1])), nil
	},
	"startsWith": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("startsWith", args, 2, 2); err != nil {
			return nil, err
		}
		return strings.HasPrefix(ToString(args[0]), ToString(args[1])), nil
	},
	"endsWith": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("endsWith", args, 2, 2); err != nil {
			return nil, err
		}
		return strings.HasSuffix(ToString(args[0]), ToString(args[1])), nil
	},
	"replace": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("replace", args, 3, 3); err != nil {
			return nil, err
		}
		return strings.ReplaceAll(ToString(args[0]), ToString(args[1]), ToString(args[2])), nil
	},
	"split": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("split", args, 2, 2); err != nil {
			return nil, err
		}
		parts := strings.Split(ToString(args[0]), ToString(args[1]))
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	},
	"join": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("join", args, 2, 2); err != nil {
			return nil, err
		}
		list, err := argList("join", args, 0)
		if err != nil {
			return nil, err
		}
		sep := ToString(args[1])
		parts := make([]string, len(list))
		for i, el := range list {
			parts[i] = ToString(el)
		}
		return strings.Join(parts, sep), nil
	},
	"substring": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("substring", args, 2, 3); err != nil {
			return nil, err
		}
		runes := []rune(ToString(args[0]))
		start, err := argNumber("substring", args, 1)
		if err != nil {
			return nil, err
		}
		end := float64(len(runes))
		if len(args) == 3 {
			if end, err = argNumber("substring", args, 2); err != nil {
				return nil, err
			}
		}
		s := clampIndex(int(start), len(runes))
		t := clampIndex(int(end), len(runes))
		if s > t {
			s, t = t, s
		}
		return string(runes[s:t]), nil
	},
	"indexOf": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("indexOf", args, 2, 2); err != nil {
			return nil, err
		}
		if list, ok := args[0].([]any); ok {
			for i, el := range list {
				if Equal(el, args[1]) {
					return float64(i), nil
				}
			}
			return float64(-1), nil
		}
		s := ToString(args[0])
		idx := strings.Index(s, ToString(args[1]))
		if idx < 0 {
			return float64(-1), nil
		}
		return float64(utf8.RuneCountInString(s[:idx])), nil
	},
	"padStart": func(_ *Evaluator, args []any) (any, error) {
		return pad("padStart", args, true)
	},
	"padEnd": func(_ *Evaluator, args []any) (any, error) {
		return pad("padEnd", args, false)
	},
	"repeat": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("repeat", args, 2, 2); err != nil {
			return nil, err
		}
		n, err := argNumber("repeat", args, 1)
		if err != nil {
			return nil, err
		}
		count := int(n)
		if count < 0 {
			count = 0
		}
		s := ToString(args[0])
		if count*len(s) > DefaultMaxInput {
			return nil, &Error{Kind: ErrLimit, Msg: "repeat: result too large"}
		}
		return strings.Repeat(s, count), nil
	},
	"matches": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("matches", args, 2, 2); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(ToString(args[1]))
		if err != nil {
			return nil, typeErr("matches: bad pattern: %v", err)
		}
		return re.MatchString(ToString(args[0])), nil
	},

	// --- numeric functions ---

	"abs":   numFn1("abs", math.Abs),
	"ceil":  numFn1("ceil", math.Ceil),
	"floor": numFn1("floor", math.Floor),
	"sqrt":  numFn1("sqrt", math.Sqrt),
	"sign": numFn1("sign", func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return x // preserves 0 and NaN
	}),
	"round": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("round", args, 1, 2); err != nil {
			return nil, err
		}
		x, err := argNumber("round", args, 0)
		if err != nil {
			return nil, err
		}
		digits := 0.0
		if len(args) == 2 {
			if digits, err = argNumber("round", args, 1); err != nil {
				return nil, err
			}
		}
		p := math.Pow(10, digits)
		return math.Round(x*p) / p, nil
	},
	"pow": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("pow", args, 2, 2); err != nil {
			return nil, err
		}
		x, err := argNumber("pow", args, 0)
		if err != nil {
			return nil, err
		}
		y, err := argNumber("pow", args, 1)
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	},
	"min": reduceFn("min", math.Min),
	"max": reduceFn("max", math.Max),
	"clamp": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("clamp", args, 3, 3); err != nil {
			return nil, err
		}
		x, err := argNumber("clamp", args, 0)
		if err != nil {
			return nil, err
		}
		lo, err := argNumber("clamp", args, 1)
		if err != nil {
			return nil, err
		}
		hi, err := argNumber("clamp", args, 2)
		if err != nil {
			return nil, err
		}
		return math.Min(math.Max(x, lo), hi), nil
	},
	"toFixed": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("toFixed", args, 2, 2); err != nil {
			return nil, err
		}
		x, err := argNumber("toFixed", args, 0)
		if err != nil {
			return nil, err
		}
		d, err := argNumber("toFixed", args, 1)
		if err != nil {
			return nil, err
		}
		digits := int(d)
		if digits < 0 {
			digits = 0
		}
		if digits > 20 {
			digits = 20
		}
		return strconv.FormatFloat(x, 'f', digits, 64), nil
	},
	"sum": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("sum", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("sum", args, 0)
		if err != nil {
			return nil, err
		}
		total := 0.0
		for _, el := range list {
			n, ok := ToNumber(el)
			if !ok {
				return math.NaN(), nil
			}
			total += n
		}
		return total, nil
	},
	"avg": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("avg", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("avg", args, 0)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return math.NaN(), nil
		}
		total := 0.0
		for _, el := range list {
			n, ok := ToNumber(el)
			if !ok {
				return math.NaN(), nil
			}
			total += n
		}
		return total / float64(len(list)), nil
	},

	// --- randomness ---

	"random": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("random", args, 0, 0); err != nil {
			return nil, err
		}
		return e.randFloat(), nil
	},
	"randomInt": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("randomInt", args, 2, 2); err != nil {
			return nil, err
		}
		lo, err := argNumber("randomInt", args, 0)
		if err != nil {
			return nil, err
		}
		hi, err := argNumber("randomInt", args, 1)
		if err != nil {
			return nil, err
		}
		a, b := int(lo), int(hi)
		if a > b {
			a, b = b, a
		}
		return float64(a + e.randIntn(b-a+1)), nil
	},
	"sample": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("sample", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("sample", args, 0)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return Undefined, nil
		}
		return list[e.randIntn(len(list))], nil
	},
	"shuffle": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("shuffle", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("shuffle", args, 0)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(list))
		copy(out, list)
		for i := len(out) - 1; i > 0; i-- {
			j := e.randIntn(i + 1)
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	},

	// --- date and time (UTC, milliseconds since epoch) ---

	"now": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("now", args, 0, 0); err != nil {
			return nil, err
		}
		return float64(e.now().UnixMilli()), nil
	},
	"nowIso": func(e *Evaluator, args []any) (any, error) {
		if err := wantArgs("nowIso", args, 0, 0); err != nil {
			return nil, err
		}
		return e.now().UTC().Format(time.RFC3339), nil
	},
	"formatDate": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("formatDate", args, 1, 2); err != nil {
			return nil, err
		}
		ts, err := argNumber("formatDate", args, 0)
		if err != nil {
			return nil, err
		}
		layout := time.RFC3339
		if len(args) == 2 {
			layout = ToString(args[1])
		}
		return time.UnixMilli(int64(ts)).UTC().Format(layout), nil
	},
	"parseDate": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("parseDate", args, 1, 1); err != nil {
			return nil, err
		}
		s := ToString(args[0])
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return float64(t.UnixMilli()), nil
			}
		}
		return nil, nil
	},
	"year":    dateFn("year", func(t time.Time) float64 { return float64(t.Year()) }),
	"month":   dateFn("month", func(t time.Time) float64 { return float64(t.Month()) }),
	"day":     dateFn("day", func(t time.Time) float64 { return float64(t.Day()) }),
	"hour":    dateFn("hour", func(t time.Time) float64 { return float64(t.Hour()) }),
	"minute":  dateFn("minute", func(t time.Time) float64 { return float64(t.Minute()) }),
	"second":  dateFn("second", func(t time.Time) float64 { return float64(t.Second()) }),
	"weekday": dateFn("weekday", func(t time.Time) float64 { return float64(t.Weekday()) }),

	// --- list and object functions ---

	"first": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("first", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("first", args, 0)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return Undefined, nil
		}
		return list[0], nil
	},
	"last": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("last", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("last", args, 0)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return Undefined, nil
		}
		return list[len(list)-1], nil
	},
	"reverse": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("reverse", args, 1, 1); err != nil {
			return nil, err
		}
		if s, ok := args[0].(string); ok {
			runes := []rune(s)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		}
		list, err := argList("reverse", args, 0)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(list))
		for i, el := range list {
			out[len(list)-1-i] = el
		}
		return out, nil
	},
	"sort": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("sort", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("sort", args, 0)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(list))
		copy(out, list)
		sortValues(out, func(v any) any { return v })
		return out, nil
	},
	"sortBy": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("sortBy", args, 2, 2); err != nil {
			return nil, err
		}
		list, err := argList("sortBy", args, 0)
		if err != nil {
			return nil, err
		}
		key := ToString(args[1])
		out := make([]any, len(list))
		copy(out, list)
		sortValues(out, func(v any) any { return Member(v, key) })
		return out, nil
	},
	"unique": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("unique", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("unique", args, 0)
		if err != nil {
			return nil, err
		}
		var out []any
		for _, el := range list {
			dup := false
			for _, seen := range out {
				if Equal(el, seen) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, el)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	},
	"slice": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("slice", args, 2, 3); err != nil {
			return nil, err
		}
		list, err := argList("slice", args, 0)
		if err != nil {
			return nil, err
		}
		start, err := argNumber("slice", args, 1)
		if err != nil {
			return nil, err
		}
		end := float64(len(list))
		if len(args) == 3 {
			if end, err = argNumber("slice", args, 2); err != nil {
				return nil, err
			}
		}
		s := clampIndex(int(start), len(list))
		t := clampIndex(int(end), len(list))
		if s > t {
			return []any{}, nil
		}
		out := make([]any, t-s)
		copy(out, list[s:t])
		return out, nil
	},
	"concat": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("concat", args, 1, -1); err != nil {
			return nil, err
		}
		var out []any
		for i := range args {
			list, err := argList("concat", args, i)
			if err != nil {
				return nil, err
			}
			out = append(out, list...)
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	},
	"flatten": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("flatten", args, 1, 1); err != nil {
			return nil, err
		}
		list, err := argList("flatten", args, 0)
		if err != nil {
			return nil, err
		}
		out := []any{}
		for _, el := range list {
			if inner, ok := el.([]any); ok {
				out = append(out, inner...)
				continue
			}
			out = append(out, el)
		}
		return out, nil
	},
	"range": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("range", args, 1, 3); err != nil {
			return nil, err
		}
		var start, end, step float64 = 0, 0, 1
		var err error
		switch len(args) {
		case 1:
			if end, err = argNumber("range", args, 0); err != nil {
				return nil, err
			}
		case 2, 3:
			if start, err = argNumber("range", args, 0); err != nil {
				return nil, err
			}
			if end, err = argNumber("range", args, 1); err != nil {
				return nil, err
			}
			if len(args) == 3 {
				if step, err = argNumber("range", args, 2); err != nil {
					return nil, err
				}
			}
		}
		if step == 0 || math.IsNaN(step) {
			return nil, typeErr("range: step must be nonzero")
		}
		var out []any
		if step > 0 {
			for v := start; v < end; v += step {
				out = append(out, v)
				if len(out) > 1_000_000 {
					return nil, &Error{Kind: ErrLimit, Msg: "range: too many elements"}
				}
			}
		} else {
			for v := start; v > end; v += step {
				out = append(out, v)
				if len(out) > 1_000_000 {
					return nil, &Error{Kind: ErrLimit, Msg: "range: too many elements"}
				}
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	},
	"keys": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("keys", args, 1, 1); err != nil {
			return nil, err
		}
		m, err := argObject("keys", args, 0)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, k := range names {
			out[i] = k
		}
		return out, nil
	},
	"values": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("values", args, 1, 1); err != nil {
			return nil, err
		}
		m, err := argObject("values", args, 0)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, k := range names {
			out[i] = m[k]
		}
		return out, nil
	},
	"has": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("has", args, 2, 2); err != nil {
			return nil, err
		}
		m, err := argObject("has", args, 0)
		if err != nil {
			return nil, err
		}
		_, ok := m[ToString(args[1])]
		return ok, nil
	},
	"get": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("get", args, 2, 3); err != nil {
			return nil, err
		}
		v := DeepGet(args[0], ToString(args[1]))
		if IsUndefined(v) && len(args) == 3 {
			return args[2], nil
		}
		return v, nil
	},
	"pluck": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("pluck", args, 2, 2); err != nil {
			return nil, err
		}
		list, err := argList("pluck", args, 0)
		if err != nil {
			return nil, err
		}
		key := ToString(args[1])
		out := make([]any, len(list))
		for i, el := range list {
			out[i] = Member(el, key)
		}
		return out, nil
	},

	// --- type checks and conversions ---

	"typeOf": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("typeOf", args, 1, 1); err != nil {
			return nil, err
		}
		return TypeName(args[0]), nil
	},
	"isString":  typeCheckFn("isString", "string"),
	"isNumber":  typeCheckFn("isNumber", "number"),
	"isBool":    typeCheckFn("isBool", "bool"),
	"isArray":   typeCheckFn("isArray", "array"),
	"isObject":  typeCheckFn("isObject", "object"),
	"isNull":    typeCheckFn("isNull", "null"),
	"isDefined": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("isDefined", args, 1, 1); err != nil {
			return nil, err
		}
		return !IsUndefined(args[0]), nil
	},
	"toString": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("toString", args, 1, 1); err != nil {
			return nil, err
		}
		return ToString(args[0]), nil
	},
	"toNumber": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("toNumber", args, 1, 1); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case nil:
			return float64(0), nil
		case bool:
			if x {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return math.NaN(), nil
			}
			return n, nil
		}
		if n, ok := ToNumber(args[0]); ok {
			return n, nil
		}
		return math.NaN(), nil
	},
	"toBool": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("toBool", args, 1, 1); err != nil {
			return nil, err
		}
		return Truthy(args[0]), nil
	},
	"toJson": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("toJson", args, 1, 1); err != nil {
			return nil, err
		}
		v := args[0]
		if IsUndefined(v) {
			v = nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, typeErr("toJson: %v", err)
		}
		return string(b), nil
	},
	"fromJson": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("fromJson", args, 1, 1); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(ToString(args[0])), &v); err != nil {
			return nil, nil
		}
		return v, nil
	},
	"default": func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs("default", args, 2, 2); err != nil {
			return nil, err
		}
		if IsUndefined(args[0]) || args[0] == nil {
			return args[1], nil
		}
		return args[0], nil
	},
	"coalesce": func(_ *Evaluator, args []any) (any, error) {
		for _, a := range args {
			if !IsUndefined(a) && a != nil {
				return a, nil
			}
		}
		return nil, nil
	},
}

// --- table construction helpers ---

// numFn1 builds a one-argument numeric function entry.
func numFn1(name string, fn func(float64) float64) builtinFunc {
	return func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		x, err := argNumber(name, args, 0)
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	}
}

// reduceFn builds min/max style entries that accept either a single array or
// two-plus scalar arguments.
func reduceFn(name string, fn func(a, b float64) float64) builtinFunc {
	return func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs(name, args, 1, -1); err != nil {
			return nil, err
		}
		vals := args
		if len(args) == 1 {
			list, err := argList(name, args, 0)
			if err != nil {
				return nil, err
			}
			vals = list
		}
		if len(vals) == 0 {
			return math.NaN(), nil
		}
		acc, ok := ToNumber(vals[0])
		if !ok {
			return math.NaN(), nil
		}
		for _, v := range vals[1:] {
			n, ok := ToNumber(v)
			if !ok {
				return math.NaN(), nil
			}
			acc = fn(acc, n)
		}
		return acc, nil
	}
}

// dateFn builds a one-argument calendar accessor over a millisecond
// timestamp, evaluated in UTC.
func dateFn(name string, fn func(time.Time) float64) builtinFunc {
	return func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		ts, err := argNumber(name, args, 0)
		if err != nil {
			return nil, err
		}
		return fn(time.UnixMilli(int64(ts)).UTC()), nil
	}
}

// typeCheckFn builds an is* predicate from a TypeName result.
func typeCheckFn(name, typ string) builtinFunc {
	return func(_ *Evaluator, args []any) (any, error) {
		if err := wantArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		return TypeName(args[0]) == typ, nil
	}
}

// pad implements padStart and padEnd over runes.
func pad(name string, args []any, start bool) (any, error) {
	if err := wantArgs(name, args, 2, 3); err != nil {
		return nil, err
	}
	s := ToString(args[0])
	width, err := argNumber(name, args, 1)
	if err != nil {
		return nil, err
	}
	fill := " "
	if len(args) == 3 {
		fill = ToString(args[2])
	}
	if fill == "" {
		return s, nil
	}
	need := int(width) - utf8.RuneCountInString(s)
	if need <= 0 {
		return s, nil
	}
	fillRunes := []rune(fill)
	var b strings.Builder
	for i := 0; i < need; i++ {
		b.WriteRune(fillRunes[i%len(fillRunes)])
	}
	if start {
		return b.String() + s, nil
	}
	return s + b.String(), nil
}

// clampIndex clamps i into [0, n], treating negatives as offsets from the end.
func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// sortValues sorts in place by a derived key: numerically when both keys are
// numbers, otherwise lexicographically by string form.
func sortValues(list []any, key func(any) any) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := key(list[i]), key(list[j])
		an, aok := ToNumber(a)
		bn, bok := ToNumber(b)
		if aok && bok {
			return an < bn
		}
		return ToString(a) < ToString(b)
	})
}
