package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// undefinedVal is the sentinel produced by missing member access. It is
// distinct from nil (the null literal): null is a value an author wrote,
// undefined means nothing was there at all.
type undefinedVal struct{}

// Undefined is the value produced when member access misses. It propagates
// through further member access without error and is falsy.
var Undefined any = undefinedVal{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedVal)
	return ok
}

// Truthy converts a value to a boolean the way conditions do: nil, Undefined,
// false, 0, NaN, and "" are falsy; everything else (including empty arrays
// and objects) is truthy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case undefinedVal:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint:
		return x != 0
	case uint64:
		return x != 0
	}
	return true
}

// ToNumber coerces a value to float64. The second result is false when the
// value has no numeric form; arithmetic treats such operands as NaN. Strings
// and booleans do not convert implicitly; the toNumber function exists for
// explicit conversion.
func ToNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToString renders a value for interpolation. Undefined renders as the empty
// string, integral floats drop the fractional point, arrays and objects
// render as JSON.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case undefinedVal:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	}
	if n, ok := ToNumber(v); ok {
		return FormatNumber(n)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// FormatNumber renders a float64 without a trailing ".0" for integral values.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Equal implements the == operator: same-type deep equality with no
// cross-type coercion. Numbers compare by value regardless of Go width,
// arrays elementwise, objects keywise. Undefined equals only Undefined.
func Equal(a, b any) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return IsUndefined(a) && IsUndefined(b)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := ToNumber(a)
	bn, bok := ToNumber(b)
	if aok || bok {
		return aok && bok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// Member resolves one member-access step. Missing members, out-of-range
// indexes, and access on non-containers all yield Undefined rather than an
// error, so chained access over absent data degrades quietly.
func Member(v any, key any) any {
	if v == nil || IsUndefined(v) {
		return Undefined
	}
	switch c := v.(type) {
	case map[string]any:
		if m, ok := c[ToString(key)]; ok {
			return m
		}
		return Undefined
	case []any:
		n, ok := ToNumber(key)
		if !ok {
			return Undefined
		}
		i := int(n)
		if i < 0 {
			i += len(c)
		}
		if i >= 0 && i < len(c) {
			return c[i]
		}
		return Undefined
	}
	return Undefined
}

// DeepGet traverses a dotted path ("user.roles.0") through nested maps and
// arrays, returning Undefined as soon as a segment misses.
func DeepGet(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		cur = Member(cur, seg)
		if IsUndefined(cur) {
			return Undefined
		}
	}
	return cur
}

// TypeName reports the expression-level type of a value: one of null,
// undefined, bool, number, string, array, object, or bytes.
func TypeName(v any) string {
	if v == nil {
		return "null"
	}
	if IsUndefined(v) {
		return "undefined"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "string"
	case []byte:
		return "bytes"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := ToNumber(v); ok {
		return "number"
	}
	return "object"
}
