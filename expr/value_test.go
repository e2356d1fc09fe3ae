package expr

import (
	"math"
	"testing"
)

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{Undefined, false},
		{false, false},
		{true, true},
		{float64(0), false},
		{float64(1), true},
		{math.NaN(), false},
		{"", false},
		{"x", true},
		{int(0), false},
		{int64(3), true},
		// Empty containers are truthy.
		{[]any{}, true},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.v); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{nil, "null"},
		{Undefined, ""},
		{"x", "x"},
		{true, "true"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{float64(-0.25), "-0.25"},
		{int(42), "42"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "+Inf"},
		{math.Inf(-1), "-Inf"},
		{[]byte("raw"), "raw"},
		{[]any{float64(1), "a"}, `[1,"a"]`},
		{map[string]any{"a": float64(1)}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := ToString(tt.v); got != tt.want {
			t.Errorf("ToString(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatNumber_LargeValues(t *testing.T) {
	// Integral values below 1e15 render as integers; beyond that the float
	// formatter takes over.
	if got := FormatNumber(123456789012345); got != "123456789012345" {
		t.Errorf("got %q", got)
	}
	if got := FormatNumber(1e20); got != "1e+20" {
		t.Errorf("got %q", got)
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		v    any
		want float64
		ok   bool
	}{
		{float64(1.5), 1.5, true},
		{int(3), 3, true},
		{int64(-2), -2, true},
		{uint(7), 7, true},
		{"1", 0, false},
		{true, 0, false},
		{nil, 0, false},
		{Undefined, 0, false},
		{[]any{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToNumber(tt.v)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ToNumber(%#v) = %v, %v; want %v, %v", tt.v, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{float64(1), float64(1), true},
		{float64(1), int(1), true},
		{int64(2), float64(2), true},
		{"1", float64(1), false},
		{"a", "a", true},
		{true, true, true},
		{true, float64(1), false},
		{nil, nil, true},
		{nil, Undefined, false},
		{Undefined, Undefined, true},
		{nil, float64(0), false},
		{[]any{float64(1)}, []any{float64(1)}, true},
		{[]any{float64(1)}, []any{float64(2)}, false},
		{[]any{}, []any{}, true},
		{map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}, true},
		{map[string]any{"a": float64(1)}, map[string]any{"b": float64(1)}, false},
		{math.NaN(), math.NaN(), false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMember(t *testing.T) {
	obj := map[string]any{"a": float64(1)}
	arr := []any{"x", "y", "z"}

	tests := []struct {
		v    any
		key  any
		want any
	}{
		{obj, "a", float64(1)},
		{obj, "b", Undefined},
		{arr, float64(0), "x"},
		{arr, float64(2), "z"},
		{arr, float64(-1), "z"},
		{arr, float64(3), Undefined},
		{arr, "notIndex", Undefined},
		{nil, "a", Undefined},
		{Undefined, "a", Undefined},
		{"scalar", "a", Undefined},
	}
	for _, tt := range tests {
		got := Member(tt.v, tt.key)
		if IsUndefined(tt.want) {
			if !IsUndefined(got) {
				t.Errorf("Member(%#v, %#v) = %#v, want Undefined", tt.v, tt.key, got)
			}
			continue
		}
		if !Equal(got, tt.want) {
			t.Errorf("Member(%#v, %#v) = %#v, want %#v", tt.v, tt.key, got, tt.want)
		}
	}
}

func TestDeepGet(t *testing.T) {
	v := map[string]any{
		"user": map[string]any{
			"roles": []any{"admin", "mod"},
		},
	}
	if got := DeepGet(v, "user.roles.1"); got != "mod" {
		t.Errorf("got %#v, want %q", got, "mod")
	}
	if got := DeepGet(v, "user.missing.deep"); !IsUndefined(got) {
		t.Errorf("got %#v, want Undefined", got)
	}
	if got := DeepGet(v, ""); !Equal(got, v) {
		t.Errorf("empty path: got %#v", got)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{nil, "null"},
		{Undefined, "undefined"},
		{true, "bool"},
		{"s", "string"},
		{float64(1), "number"},
		{int(1), "number"},
		{[]byte{1}, "bytes"},
		{[]any{}, "array"},
		{map[string]any{}, "object"},
	}
	for _, tt := range tests {
		if got := TypeName(tt.v); got != tt.want {
			t.Errorf("TypeName(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
