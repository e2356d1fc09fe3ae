package golem

import (
	"sort"
	"testing"
)

func testLocales() map[string]map[string]any {
	return map[string]map[string]any{
		"en": {
			"greeting": "Hello {name}!",
			"commands": map[string]any{
				"ban": map[string]any{
					"name":    "ban",
					"success": "Banned {user} for {reason}",
				},
			},
			"count": "You have {n} points",
			"weird": map[string]any{"not_a_string": float64(7)},
		},
		"de": {
			"greeting": "Hallo {name}!",
		},
	}
}

func TestLocaleGetSimple(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	got := m.Get("greeting", "en", map[string]any{"name": "Ada"})
	if got != "Hello Ada!" {
		t.Errorf("Get = %q, want Hello Ada!", got)
	}
}

func TestLocaleGetDottedKey(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	got := m.Get("commands.ban.success", "en", map[string]any{"user": "bob", "reason": "spam"})
	if got != "Banned bob for spam" {
		t.Errorf("Get = %q", got)
	}
}

func TestLocaleMissReturnsKey(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	for _, key := range []string{
		"nope",
		"commands.ban.missing",
		"commands.ban.success.too.deep",
		"weird.not_a_string",
	} {
		if got := m.Get(key, "en", nil); got != key {
			t.Errorf("Get(%q) = %q, want the raw key", key, got)
		}
	}
}

func TestLocaleFallbackOnlyForWholeLocale(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")

	// Unknown locale falls back to the default table.
	if got := m.Get("greeting", "fr", map[string]any{"name": "Zoe"}); got != "Hello Zoe!" {
		t.Errorf("fallback = %q, want the en string", got)
	}

	// A known locale missing one key does NOT fall back key-by-key.
	if got := m.Get("count", "de", map[string]any{"n": 3}); got != "count" {
		t.Errorf("per-key fallback happened: %q, want the raw key", got)
	}
}

func TestLocaleMissingParamLeftIntact(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	if got := m.Get("greeting", "en", map[string]any{}); got != "Hello {name}!" {
		t.Errorf("Get = %q, want the placeholder untouched", got)
	}
	if got := m.Get("greeting", "en", map[string]any{"name": nil}); got != "Hello {name}!" {
		t.Errorf("nil param = %q, want the placeholder untouched", got)
	}
}

func TestLocaleNumericParam(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	if got := m.Get("count", "en", map[string]any{"n": float64(42)}); got != "You have 42 points" {
		t.Errorf("Get = %q", got)
	}
}

func TestLocaleNoTablesAtAll(t *testing.T) {
	m := NewLocaleManager(nil, "en")
	if got := m.Get("anything", "en", nil); got != "anything" {
		t.Errorf("Get = %q, want the raw key", got)
	}
}

func TestLocales(t *testing.T) {
	m := NewLocaleManager(testLocales(), "en")
	got := m.Locales()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "de" || got[1] != "en" {
		t.Errorf("Locales = %v, want [de en]", got)
	}
}
