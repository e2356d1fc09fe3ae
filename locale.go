package golem

import (
	"regexp"
	"strings"

	"github.com/nevindra/golem/expr"
)

var localeParamRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LocaleManager resolves user-facing strings from the document's locale
// tables. Lookups never fail: a miss returns the raw key so broken
// references show up in output instead of crashing a dispatch.
type LocaleManager struct {
	locales  map[string]map[string]any
	fallback string
}

// NewLocaleManager creates a manager over the document's locale tables.
// fallback applies only when an entire requested locale is absent.
func NewLocaleManager(locales map[string]map[string]any, fallback string) *LocaleManager {
	if locales == nil {
		locales = make(map[string]map[string]any)
	}
	return &LocaleManager{locales: locales, fallback: fallback}
}

// Get resolves a dotted key ("commands.ban.name") in the given locale and
// substitutes {name} placeholders from params. Missing segments, non-string
// terminals, and unknown locales (after fallback) all return the raw key.
// Unknown or nil params leave their placeholder intact.
func (m *LocaleManager) Get(key, locale string, params map[string]any) string {
	table, ok := m.locales[locale]
	if !ok {
		table, ok = m.locales[m.fallback]
		if !ok {
			return key
		}
	}

	var cur any = map[string]any(table)
	for _, seg := range strings.Split(key, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return key
		}
		cur, ok = node[seg]
		if !ok {
			return key
		}
	}
	s, ok := cur.(string)
	if !ok {
		return key
	}

	if len(params) == 0 {
		return s
	}
	return localeParamRe.ReplaceAllStringFunc(s, func(ph string) string {
		name := ph[1 : len(ph)-1]
		v, ok := params[name]
		if !ok || v == nil {
			return ph
		}
		return expr.ToString(v)
	})
}

// Locales lists the known locale codes.
func (m *LocaleManager) Locales() []string {
	out := make([]string, 0, len(m.locales))
	for code := range m.locales {
		out = append(out, code)
	}
	return out
}
