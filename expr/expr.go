// Package expr implements the sandboxed expression language used throughout
// bot specifications: `when` conditions, templated action fields, and
// ${...} interpolation in strings.
//
// The language is a side-effect-free subset over the evaluation context:
// member access (a.b, a[0]), arithmetic, comparison, logical operators,
// the ternary, literals for strings/numbers/booleans/null/arrays/objects,
// and calls into a fixed table of about seventy functions. The pipe form
// x | f(y) is sugar for f(x, y). There is no assignment, no loops, and no
// way to invoke anything outside the function table.
//
// Missing member access yields Undefined, which propagates through further
// access without error and is falsy. Arithmetic on non-numeric operands
// yields NaN per IEEE-754 rather than failing. Evaluation is deterministic
// for a given context except for the random* and now* functions.
package expr

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Default sandbox limits. Both are configurable per Evaluator.
const (
	DefaultMaxInput = 64 * 1024
	DefaultMaxDepth = 64
)

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	ErrParse     ErrorKind = "parse"     // malformed source
	ErrReference ErrorKind = "reference" // unknown identifier or function
	ErrType      ErrorKind = "type"      // operation applied to the wrong kind of value
	ErrLimit     ErrorKind = "limit"     // input size or depth limit exceeded
)

// Error is the failure type for all evaluation surfaces. Excerpt holds the
// source fragment near the failure for diagnostics.
type Error struct {
	Kind    ErrorKind
	Msg     string
	Excerpt string
}

func (e *Error) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("expr: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("expr: %s: %s near %q", e.Kind, e.Msg, e.Excerpt)
}

// errf builds an *Error with a formatted message and a source excerpt.
func errf(kind ErrorKind, src string, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Excerpt: excerpt(src, pos)}
}

// excerpt returns up to 40 characters of source centered on pos.
func excerpt(src string, pos int) string {
	if src == "" {
		return ""
	}
	if pos < 0 {
		pos = 0
	}
	if pos > len(src) {
		pos = len(src)
	}
	start := pos - 20
	if start < 0 {
		start = 0
	}
	end := pos + 20
	if end > len(src) {
		end = len(src)
	}
	return strings.TrimSpace(src[start:end])
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxInput caps the length of source strings. Longer inputs fail with a
// limit error before lexing.
func WithMaxInput(n int) Option {
	return func(e *Evaluator) { e.maxInput = n }
}

// WithMaxDepth caps the expression tree depth.
func WithMaxDepth(n int) Option {
	return func(e *Evaluator) { e.maxDepth = n }
}

// WithNow overrides the time source used by now() and the other date
// functions. Intended for tests.
func WithNow(fn func() time.Time) Option {
	return func(e *Evaluator) { e.now = fn }
}

// WithRand overrides the randomness source used by random(), randomInt(),
// sample(), and shuffle(). Intended for tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Evaluator) { e.rand = r }
}

// Evaluator evaluates expressions and templates against a context mapping.
// The zero value is not usable; construct with New. An Evaluator is safe for
// concurrent use except when a shared *rand.Rand is injected via WithRand.
type Evaluator struct {
	maxInput int
	maxDepth int
	now      func() time.Time
	rand     *rand.Rand
}

// New creates an Evaluator with the default limits.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		maxInput: DefaultMaxInput,
		maxDepth: DefaultMaxDepth,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// defaultEvaluator backs the package-level convenience functions.
var defaultEvaluator = New()

// Evaluate parses src as a single expression and evaluates it against env.
func Evaluate(src string, env map[string]any) (any, error) {
	return defaultEvaluator.Evaluate(src, env)
}

// Interpolate resolves every ${expr} in tmpl and returns the concatenation.
func Interpolate(tmpl string, env map[string]any) (string, error) {
	return defaultEvaluator.Interpolate(tmpl, env)
}

// EvaluateTemplate resolves tmpl like Interpolate, except that a template
// consisting of exactly one ${expr} returns the raw value, preserving its
// type.
func EvaluateTemplate(tmpl string, env map[string]any) (any, error) {
	return defaultEvaluator.EvaluateTemplate(tmpl, env)
}

// Evaluate parses src as a single expression and evaluates it against env.
func (e *Evaluator) Evaluate(src string, env map[string]any) (any, error) {
	if len(src) > e.maxInput {
		return nil, &Error{Kind: ErrLimit, Msg: fmt.Sprintf("input length %d exceeds limit %d", len(src), e.maxInput)}
	}
	root, err := parse(src, e.maxDepth)
	if err != nil {
		return nil, err
	}
	return e.eval(root, src, env)
}

// Interpolate resolves every ${expr} in tmpl and returns the concatenation,
// converting each result to a string.
func (e *Evaluator) Interpolate(tmpl string, env map[string]any) (string, error) {
	v, err := e.evalTemplate(tmpl, env, true)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EvaluateTemplate resolves tmpl like Interpolate, except that a template
// consisting of exactly one ${expr} returns the raw value with its type
// preserved. A template with no ${ at all is returned verbatim.
func (e *Evaluator) EvaluateTemplate(tmpl string, env map[string]any) (any, error) {
	return e.evalTemplate(tmpl, env, false)
}

// evalTemplate is the shared implementation for Interpolate and
// EvaluateTemplate. When forceString is false and the template is a single
// bare ${expr}, the raw value is returned.
func (e *Evaluator) evalTemplate(tmpl string, env map[string]any, forceString bool) (any, error) {
	if len(tmpl) > e.maxInput {
		return nil, &Error{Kind: ErrLimit, Msg: fmt.Sprintf("input length %d exceeds limit %d", len(tmpl), e.maxInput)}
	}
	segs, err := splitTemplate(tmpl)
	if err != nil {
		return nil, err
	}

	// Single-expression template: preserve the value's type.
	if !forceString && len(segs) == 1 && segs[0].expr {
		return e.Evaluate(segs[0].text, env)
	}

	var b strings.Builder
	for _, seg := range segs {
		if !seg.expr {
			b.WriteString(seg.text)
			continue
		}
		v, err := e.Evaluate(seg.text, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(ToString(v))
	}
	return b.String(), nil
}

// segment is one piece of a template: literal text or an expression body.
type segment struct {
	text string
	expr bool
}

// splitTemplate scans tmpl into literal and ${...} segments. Brace matching
// respects nested braces and string literals inside the expression, so
// object literals like ${ {"a": 1} } and strings containing "}" work.
func splitTemplate(tmpl string) ([]segment, error) {
	var segs []segment
	i := 0
	lit := 0 // start of the current literal run
	for i < len(tmpl) {
		if tmpl[i] == '$' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			if i > lit {
				segs = append(segs, segment{text: tmpl[lit:i]})
			}
			body, next, err := scanExprBody(tmpl, i+2)
			if err != nil {
				return nil, err
			}
			segs = append(segs, segment{text: body, expr: true})
			i = next
			lit = next
			continue
		}
		i++
	}
	if lit < len(tmpl) {
		segs = append(segs, segment{text: tmpl[lit:]})
	}
	if segs == nil {
		segs = []segment{{text: ""}}
	}
	return segs, nil
}

// scanExprBody consumes an expression body starting just after "${" and
// returns the body and the index just past the closing brace.
func scanExprBody(tmpl string, start int) (string, int, error) {
	depth := 1
	i := start
	for i < len(tmpl) {
		c := tmpl[i]
		switch c {
		case '\'', '"':
			// Skip the string literal, honoring backslash escapes.
			quote := c
			i++
			for i < len(tmpl) {
				if tmpl[i] == '\\' {
					i += 2
					continue
				}
				if tmpl[i] == quote {
					break
				}
				i++
			}
			if i >= len(tmpl) {
				return "", 0, errf(ErrParse, tmpl, start, "unterminated string in template expression")
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return tmpl[start:i], i + 1, nil
			}
		}
		i++
	}
	return "", 0, errf(ErrParse, tmpl, start, "unterminated ${ in template")
}
