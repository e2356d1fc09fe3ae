package golem

import (
	"regexp"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// durationRe matches the compact single-unit literal used for TTLs, timeouts,
// throttle and debounce windows: "250ms", "5s", "10m", "2h".
var durationRe = regexp.MustCompile(`^(\d+)(ms|s|m|h)$`)

var durationUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
}

// ParseDuration parses a compact duration literal "<n><unit>" with exactly
// one unit of ms, s, m, or h. Compound forms like "1h30m" are rejected here;
// only the seek parser accepts them.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, &ValidationError{Field: "duration", Msg: "not a duration literal: " + strconv.Quote(s)}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "duration", Msg: "not a duration literal: " + strconv.Quote(s)}
	}
	return time.Duration(n) * durationUnits[m[2]], nil
}

// DurationOr parses s with ParseDuration and falls back to def when s is
// empty or malformed. Components pick their own default: pipe reconnect uses
// 5s, generic conversions use 0.
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ParseSeekDuration parses voice seek and position strings, which allow
// compound forms like "1h30m" and "1m30s". A plain integer is taken as
// seconds.
func ParseSeekDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, &ValidationError{Field: "seek", Msg: "empty seek position"}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, &ValidationError{Field: "seek", Msg: "negative seek position"}
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, &ValidationError{Field: "seek", Msg: "not a seek position: " + strconv.Quote(s)}
	}
	if d < 0 {
		return 0, &ValidationError{Field: "seek", Msg: "negative seek position"}
	}
	return d, nil
}
