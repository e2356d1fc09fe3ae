package golem

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"5s", 5 * time.Second},
		{"10m", 10 * time.Minute},
		{"2h", 2 * time.Hour},
		{"0s", 0},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDurationRejectsCompoundAndJunk(t *testing.T) {
	for _, in := range []string{"", "5", "s", "1h30m", "1.5s", "-5s", "5 s", "5d", "ms5"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q): expected error, got nil", in)
		}
	}
}

func TestDurationOr(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"100ms", 5 * time.Second, 100 * time.Millisecond},
		{"", 5 * time.Second, 5 * time.Second},
		{"bogus", 5 * time.Second, 5 * time.Second},
		{"1h30m", 0, 0},
	}
	for _, tt := range tests {
		if got := DurationOr(tt.in, tt.def); got != tt.want {
			t.Errorf("DurationOr(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestParseSeekDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90", 90 * time.Second},
		{"90s", 90 * time.Second},
		{"1m30s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseSeekDuration(tt.in)
		if err != nil {
			t.Fatalf("ParseSeekDuration(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSeekDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSeekDurationRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-90", "-1m"} {
		if _, err := ParseSeekDuration(in); err == nil {
			t.Errorf("ParseSeekDuration(%q): expected error, got nil", in)
		}
	}
}
