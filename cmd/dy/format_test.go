package main

import (
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is too long", 10, "this is..."},
		{"ñandú-ñandú-ñandú", 8, "ñandú..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	v := 42.456
	if got := formatFloat(&v, 1); got != "42.5" {
		t.Errorf("formatFloat(42.456, 1) = %q, want %q", got, "42.5")
	}
	if got := formatFloat(nil, 1); got != "-" {
		t.Errorf("formatFloat(nil) = %q, want %q", got, "-")
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	if got := formatTime(&ts); got != "2026-03-04 04:06:07" {
		t.Errorf("formatTime() = %q, want UTC rendering", got)
	}
	if got := formatTime(nil); got != "-" {
		t.Errorf("formatTime(nil) = %q, want %q", got, "-")
	}
	var zero time.Time
	if got := formatTime(&zero); got != "-" {
		t.Errorf("formatTime(zero) = %q, want %q", got, "-")
	}
}

func TestOrDash(t *testing.T) {
	if got := orDash(""); got != "-" {
		t.Errorf("orDash(\"\") = %q", got)
	}
	if got := orDash("x"); got != "x" {
		t.Errorf("orDash(\"x\") = %q", got)
	}
}
