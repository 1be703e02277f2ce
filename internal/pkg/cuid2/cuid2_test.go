package cuid2

import (
	"regexp"
	"strings"
	"testing"
)

func TestEncodeTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"Zero timestamp", 0, "000000"},
		{"One second", 1, "000001"},
		{"62 seconds", 62, "000010"},
		{"One minute", 60, "00000y"},
		{"One hour", 3600, "0000w4"},
		{"One day", 86400, "000MTY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EncodeTimestamp(tt.seconds)
			if result != tt.expected {
				t.Errorf("EncodeTimestamp(%d) = %s, want %s", tt.seconds, result, tt.expected)
			}
		})
	}
}

func TestEncodeTimestampSortable(t *testing.T) {
	prev := EncodeTimestamp(0)
	for _, s := range []int64{1, 60, 3600, 86400, 1704067200} {
		cur := EncodeTimestamp(s)
		if !(cur > prev) {
			t.Errorf("EncodeTimestamp(%d) = %s not greater than previous %s", s, cur, prev)
		}
		prev = cur
	}
}

func TestNew(t *testing.T) {
	pattern := regexp.MustCompile(`^lst_[0-9A-Za-z]{24}$`)

	id := New("lst")
	if !pattern.MatchString(id) {
		t.Errorf("New(\"lst\") = %q, want match for %s", id, pattern)
	}
	if !strings.HasPrefix(id, "lst_") {
		t.Errorf("New(\"lst\") = %q, missing prefix", id)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := New("prc")
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}
