package traffic

import (
	"strings"
	"testing"

	"bikeflow/pkg/types"
)

func TestMinutesSinceMidnight(t *testing.T) {
	tests := []struct {
		hh, mm, ss int
		want       int
	}{
		{0, 0, 0, 0},
		{0, 59, 59, 59},
		{8, 30, 12, 510},
		{23, 59, 59, 1439},
	}

	for _, tt := range tests {
		if got := MinutesSinceMidnight(at(tt.hh, tt.mm, tt.ss)); got != tt.want {
			t.Errorf("MinutesSinceMidnight(%02d:%02d:%02d) = %d, want %d", tt.hh, tt.mm, tt.ss, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "12:00 AM"},
		{5, "12:05 AM"},
		{510, "8:30 AM"},
		{720, "12:00 PM"},
		{765, "12:45 PM"},
		{1439, "11:59 PM"},
	}

	for _, tt := range tests {
		if got := FormatTime(tt.minutes); got != tt.want {
			t.Errorf("FormatTime(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestFormatTime_PanicsOutOfRange(t *testing.T) {
	for _, minutes := range []int{-1, 1440, 5000} {
		func() {
			defer func() {
				r := recover()
				if r == nil {
					t.Errorf("FormatTime(%d) should panic", minutes)
					return
				}
				if msg, ok := r.(string); !ok || !strings.Contains(msg, "out of range") {
					t.Errorf("unexpected panic value %v", r)
				}
			}()
			FormatTime(minutes)
		}()
	}
}

func TestLabel(t *testing.T) {
	if got := Label(types.NoFilter); got != "any time" {
		t.Errorf("Label(NoFilter) = %q, want %q", got, "any time")
	}
	if got := Label(1020); got != "5:00 PM" {
		t.Errorf("Label(1020) = %q, want %q", got, "5:00 PM")
	}
}

func TestParseTimeFilter(t *testing.T) {
	tests := []struct {
		input     string
		want      types.TimeFilter
		expectErr bool
	}{
		{"", types.NoFilter, false},
		{"  ", types.NoFilter, false},
		{"-1", types.NoFilter, false},
		{"0", 0, false},
		{"510", 510, false},
		{"1439", 1439, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{"0:00", 0, false},
		{"1440", types.NoFilter, true},
		{"-2", types.NoFilter, true},
		{"24:00", types.NoFilter, true},
		{"08:60", types.NoFilter, true},
		{"8:5", types.NoFilter, true},
		{"noon", types.NoFilter, true},
		{"8.5", types.NoFilter, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeFilter(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("ParseTimeFilter(%q) = %d, expected error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeFilter(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeFilter(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
