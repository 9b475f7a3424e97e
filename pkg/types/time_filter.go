package types

import "fmt"

// TimeFilter selects a minute of the day, or NoFilter.
type TimeFilter int

const (
	// NoFilter lets every trip through
	NoFilter TimeFilter = -1

	// MinutesPerDay bounds a TimeFilter: valid minutes are [0, MinutesPerDay)
	MinutesPerDay = 24 * 60
)

// IsSet reports whether the filter selects a minute
func (f TimeFilter) IsSet() bool {
	return f != NoFilter
}

// Valid reports whether f is NoFilter or a minute in [0, 1439]
func (f TimeFilter) Valid() bool {
	return f == NoFilter || (f >= 0 && int(f) < MinutesPerDay)
}

// Key returns a compact label-safe form: "any" or "HH:MM".
func (f TimeFilter) Key() string {
	if !f.IsSet() {
		return "any"
	}
	return fmt.Sprintf("%02d:%02d", int(f)/60, int(f)%60)
}
