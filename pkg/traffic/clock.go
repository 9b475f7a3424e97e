package traffic

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bikeflow/pkg/types"
)

// MinutesSinceMidnight returns hours*60 + minutes of t in t's own location.
// Seconds and the calendar date are discarded.
func MinutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// FormatTime renders minutes since midnight as a short 12-hour label,
// e.g. 510 -> "8:30 AM".
//
// minutes must be in [0, 1440); FormatTime panics otherwise rather than
// wrapping around the day.
func FormatTime(minutes int) string {
	if minutes < 0 || minutes >= types.MinutesPerDay {
		panic(fmt.Sprintf("traffic: FormatTime minutes out of range [0, %d): %d", types.MinutesPerDay, minutes))
	}
	return time.Date(2000, time.January, 1, 0, minutes, 0, 0, time.UTC).Format("3:04 PM")
}

// Label returns the display text for a filter: "any time" when unset.
func Label(f types.TimeFilter) string {
	if !f.IsSet() {
		return "any time"
	}
	return FormatTime(int(f))
}

// ParseTimeFilter parses a user supplied filter.
// Accepted forms:
//   - "" or "-1": no filter
//   - "510": minutes since midnight
//   - "08:30": 24-hour clock
func ParseTimeFilter(s string) (types.TimeFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.NoFilter, nil
	}

	if hh, mm, ok := strings.Cut(s, ":"); ok {
		h, errH := strconv.Atoi(hh)
		m, errM := strconv.Atoi(mm)
		if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 || len(mm) != 2 {
			return types.NoFilter, fmt.Errorf("invalid time of day %q: want HH:MM", s)
		}
		return types.TimeFilter(h*60 + m), nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return types.NoFilter, fmt.Errorf("invalid time filter %q: %w", s, err)
	}

	f := types.TimeFilter(n)
	if !f.Valid() {
		return types.NoFilter, fmt.Errorf("time filter %d out of range: want -1 or 0..%d", n, types.MinutesPerDay-1)
	}
	return f, nil
}
