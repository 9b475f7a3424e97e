// Package traffic turns a trip set into per-station traffic for one time of day.
package traffic

import "bikeflow/pkg/types"

// Window is the tolerance, in minutes, around the selected time of day
const Window = 60

// FilterTrips keeps the trips that start or end within Window minutes of f.
// With types.NoFilter the input is returned unchanged.
//
// Distances are taken on the linear 0..1439 scale: a filter at 00:00 does
// not match a trip at 23:30.
func FilterTrips(trips []types.Trip, f types.TimeFilter) []types.Trip {
	if !f.IsSet() {
		return trips
	}

	selected := int(f)
	filtered := make([]types.Trip, 0, len(trips))
	for _, trip := range trips {
		if withinWindow(MinutesSinceMidnight(trip.StartedAt), selected) ||
			withinWindow(MinutesSinceMidnight(trip.EndedAt), selected) {
			filtered = append(filtered, trip)
		}
	}
	return filtered
}

func withinWindow(minutes, selected int) bool {
	d := minutes - selected
	if d < 0 {
		d = -d
	}
	return d <= Window
}
