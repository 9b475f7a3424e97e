package traffic

import "bikeflow/pkg/types"

// ComputeTraffic counts departures and arrivals per station for the given
// trips. The result is a new slice in station order; stations are copied,
// never modified. Trips whose station ids match no station are ignored.
func ComputeTraffic(stations []types.Station, trips []types.Trip) []types.StationTraffic {
	departures := countBy(trips, func(t types.Trip) string { return t.StartStationID })
	arrivals := countBy(trips, func(t types.Trip) string { return t.EndStationID })

	result := make([]types.StationTraffic, len(stations))
	for i, station := range stations {
		dep := departures[station.ShortName]
		arr := arrivals[station.ShortName]
		result[i] = types.StationTraffic{
			Station:      station,
			Departures:   dep,
			Arrivals:     arr,
			TotalTraffic: dep + arr,
		}
	}
	return result
}

// MaxTraffic returns the largest TotalTraffic, or 0 for an empty slice
func MaxTraffic(traffic []types.StationTraffic) int {
	highest := 0
	for _, st := range traffic {
		if st.TotalTraffic > highest {
			highest = st.TotalTraffic
		}
	}
	return highest
}

// CountUnmatched returns how many trip departures and arrivals reference a
// station id that is not in stations.
func CountUnmatched(stations []types.Station, trips []types.Trip) (departures, arrivals int) {
	known := make(map[string]struct{}, len(stations))
	for _, s := range stations {
		known[s.ShortName] = struct{}{}
	}

	for _, trip := range trips {
		if _, ok := known[trip.StartStationID]; !ok {
			departures++
		}
		if _, ok := known[trip.EndStationID]; !ok {
			arrivals++
		}
	}
	return departures, arrivals
}

func countBy(trips []types.Trip, key func(types.Trip) string) map[string]int {
	counts := make(map[string]int)
	for _, trip := range trips {
		counts[key(trip)]++
	}
	return counts
}
