package types

import "time"

// Station is a dock location. ShortName is the join key trips refer to.
type Station struct {
	ShortName string  `json:"short_name"`
	Name      string  `json:"name,omitempty"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Capacity  int     `json:"capacity,omitempty"`
}

// Trip is one completed ride. StartedAt <= EndedAt is assumed, not checked.
type Trip struct {
	RideID         string    `json:"ride_id,omitempty"`
	RideableType   string    `json:"rideable_type,omitempty"`
	StartStationID string    `json:"start_station_id"`
	EndStationID   string    `json:"end_station_id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	MemberCasual   string    `json:"member_casual,omitempty"`
}

// StationTraffic is a station annotated with the traffic of one trip set.
// It is built fresh on every aggregation.
type StationTraffic struct {
	Station
	Departures   int `json:"departures"`
	Arrivals     int `json:"arrivals"`
	TotalTraffic int `json:"total_traffic"`
}

// StationView adds the presentation values the map needs
type StationView struct {
	StationTraffic
	DepartureRatio float64 `json:"departure_ratio"` // Departures / TotalTraffic, 0.5 when idle
	Flow           float64 `json:"flow"`            // Quantized ratio: 0, 0.5 or 1
	Radius         float64 `json:"radius"`          // Marker radius in pixels
}

// Snapshot is the traffic picture for one time filter
type Snapshot struct {
	Filter      TimeFilter    `json:"filter"`
	Label       string        `json:"label"`
	TripCount   int           `json:"trip_count"`
	Stations    []StationView `json:"stations"`
	GeneratedAt time.Time     `json:"generated_at"`
}
