package pipeline

import (
	"context"
	"fmt"
	"time"

	"bikeflow/pkg/metrics"
	"bikeflow/pkg/traffic"
	"bikeflow/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the loaded dataset pair. It is never modified after NewState,
// so one State can serve concurrent Snapshot calls.
type State struct {
	Stations []types.Station
	Trips    []types.Trip
	// MaxTraffic is the busiest station's total over all trips. It fixes
	// the radius scale domain for every filter.
	MaxTraffic int
	LoadedAt   time.Time
}

// NewState aggregates the unfiltered trips once to fix MaxTraffic
func NewState(stations []types.Station, trips []types.Trip) *State {
	return &State{
		Stations:   stations,
		Trips:      trips,
		MaxTraffic: traffic.MaxTraffic(traffic.ComputeTraffic(stations, trips)),
		LoadedAt:   time.Now(),
	}
}

// Snapshot computes the traffic picture for f
func (s *State) Snapshot(ctx context.Context, f types.TimeFilter) (*types.Snapshot, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("time filter %d out of range", f)
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.snapshot",
		trace.WithAttributes(attribute.String("time_filter", f.Key())),
	)
	defer span.End()

	start := time.Now()

	trips := traffic.FilterTrips(s.Trips, f)
	counted := traffic.ComputeTraffic(s.Stations, trips)
	views := traffic.View(counted, traffic.NewRadiusScale(s.MaxTraffic, f))

	recordUnmatched(ctx, s.Stations, trips)

	filtered := attribute.Bool("filtered", f.IsSet())
	metrics.SnapshotsTotal.Add(ctx, 1, metric.WithAttributes(filtered))
	metrics.SnapshotDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(filtered))
	metrics.SnapshotTrips.Record(ctx, int64(len(trips)), metric.WithAttributes(filtered))

	span.SetAttributes(
		attribute.Int("trips_count", len(trips)),
		attribute.Int("stations_count", len(views)),
	)

	return &types.Snapshot{
		Filter:      f,
		Label:       traffic.Label(f),
		TripCount:   len(trips),
		Stations:    views,
		GeneratedAt: time.Now(),
	}, nil
}

// FindStation looks a station up in a computed snapshot
func FindStation(snapshot *types.Snapshot, shortName string) (types.StationView, bool) {
	for _, v := range snapshot.Stations {
		if v.ShortName == shortName {
			return v, true
		}
	}
	return types.StationView{}, false
}
