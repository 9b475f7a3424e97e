package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// Dataset fetch metrics
var (
	// DatasetFetchDuration measures how long fetching one dataset takes
	DatasetFetchDuration metric.Float64Histogram

	// DatasetFetchSize measures the size of fetched dataset bodies
	DatasetFetchSize metric.Int64Histogram
)

// Parser metrics
var (
	ParseDuration   metric.Float64Histogram
	StationsParsed  metric.Int64Counter
	StationsSkipped metric.Int64Counter
	TripsParsed     metric.Int64Counter
)

// Traffic metrics
var (
	// SnapshotsTotal counts computed snapshots, by whether a filter was set
	SnapshotsTotal metric.Int64Counter

	// SnapshotDuration measures filter + aggregation + scaling time
	SnapshotDuration metric.Float64Histogram

	// SnapshotTrips measures how many trips passed the filter per snapshot
	SnapshotTrips metric.Int64Histogram

	// UnmatchedTripEnds counts trip ends whose station id is unknown
	UnmatchedTripEnds metric.Int64Counter
)

// Loki metrics
var (
	LokiBatchSize    metric.Int64Histogram
	LokiSendDuration metric.Float64Histogram
	LokiSendTotal    metric.Int64Counter
)

// Server metrics
var (
	// SnapshotCacheRequests counts snapshot lookups by cache result
	SnapshotCacheRequests metric.Int64Counter
)

// ErrorsTotal counts errors by stage and type
var ErrorsTotal metric.Int64Counter

var sizeBuckets = []float64{1024, 10240, 102400, 1048576, 10485760, 104857600}

// initializeInstruments creates all metric instruments on Meter
func initializeInstruments() error {
	var err error

	if DatasetFetchDuration, err = Meter.Float64Histogram(
		"dataset.fetch.duration",
		metric.WithDescription("Duration of dataset fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	); err != nil {
		return err
	}

	if DatasetFetchSize, err = Meter.Int64Histogram(
		"dataset.fetch.size",
		metric.WithDescription("Size of fetched dataset bodies"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return err
	}

	if ParseDuration, err = Meter.Float64Histogram(
		"parser.duration",
		metric.WithDescription("Duration of dataset parsing"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0),
	); err != nil {
		return err
	}

	if StationsParsed, err = Meter.Int64Counter(
		"parser.stations.parsed",
		metric.WithDescription("Stations successfully parsed"),
		metric.WithUnit("{station}"),
	); err != nil {
		return err
	}

	if StationsSkipped, err = Meter.Int64Counter(
		"parser.stations.skipped",
		metric.WithDescription("Station records skipped as unusable or duplicate"),
		metric.WithUnit("{station}"),
	); err != nil {
		return err
	}

	if TripsParsed, err = Meter.Int64Counter(
		"parser.trips.parsed",
		metric.WithDescription("Trips successfully parsed"),
		metric.WithUnit("{trip}"),
	); err != nil {
		return err
	}

	if SnapshotsTotal, err = Meter.Int64Counter(
		"traffic.snapshots.total",
		metric.WithDescription("Traffic snapshots computed"),
		metric.WithUnit("{snapshot}"),
	); err != nil {
		return err
	}

	if SnapshotDuration, err = Meter.Float64Histogram(
		"traffic.snapshot.duration",
		metric.WithDescription("Duration of filter, aggregation and scaling"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0),
	); err != nil {
		return err
	}

	if SnapshotTrips, err = Meter.Int64Histogram(
		"traffic.snapshot.trips",
		metric.WithDescription("Trips passing the time filter per snapshot"),
		metric.WithUnit("{trip}"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 50000, 100000, 500000),
	); err != nil {
		return err
	}

	if UnmatchedTripEnds, err = Meter.Int64Counter(
		"traffic.unmatched_trip_ends",
		metric.WithDescription("Trip ends referencing an unknown station"),
		metric.WithUnit("{trip}"),
	); err != nil {
		return err
	}

	if LokiBatchSize, err = Meter.Int64Histogram(
		"loki.batch.size",
		metric.WithDescription("Number of station records per push"),
		metric.WithUnit("{record}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 250, 500, 1000),
	); err != nil {
		return err
	}

	if LokiSendDuration, err = Meter.Float64Histogram(
		"loki.send.duration",
		metric.WithDescription("Duration of Loki push operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return err
	}

	if LokiSendTotal, err = Meter.Int64Counter(
		"loki.send.total",
		metric.WithDescription("Total Loki sends by status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if SnapshotCacheRequests, err = Meter.Int64Counter(
		"server.snapshot_cache.requests",
		metric.WithDescription("Snapshot cache lookups by result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if ErrorsTotal, err = Meter.Int64Counter(
		"bikeflow.errors.total",
		metric.WithDescription("Total errors by stage and type"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}

	return nil
}
