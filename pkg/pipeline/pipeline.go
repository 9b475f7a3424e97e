package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"bikeflow/pkg/bluebikes"
	"bikeflow/pkg/loki"
	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"
	"bikeflow/pkg/parser"
	"bikeflow/pkg/traffic"
	"bikeflow/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Pipeline struct {
	config        Config
	client        *bluebikes.Client
	lokiClient    *loki.Client
	stationParser *parser.StationParser
	tripParser    *parser.TripParser
	markers       *parser.MarkerGenerator
	out           io.Writer
	tracer        trace.Tracer
}

type Config struct {
	DryRun       bool
	Serve        bool
	StationsURL  string
	TripsURL     string
	LokiURL      string
	LokiUser     string
	LokiPassword string
	TimeFilter   types.TimeFilter
	// SweepStep > 0 emits the unfiltered snapshot and then one snapshot
	// every SweepStep minutes of the day
	SweepStep int
	// Location is used for trip timestamps without a zone; nil means UTC
	Location *time.Location
	// Output receives dry run output; nil means stdout
	Output io.Writer
}

func New(config Config) (*Pipeline, error) {
	if config.StationsURL == "" {
		return nil, fmt.Errorf("stations source is required")
	}

	if config.TripsURL == "" {
		return nil, fmt.Errorf("trips source is required")
	}

	if !config.TimeFilter.Valid() {
		return nil, fmt.Errorf("time filter %d out of range", config.TimeFilter)
	}

	if config.SweepStep < 0 || config.SweepStep >= types.MinutesPerDay {
		return nil, fmt.Errorf("sweep step must be in [0, %d) minutes", types.MinutesPerDay)
	}

	if !config.DryRun && !config.Serve && config.LokiURL == "" {
		return nil, fmt.Errorf("Loki URL is required unless running dry or serving")
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	pipeline := &Pipeline{
		config:        config,
		client:        bluebikes.NewClient(config.StationsURL, config.TripsURL),
		stationParser: parser.NewStationParser(),
		tripParser:    parser.NewTripParser(config.Location),
		markers:       parser.NewMarkerGenerator(),
		out:           out,
		tracer:        otel.Tracer("pipeline"),
	}

	// Only create Loki client when snapshots are pushed
	if !config.DryRun && config.LokiURL != "" {
		pipeline.lokiClient = loki.NewClient(config.LokiURL, config.LokiUser, config.LokiPassword)
	}

	return pipeline, nil
}

// Load fetches and parses both datasets concurrently and waits for both.
// Either failure fails the load; there are no retries.
func (p *Pipeline) Load(ctx context.Context) (*State, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.load",
		trace.WithAttributes(
			attribute.String("stations.source", p.config.StationsURL),
			attribute.String("trips.source", p.config.TripsURL),
		),
	)
	defer span.End()

	start := time.Now()

	type loadResult struct {
		dataset  string
		stations []types.Station
		trips    []types.Trip
		err      error
	}

	results := make(chan loadResult, 2)

	go func() {
		stations, err := p.loadStations(ctx)
		results <- loadResult{dataset: bluebikes.DatasetStations, stations: stations, err: err}
	}()

	go func() {
		trips, err := p.loadTrips(ctx)
		results <- loadResult{dataset: bluebikes.DatasetTrips, trips: trips, err: err}
	}()

	var stations []types.Station
	var trips []types.Trip
	var errs []error

	for i := 0; i < 2; i++ {
		result := <-results
		if result.err != nil {
			slog.Error("Dataset load failed", "dataset", result.dataset, "error", result.err)
			errs = append(errs, result.err)
			continue
		}
		switch result.dataset {
		case bluebikes.DatasetStations:
			stations = result.stations
		case bluebikes.DatasetTrips:
			trips = result.trips
		}
	}

	if len(errs) > 0 {
		err := fmt.Errorf("failed to load datasets: %w", errors.Join(errs...))
		errorType, transient := bfotel.Classification(err)
		metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", "load"),
			attribute.String("type", errorType),
			attribute.Bool("transient", transient),
		))
		return nil, bfotel.RecordError(span, err, errorType, transient)
	}

	state := NewState(stations, trips)
	metrics.RecordLastLoadTimestamp()

	span.SetAttributes(
		attribute.Int("stations_count", len(stations)),
		attribute.Int("trips_count", len(trips)),
		attribute.Int("max_traffic", state.MaxTraffic),
	)
	bfotel.SetSpanOk(span)

	slog.Info("Datasets loaded",
		"stations", len(stations),
		"trips", len(trips),
		"max_traffic", state.MaxTraffic,
		"duration", time.Since(start),
	)

	return state, nil
}

func (p *Pipeline) loadStations(ctx context.Context) ([]types.Station, error) {
	payload, err := p.client.FetchStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stations: %w", err)
	}
	return p.stationParser.ParseStations(ctx, payload.Data)
}

func (p *Pipeline) loadTrips(ctx context.Context) ([]types.Trip, error) {
	payload, err := p.client.FetchTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trips: %w", err)
	}
	return p.tripParser.ParseTrips(ctx, payload.Data)
}

// Filters returns the time filters Run emits, in order
func (p *Pipeline) Filters() []types.TimeFilter {
	if p.config.SweepStep <= 0 {
		return []types.TimeFilter{p.config.TimeFilter}
	}

	filters := []types.TimeFilter{types.NoFilter}
	for m := 0; m < types.MinutesPerDay; m += p.config.SweepStep {
		filters = append(filters, types.TimeFilter(m))
	}
	return filters
}

// Run loads the datasets once and emits a snapshot for every filter. A
// failed emit is logged and skipped; Run fails if every emit failed.
func (p *Pipeline) Run(ctx context.Context) error {
	state, err := p.Load(ctx)
	if err != nil {
		return err
	}
	return p.Emit(ctx, state)
}

// Emit computes and outputs the snapshots for Filters against state
func (p *Pipeline) Emit(ctx context.Context, state *State) error {
	filters := p.Filters()

	ctx, span := p.tracer.Start(ctx, "pipeline.emit",
		trace.WithAttributes(
			attribute.Bool("dry_run", p.config.DryRun),
			attribute.Int("snapshots_count", len(filters)),
		),
	)
	defer span.End()

	slog.Info("Emitting snapshots", "count", len(filters), "dry_run", p.config.DryRun)

	failed := 0
	for _, f := range filters {
		if err := ctx.Err(); err != nil {
			slog.Info("Pipeline stopped")
			return err
		}

		snapshot, err := state.Snapshot(ctx, f)
		if err == nil {
			if p.config.DryRun {
				err = p.handleDryRun(ctx, snapshot)
			} else {
				err = p.sendToLoki(ctx, snapshot)
			}
		}
		if err != nil {
			failed++
			slog.Error("Error emitting snapshot", "time_filter", f.Key(), "error", err)
		}
	}

	span.SetAttributes(attribute.Int("failed_snapshots", failed))

	if failed == len(filters) {
		err := fmt.Errorf("all %d snapshots failed", failed)
		bfotel.RecordError(span, err, bfotel.ErrorTypeNetwork, true)
		return err
	}

	return nil
}

func (p *Pipeline) handleDryRun(ctx context.Context, snapshot *types.Snapshot) error {
	_, span := p.tracer.Start(ctx, "pipeline.dry_run")
	defer span.End()

	fmt.Fprintf(p.out, "\n=== DRY RUN - Station Traffic at %s ===\n", snapshot.Label)
	fmt.Fprintf(p.out, "Generated: %s\n", snapshot.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(p.out, "Trips: %d\n", snapshot.TripCount)
	fmt.Fprintf(p.out, "Stations: %d\n", len(snapshot.Stations))

	fmt.Fprintln(p.out, "\nIndividual Log Lines (as sent to Loki):")
	fmt.Fprintln(p.out, "----------------------------------------")

	for i, line := range loki.BuildLines(snapshot, p.markers) {
		lineJSON, err := json.Marshal(line)
		if err != nil {
			bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
			return fmt.Errorf("failed to marshal station JSON for dry run: %w", err)
		}
		fmt.Fprintf(p.out, "Log Line %d: %s\n", i+1, lineJSON)
	}

	fmt.Fprintln(p.out, "=== END DRY RUN ===")

	span.SetAttributes(attribute.Int("stations_printed", len(snapshot.Stations)))

	return nil
}

func (p *Pipeline) sendToLoki(ctx context.Context, snapshot *types.Snapshot) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.send_to_loki")
	defer span.End()

	if p.lokiClient == nil {
		err := fmt.Errorf("loki client not initialized")
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		return err
	}

	if err := p.lokiClient.SendSnapshot(ctx, snapshot); err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeNetwork, true)
		return fmt.Errorf("failed to send snapshot to Loki: %w", err)
	}

	slog.Info("Sent snapshot to Loki",
		"time_filter", snapshot.Filter.Key(),
		"stations", len(snapshot.Stations),
		"trips", snapshot.TripCount,
	)

	span.SetAttributes(attribute.Int("stations_sent", len(snapshot.Stations)))

	return nil
}

// recordUnmatched logs and counts trip ends that reference unknown stations.
// The scan is skipped when neither metrics nor debug logs would see it.
func recordUnmatched(ctx context.Context, stations []types.Station, trips []types.Trip) bool {
	if !metrics.IsEnabled() && !slog.Default().Enabled(ctx, slog.LevelDebug) {
		return false
	}
	departures, arrivals := traffic.CountUnmatched(stations, trips)
	if departures == 0 && arrivals == 0 {
		return true
	}
	metrics.UnmatchedTripEnds.Add(ctx, int64(departures), metric.WithAttributes(attribute.String("end", "start")))
	metrics.UnmatchedTripEnds.Add(ctx, int64(arrivals), metric.WithAttributes(attribute.String("end", "end")))
	slog.Debug("Trip ends without a known station",
		"departures", departures,
		"arrivals", arrivals,
	)
	return true
}
