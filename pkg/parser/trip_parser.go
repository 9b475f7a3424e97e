package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"
	"bikeflow/pkg/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Required trip columns
const (
	ColumnStartedAt      = "started_at"
	ColumnEndedAt        = "ended_at"
	ColumnStartStationID = "start_station_id"
	ColumnEndStationID   = "end_station_id"
)

// Optional trip columns carried through when present
const (
	columnRideID       = "ride_id"
	columnRideableType = "rideable_type"
	columnMemberCasual = "member_casual"
)

// timestampLayouts are tried in order. The first two have no zone and are
// read in the parser's location; the rest carry an offset and are converted
// to it, so every trip is bucketed on one wall clock.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// ErrMissingColumn is returned when the header lacks a required column
var ErrMissingColumn = errors.New("missing required column")

type TripParser struct {
	tracer   trace.Tracer
	location *time.Location
}

// NewTripParser creates a parser that reads zone-less timestamps in loc
// and converts offset timestamps to loc. A nil loc means UTC.
func NewTripParser(loc *time.Location) *TripParser {
	if loc == nil {
		loc = time.UTC
	}
	return &TripParser{
		tracer:   otel.Tracer("trip-parser"),
		location: loc,
	}
}

// ParseTrips reads a CSV trip table with a header row. Columns are located
// by name. A malformed row or timestamp fails the whole parse.
func (p *TripParser) ParseTrips(ctx context.Context, data []byte) ([]types.Trip, error) {
	ctx, span := p.tracer.Start(ctx, "trip_parser.parse_trips",
		trace.WithAttributes(attribute.Int("payload_size_bytes", len(data))),
	)
	defer span.End()

	start := time.Now()

	trips, err := p.readTrips(bytes.NewReader(data))
	if err != nil {
		err = bfotel.RecordError(span, err, bfotel.ErrorTypeParse, false)
		metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", "parse"),
			attribute.String("dataset", "trips"),
		))
		return nil, fmt.Errorf("failed to parse trips: %w", err)
	}

	metrics.ParseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("dataset", "trips")))
	metrics.TripsParsed.Add(ctx, int64(len(trips)))

	span.SetAttributes(attribute.Int("trips_count", len(trips)))

	return trips, nil
}

func (p *TripParser) readTrips(r io.Reader) ([]types.Trip, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty trip table")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	var trips []types.Trip
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}

		trip, err := p.parseRecord(record, cols)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		trips = append(trips, trip)
	}

	return trips, nil
}

type columnIndex map[string]int

func indexColumns(header []string) (columnIndex, error) {
	cols := make(columnIndex, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var missing []string
	for _, required := range []string{ColumnStartedAt, ColumnEndedAt, ColumnStartStationID, ColumnEndStationID} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return cols, nil
}

// get returns the trimmed field for column name, or "" when absent
func (c columnIndex) get(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (p *TripParser) parseRecord(record []string, cols columnIndex) (types.Trip, error) {
	startedAt, err := p.parseTimestamp(cols.get(record, ColumnStartedAt))
	if err != nil {
		return types.Trip{}, fmt.Errorf("%s: %w", ColumnStartedAt, err)
	}
	endedAt, err := p.parseTimestamp(cols.get(record, ColumnEndedAt))
	if err != nil {
		return types.Trip{}, fmt.Errorf("%s: %w", ColumnEndedAt, err)
	}

	return types.Trip{
		RideID:         cols.get(record, columnRideID),
		RideableType:   cols.get(record, columnRideableType),
		StartStationID: cols.get(record, ColumnStartStationID),
		EndStationID:   cols.get(record, ColumnEndStationID),
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		MemberCasual:   cols.get(record, columnMemberCasual),
	}, nil
}

func (p *TripParser) parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, p.location); err == nil {
			return t.In(p.location), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
