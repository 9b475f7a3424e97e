package parser

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"
	"bikeflow/pkg/types"

	"github.com/clbanning/mxj/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// stationPaths are the places a station list is looked for, in order.
// "data.stations" is the GBFS station_information layout.
var stationPaths = []string{
	"data.stations",
	"stations",
	"stations.station",
	"data.stations.station",
}

type StationParser struct {
	tracer trace.Tracer
}

func NewStationParser() *StationParser {
	return &StationParser{
		tracer: otel.Tracer("station-parser"),
	}
}

// ParseStations decodes a JSON or XML station document. Records without a
// short name or with unusable coordinates are skipped; for duplicate short
// names the first record wins.
func (p *StationParser) ParseStations(ctx context.Context, data []byte) ([]types.Station, error) {
	ctx, span := p.tracer.Start(ctx, "station_parser.parse_stations",
		trace.WithAttributes(attribute.Int("payload_size_bytes", len(data))),
	)
	defer span.End()

	start := time.Now()

	doc, format, err := decodeDocument(data)
	if err != nil {
		err = bfotel.RecordError(span, err, bfotel.ErrorTypeParse, false)
		metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", "parse"),
			attribute.String("dataset", "stations"),
		))
		return nil, fmt.Errorf("failed to parse station document: %w", err)
	}
	span.SetAttributes(attribute.String("document.format", format))

	records, path := findStationRecords(doc)
	if path == "" {
		err := fmt.Errorf("no station list found (looked for %s)", strings.Join(stationPaths, ", "))
		return nil, bfotel.RecordError(span, err, bfotel.ErrorTypeParse, false)
	}

	stations := make([]types.Station, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	skipped := 0

	for _, record := range records {
		fields, ok := record.(map[string]interface{})
		if !ok {
			skipped++
			continue
		}

		station, ok := parseStation(fields)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[station.ShortName]; dup {
			skipped++
			continue
		}
		seen[station.ShortName] = struct{}{}
		stations = append(stations, station)
	}

	metrics.ParseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("dataset", "stations")))
	metrics.StationsParsed.Add(ctx, int64(len(stations)))
	metrics.StationsSkipped.Add(ctx, int64(skipped))

	span.SetAttributes(
		attribute.String("document.path", path),
		attribute.Int("stations_count", len(stations)),
		attribute.Int("stations_skipped", skipped),
	)

	return stations, nil
}

// decodeDocument turns JSON or XML into a generic map. A top-level JSON
// array is treated as the station list itself.
func decodeDocument(data []byte) (mxj.Map, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("empty document")
	}

	switch trimmed[0] {
	case '<':
		m, err := mxj.NewMapXml(trimmed)
		return m, "xml", err
	case '[':
		wrapped := make([]byte, 0, len(trimmed)+16)
		wrapped = append(wrapped, `{"stations":`...)
		wrapped = append(wrapped, trimmed...)
		wrapped = append(wrapped, '}')
		m, err := mxj.NewMapJson(wrapped)
		return m, "json", err
	default:
		m, err := mxj.NewMapJson(trimmed)
		return m, "json", err
	}
}

func findStationRecords(doc mxj.Map) ([]interface{}, string) {
	for _, path := range stationPaths {
		values, err := doc.ValuesForPath(path)
		if err != nil || len(values) == 0 {
			continue
		}
		first, ok := values[0].(map[string]interface{})
		if !ok {
			continue
		}
		// a path that lands on a wrapper element is not the list itself
		if len(values) == 1 && isWrapper(first) {
			continue
		}
		return values, path
	}
	return nil, ""
}

// isWrapper reports whether m only wraps a nested "station" element,
// as <stations><station>...</station></stations> decodes to.
func isWrapper(m map[string]interface{}) bool {
	_, hasStation := m["station"]
	_, hasShortName := m["short_name"]
	return hasStation && !hasShortName
}

func parseStation(fields map[string]interface{}) (types.Station, bool) {
	shortName := stringValue(fields["short_name"])
	if shortName == "" {
		return types.Station{}, false
	}

	lon, okLon := floatValue(fields["lon"])
	lat, okLat := floatValue(fields["lat"])
	if !okLon || !okLat {
		return types.Station{}, false
	}

	station := types.Station{
		ShortName: shortName,
		Name:      formatStationName(stringValue(fields["name"])),
		Lon:       lon,
		Lat:       lat,
	}
	if capacity, ok := floatValue(fields["capacity"]); ok {
		station.Capacity = int(capacity)
	}
	return station, true
}

// stringValue renders scalars as text; integral numbers lose their ".0"
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func floatValue(v interface{}) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// formatStationName collapses runs of whitespace
func formatStationName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
