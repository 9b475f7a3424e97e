package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"
	"bikeflow/pkg/parser"
	"bikeflow/pkg/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Stream labels
const (
	LabelJob     = "bikeflow"
	LabelService = "station-traffic"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	markers    *parser.MarkerGenerator
	tracer     trace.Tracer
}

type PushRequest struct {
	Streams []Stream `json:"streams"`
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// StationLine is the JSON log line pushed for one station
type StationLine struct {
	GeneratedAt    string  `json:"generated_at"`
	TimeFilter     string  `json:"time_filter"`
	Label          string  `json:"label"`
	ShortName      string  `json:"short_name"`
	Name           string  `json:"name,omitempty"`
	Longitude      float64 `json:"longitude"`
	Latitude       float64 `json:"latitude"`
	Departures     int     `json:"departures"`
	Arrivals       int     `json:"arrivals"`
	TotalTraffic   int     `json:"total_traffic"`
	DepartureRatio float64 `json:"departure_ratio"`
	Flow           float64 `json:"flow"`
	Radius         float64 `json:"radius"`
	Marker         string  `json:"marker"`
}

func NewClient(baseURL, username, password string) *Client {
	// Create HTTP client with OpenTelemetry instrumentation
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		markers:    parser.NewMarkerGenerator(),
		tracer:     otel.Tracer("loki-client"),
	}
}

// StreamLabels returns the label set of the stream a snapshot is pushed to
func StreamLabels(snapshot *types.Snapshot) map[string]string {
	return map[string]string{
		"job":         LabelJob,
		"service":     LabelService,
		"time_filter": snapshot.Filter.Key(),
	}
}

// BuildLines renders one log line per station of the snapshot, in
// snapshot order
func BuildLines(snapshot *types.Snapshot, markers *parser.MarkerGenerator) []StationLine {
	generatedAt := snapshot.GeneratedAt.UTC().Format(time.RFC3339)
	key := snapshot.Filter.Key()

	lines := make([]StationLine, 0, len(snapshot.Stations))
	for _, v := range snapshot.Stations {
		lines = append(lines, StationLine{
			GeneratedAt:    generatedAt,
			TimeFilter:     key,
			Label:          snapshot.Label,
			ShortName:      v.ShortName,
			Name:           v.Name,
			Longitude:      v.Lon,
			Latitude:       v.Lat,
			Departures:     v.Departures,
			Arrivals:       v.Arrivals,
			TotalTraffic:   v.TotalTraffic,
			DepartureRatio: v.DepartureRatio,
			Flow:           v.Flow,
			Radius:         v.Radius,
			Marker:         markers.GenerateStationMarker(v),
		})
	}
	return lines
}

// SendSnapshot pushes the snapshot as a single stream with one line per station
func (c *Client) SendSnapshot(ctx context.Context, snapshot *types.Snapshot) error {
	ctx, span := c.tracer.Start(ctx, "loki.send_snapshot",
		trace.WithAttributes(
			attribute.String("time_filter", snapshot.Filter.Key()),
			attribute.Int("stations_count", len(snapshot.Stations)),
		),
	)
	defer span.End()

	start := time.Now()
	recordResult := func(status string) {
		metrics.LokiSendTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		metrics.LokiSendDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("status", status)))
	}

	// Loki wants distinct timestamps to keep every line of a push
	base := time.Now().UnixNano()
	logValues := make([][]string, 0, len(snapshot.Stations))
	for i, line := range BuildLines(snapshot, c.markers) {
		lineJSON, err := json.Marshal(line)
		if err != nil {
			bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
			recordResult("error")
			return fmt.Errorf("failed to marshal station line: %w", err)
		}
		logValues = append(logValues, []string{
			strconv.FormatInt(base+int64(i), 10),
			string(lineJSON),
		})
	}

	lokiReq := PushRequest{
		Streams: []Stream{
			{
				Stream: StreamLabels(snapshot),
				Values: logValues,
			},
		},
	}

	reqBody, err := json.Marshal(lokiReq)
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		recordResult("error")
		return fmt.Errorf("failed to marshal Loki request: %w", err)
	}

	url := fmt.Sprintf("%s/loki/api/v1/push", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		recordResult("error")
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bikeflow/1.0.0")

	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
		span.SetAttributes(
			attribute.Bool("auth.enabled", true),
			attribute.String("auth.username", c.username),
		)
	} else {
		span.SetAttributes(attribute.Bool("auth.enabled", false))
	}

	span.SetAttributes(
		attribute.String("http.url", url),
		attribute.String("http.method", http.MethodPost),
		attribute.Int("request.size_bytes", len(reqBody)),
		attribute.Int("log_lines_count", len(logValues)),
	)
	metrics.LokiBatchSize.Record(ctx, int64(len(logValues)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeNetwork, true)
		recordResult("error")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("Loki returned status %d", resp.StatusCode)
		bfotel.RecordError(span, err, bfotel.ErrorTypeHTTP, resp.StatusCode >= 500)
		recordResult("error")
		return err
	}

	recordResult("success")
	bfotel.SetSpanOk(span)
	return nil
}
