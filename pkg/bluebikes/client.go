// Package bluebikes fetches the station and trip datasets of a bike-share system.
package bluebikes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bikeflow/pkg/metrics"
	bfotel "bikeflow/pkg/otel"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultStationsURL = "https://dsc106.com/labs/lab07/data/bluebikes-stations.json"
	DefaultTripsURL    = "https://dsc106.com/labs/lab07/data/bluebikes-traffic-2024-03.csv"

	userAgent = "bikeflow/1.0.0"
)

// Dataset names used in spans, metrics and errors
const (
	DatasetStations = "stations"
	DatasetTrips    = "trips"
)

type Client struct {
	httpClient  *http.Client
	stationsURL string
	tripsURL    string
	tracer      trace.Tracer
}

// Payload is one fetched dataset
type Payload struct {
	Dataset     string
	Source      string
	ContentType string
	Data        []byte
	FetchedAt   time.Time
}

// NewClient creates a client for the two dataset locations. Each may be an
// http(s) URL, a file:// URL or a local path.
func NewClient(stationsURL, tripsURL string) *Client {
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   60 * time.Second,
	}

	return &Client{
		httpClient:  client,
		stationsURL: stationsURL,
		tripsURL:    tripsURL,
		tracer:      otel.Tracer("bluebikes-client"),
	}
}

// FetchStations fetches the station document
func (c *Client) FetchStations(ctx context.Context) (*Payload, error) {
	return c.fetch(ctx, DatasetStations, c.stationsURL)
}

// FetchTrips fetches the trip table
func (c *Client) FetchTrips(ctx context.Context) (*Payload, error) {
	return c.fetch(ctx, DatasetTrips, c.tripsURL)
}

func (c *Client) fetch(ctx context.Context, dataset, source string) (*Payload, error) {
	ctx, span := c.tracer.Start(ctx, "bluebikes.fetch_"+dataset,
		trace.WithAttributes(
			attribute.String("dataset", dataset),
			attribute.String("dataset.source", source),
		),
	)
	defer span.End()

	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("dataset", dataset))

	var (
		payload *Payload
		err     error
	)
	if isRemote(source) {
		payload, err = c.fetchHTTP(ctx, span, source)
	} else {
		payload, err = readLocal(span, source)
	}
	if err != nil {
		metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", "fetch"),
			attribute.String("dataset", dataset),
		))
		return nil, fmt.Errorf("failed to fetch %s from %s: %w", dataset, source, err)
	}

	payload.Dataset = dataset
	payload.Source = source
	payload.FetchedAt = time.Now()

	metrics.DatasetFetchDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	metrics.DatasetFetchSize.Record(ctx, int64(len(payload.Data)), attrs)

	span.SetAttributes(attribute.Int("response.size_bytes", len(payload.Data)))
	bfotel.SetSpanOk(span)

	return payload, nil
}

func (c *Client) fetchHTTP(ctx context.Context, span trace.Span, source string) (*Payload, error) {
	span.SetAttributes(
		attribute.String("http.url", source),
		attribute.String("http.method", http.MethodGet),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		bfotel.RecordError(span, err, bfotel.ErrorTypeValidation, false)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, bfotel.RecordError(span, fmt.Errorf("failed to make request: %w", err), bfotel.ErrorTypeNetwork, true)
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.String("http.response.content_type", resp.Header.Get("Content-Type")),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, bfotel.RecordError(span, err, bfotel.ErrorTypeHTTP, resp.StatusCode >= 500)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bfotel.RecordError(span, fmt.Errorf("failed to read response body: %w", err), bfotel.ErrorTypeNetwork, true)
	}

	return &Payload{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        body,
	}, nil
}

func readLocal(span trace.Span, source string) (*Payload, error) {
	path := source
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	span.SetAttributes(attribute.String("file.path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bfotel.RecordError(span, err, bfotel.ErrorTypeIO, false)
	}
	return &Payload{Data: data}, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
