package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"bikeflow/pkg/parser"
	"bikeflow/pkg/types"
)

func testSnapshot(filter types.TimeFilter, views ...types.StationView) *types.Snapshot {
	return &types.Snapshot{
		Filter:      filter,
		Label:       "8:30 AM",
		TripCount:   12,
		Stations:    views,
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testView(shortName string) types.StationView {
	return types.StationView{
		StationTraffic: types.StationTraffic{
			Station:      types.Station{ShortName: shortName, Name: "Kendall T", Lon: -71.0862, Lat: 42.3625},
			Departures:   7,
			Arrivals:     5,
			TotalTraffic: 12,
		},
		DepartureRatio: 7.0 / 12.0,
		Flow:           0.5,
		Radius:         9.5,
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:3100/", "user", "pass")

	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.baseURL != "http://localhost:3100" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", client.baseURL)
	}
	if client.username != "user" || client.password != "pass" {
		t.Errorf("credentials = %q/%q", client.username, client.password)
	}
	if client.markers == nil {
		t.Error("marker generator should be set")
	}
}

func TestSendSnapshot_MockServer(t *testing.T) {
	var receivedBody []byte
	var receivedHeaders http.Header
	var receivedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedHeaders = r.Header
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")

	if err := client.SendSnapshot(context.Background(), testSnapshot(510, testView("A32000"))); err != nil {
		t.Fatalf("SendSnapshot failed: %v", err)
	}

	if receivedPath != "/loki/api/v1/push" {
		t.Errorf("Expected path /loki/api/v1/push, got %s", receivedPath)
	}
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", receivedHeaders.Get("Content-Type"))
	}
	if receivedHeaders.Get("User-Agent") != "bikeflow/1.0.0" {
		t.Errorf("Expected User-Agent bikeflow/1.0.0, got %s", receivedHeaders.Get("User-Agent"))
	}

	var pushReq PushRequest
	if err := json.Unmarshal(receivedBody, &pushReq); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	if len(pushReq.Streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(pushReq.Streams))
	}

	stream := pushReq.Streams[0]
	expectedLabels := map[string]string{
		"job":         "bikeflow",
		"service":     "station-traffic",
		"time_filter": "08:30",
	}
	for key, expected := range expectedLabels {
		if stream.Stream[key] != expected {
			t.Errorf("Stream label %q = %q, want %q", key, stream.Stream[key], expected)
		}
	}

	if len(stream.Values) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(stream.Values))
	}
	entry := stream.Values[0]
	if len(entry) != 2 {
		t.Fatalf("Expected entry with [timestamp, content], got %d elements", len(entry))
	}
	if _, err := strconv.ParseInt(entry[0], 10, 64); err != nil {
		t.Errorf("timestamp %q is not nanoseconds: %v", entry[0], err)
	}

	var stationLog map[string]interface{}
	if err := json.Unmarshal([]byte(entry[1]), &stationLog); err != nil {
		t.Fatalf("Failed to parse log content JSON: %v", err)
	}

	for _, field := range []string{
		"generated_at", "time_filter", "label", "short_name", "name",
		"longitude", "latitude", "departures", "arrivals", "total_traffic",
		"departure_ratio", "flow", "radius", "marker",
	} {
		if _, exists := stationLog[field]; !exists {
			t.Errorf("Expected field %q in log content, not found", field)
		}
	}

	if stationLog["short_name"] != "A32000" {
		t.Errorf("short_name = %v, want A32000", stationLog["short_name"])
	}
	if stationLog["total_traffic"] != float64(12) {
		t.Errorf("total_traffic = %v, want 12", stationLog["total_traffic"])
	}
	if marker, _ := stationLog["marker"].(string); !strings.HasPrefix(marker, "data:image/svg+xml;base64,") {
		t.Errorf("marker = %q, want SVG data URI", marker)
	}
}

func TestSendSnapshot_UnfilteredLabel(t *testing.T) {
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")
	if err := client.SendSnapshot(context.Background(), testSnapshot(types.NoFilter, testView("A"))); err != nil {
		t.Fatalf("SendSnapshot failed: %v", err)
	}

	var pushReq PushRequest
	if err := json.Unmarshal(receivedBody, &pushReq); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}
	if got := pushReq.Streams[0].Stream["time_filter"]; got != "any" {
		t.Errorf("time_filter label = %q, want any", got)
	}
}

func TestSendSnapshot_WithAuthentication(t *testing.T) {
	var user, pass string
	var ok bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "testuser", "testpass")
	if err := client.SendSnapshot(context.Background(), testSnapshot(510, testView("A"))); err != nil {
		t.Fatalf("SendSnapshot failed: %v", err)
	}

	if !ok || user != "testuser" || pass != "testpass" {
		t.Errorf("basic auth = (%q, %q, %v), want testuser/testpass", user, pass, ok)
	}
}

func TestSendSnapshot_NoAuthenticationWhenEmpty(t *testing.T) {
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")
	if err := client.SendSnapshot(context.Background(), testSnapshot(510, testView("A"))); err != nil {
		t.Fatalf("SendSnapshot failed: %v", err)
	}

	if authHeader != "" {
		t.Errorf("Expected no Authorization header, got %q", authHeader)
	}
}

func TestSendSnapshot_MultipleStations(t *testing.T) {
	var receivedBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")
	snapshot := testSnapshot(510, testView("A"), testView("B"), testView("C"))
	if err := client.SendSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("SendSnapshot failed: %v", err)
	}

	var pushReq PushRequest
	if err := json.Unmarshal(receivedBody, &pushReq); err != nil {
		t.Fatalf("Failed to parse request body: %v", err)
	}

	values := pushReq.Streams[0].Values
	if len(values) != 3 {
		t.Fatalf("Expected 3 log entries, got %d", len(values))
	}

	seen := make(map[string]bool)
	for _, v := range values {
		if seen[v[0]] {
			t.Errorf("duplicate timestamp %s would make Loki drop a line", v[0])
		}
		seen[v[0]] = true
	}
}

func TestSendSnapshot_ErrorOnNon2xx(t *testing.T) {
	tests := []struct {
		statusCode int
		expectErr  bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := NewClient(server.URL, "", "")

			err := client.SendSnapshot(context.Background(), testSnapshot(510, testView("A")))
			if tt.expectErr && err == nil {
				t.Errorf("Expected error for status %d, got nil", tt.statusCode)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error for status %d: %v", tt.statusCode, err)
			}
		})
	}
}

func TestSendSnapshot_ServerUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, "", "")
	if err := client.SendSnapshot(context.Background(), testSnapshot(510, testView("A"))); err == nil {
		t.Error("Expected error when server is unavailable, got nil")
	}
}

func TestSendSnapshot_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.SendSnapshot(ctx, testSnapshot(510, testView("A"))); err == nil {
		t.Error("Expected error when context is cancelled, got nil")
	}
}

func TestBuildLines(t *testing.T) {
	snapshot := testSnapshot(types.NoFilter, testView("A"), testView("B"))
	snapshot.Label = "any time"

	lines := BuildLines(snapshot, parser.NewMarkerGenerator())

	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0].ShortName != "A" || lines[1].ShortName != "B" {
		t.Errorf("lines should keep snapshot order: %s, %s", lines[0].ShortName, lines[1].ShortName)
	}
	if lines[0].TimeFilter != "any" || lines[0].Label != "any time" {
		t.Errorf("filter fields = %q / %q", lines[0].TimeFilter, lines[0].Label)
	}
	if lines[0].GeneratedAt != "2024-03-01T12:00:00Z" {
		t.Errorf("GeneratedAt = %q", lines[0].GeneratedAt)
	}
	if lines[0].Departures != 7 || lines[0].Arrivals != 5 || lines[0].Radius != 9.5 {
		t.Errorf("traffic fields not copied: %+v", lines[0])
	}
}
