package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bikeflow/pkg/traffic"
	"bikeflow/pkg/types"
)

func TestParseTrips_BluebikesExport(t *testing.T) {
	csv := strings.Join([]string{
		"ride_id,rideable_type,started_at,ended_at,start_station_name,start_station_id,end_station_name,end_station_id,member_casual",
		"7E4A1,classic_bike,2024-03-01 08:02:13.123,2024-03-01 08:20:55.456,Kendall T,A32000,MIT at Mass Ave,M32006,member",
		"7E4A2,electric_bike,2024-03-01 23:55:00,2024-03-02 00:10:00,MIT at Mass Ave,M32006,Kendall T,A32000,casual",
	}, "\n")

	trips, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}

	if len(trips) != 2 {
		t.Fatalf("Expected 2 trips, got %d", len(trips))
	}

	first := trips[0]
	if first.RideID != "7E4A1" || first.RideableType != "classic_bike" || first.MemberCasual != "member" {
		t.Errorf("optional columns not carried: %+v", first)
	}
	if first.StartStationID != "A32000" || first.EndStationID != "M32006" {
		t.Errorf("station ids = %q -> %q", first.StartStationID, first.EndStationID)
	}

	wantStart := time.Date(2024, 3, 1, 8, 2, 13, 123000000, time.UTC)
	if !first.StartedAt.Equal(wantStart) {
		t.Errorf("StartedAt = %v, want %v", first.StartedAt, wantStart)
	}

	second := trips[1]
	if second.EndedAt.Day() != 2 || second.EndedAt.Hour() != 0 || second.EndedAt.Minute() != 10 {
		t.Errorf("EndedAt = %v, want 2024-03-02 00:10", second.EndedAt)
	}
}

func TestParseTrips_MinimalColumnsAnyOrder(t *testing.T) {
	csv := "end_station_id,start_station_id,ended_at,started_at\n" +
		"B,A,2024-03-01T09:10:00,2024-03-01T09:00:00\n"

	trips, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("Expected 1 trip, got %d", len(trips))
	}
	if trips[0].StartStationID != "A" || trips[0].EndStationID != "B" {
		t.Errorf("columns matched by position instead of name: %+v", trips[0])
	}
	if trips[0].StartedAt.Hour() != 9 || trips[0].EndedAt.Minute() != 10 {
		t.Errorf("timestamps = %v -> %v", trips[0].StartedAt, trips[0].EndedAt)
	}
}

func TestParseTrips_TimezoneHandling(t *testing.T) {
	boston, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	csv := "started_at,ended_at,start_station_id,end_station_id\n" +
		"2024-03-01 08:00:00,2024-03-01T13:30:00Z,A,B\n"

	trips, err := NewTripParser(boston).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}

	if trips[0].StartedAt.Location() != boston || trips[0].StartedAt.Hour() != 8 {
		t.Errorf("zone-less timestamp should be read as Boston wall clock, got %v", trips[0].StartedAt)
	}
	if trips[0].EndedAt.Location() != boston || trips[0].EndedAt.Hour() != 8 || trips[0].EndedAt.Minute() != 30 {
		t.Errorf("RFC3339 timestamp should be converted to Boston wall clock, got %v", trips[0].EndedAt)
	}
	if got := trips[0].EndedAt.Sub(trips[0].StartedAt); got != 30*time.Minute {
		t.Errorf("ride duration = %v, want 30m", got)
	}
}

func TestParseTrips_OffsetTimestampsFilterOnLocalClock(t *testing.T) {
	boston, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// 13:00Z and 08:00-05:00 are both 8:00 AM in Boston
	csv := "started_at,ended_at,start_station_id,end_station_id\n" +
		"2024-03-01T13:00:00Z,2024-03-01T13:20:00Z,A,B\n" +
		"2024-03-01 08:00:00-05:00,2024-03-01 08:10:00-05:00,B,A\n"

	trips, err := NewTripParser(boston).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}

	for i, trip := range trips {
		if got := traffic.MinutesSinceMidnight(trip.StartedAt); got != 480 {
			t.Errorf("trip %d starts at minute %d, want 480", i, got)
		}
	}

	tests := []struct {
		name   string
		filter types.TimeFilter
		want   int
	}{
		{"8:00 AM", 480, 2},
		{"2:00 PM", 840, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(traffic.FilterTrips(trips, tt.filter)); got != tt.want {
				t.Errorf("FilterTrips(%d) matched %d trips, want %d", tt.filter, got, tt.want)
			}
		})
	}
}

func TestParseTrips_BlankLinesAndBOM(t *testing.T) {
	csv := "\ufeffstarted_at,ended_at,start_station_id,end_station_id\n" +
		"2024-03-01 08:00:00,2024-03-01 08:10:00,A,B\n" +
		"\n" +
		",,,\n" +
		"2024-03-01 09:00:00,2024-03-01 09:10:00,B,A\n"

	trips, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}
	if len(trips) != 2 {
		t.Errorf("Expected 2 trips, got %d", len(trips))
	}
}

func TestParseTrips_HeaderOnly(t *testing.T) {
	csv := "started_at,ended_at,start_station_id,end_station_id\n"

	trips, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(csv))
	if err != nil {
		t.Fatalf("ParseTrips failed: %v", err)
	}
	if len(trips) != 0 {
		t.Errorf("Expected no trips, got %d", len(trips))
	}
}

func TestParseTrips_MissingColumns(t *testing.T) {
	csv := "started_at,start_station_id,end_station_id\n2024-03-01 08:00:00,A,B\n"

	_, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(csv))
	if err == nil {
		t.Fatal("Expected error for missing ended_at column")
	}
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Expected ErrMissingColumn, got %v", err)
	}
	if !strings.Contains(err.Error(), "ended_at") {
		t.Errorf("error should name the missing column: %v", err)
	}
}

func TestParseTrips_Errors(t *testing.T) {
	header := "started_at,ended_at,start_station_id,end_station_id\n"

	tests := []struct {
		name     string
		csv      string
		contains string
	}{
		{"empty input", "", "empty"},
		{"bad start timestamp", header + "yesterday,2024-03-01 08:10:00,A,B\n", "started_at"},
		{"bad end timestamp", header + "2024-03-01 08:00:00,03/01/2024 08:10,A,B\n", "ended_at"},
		{"missing timestamp", header + "2024-03-01 08:00:00,,A,B\n", "line 2"},
		{"unterminated quote", header + "\"2024-03-01 08:00:00,2024-03-01 08:10:00,A,B\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTripParser(nil).ParseTrips(context.Background(), []byte(tt.csv))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should contain %q", err.Error(), tt.contains)
			}
		})
	}
}
