package parser

import (
	"context"
	"testing"
)

func TestParseStations_GBFSJSON(t *testing.T) {
	doc := `{
  "last_updated": 1710000000,
  "data": {
    "stations": [
      {"short_name": "A32000", "name": "Kendall T", "lon": -71.0862, "lat": 42.3625, "capacity": 23},
      {"short_name": "M32006", "name": "MIT  at Mass   Ave", "lon": "-71.0936", "lat": "42.3581"},
      {"short_name": 12345, "lon": -71.1, "lat": 42.3}
    ]
  }
}`

	stations, err := NewStationParser().ParseStations(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("ParseStations failed: %v", err)
	}

	if len(stations) != 3 {
		t.Fatalf("Expected 3 stations, got %d", len(stations))
	}

	kendall := stations[0]
	if kendall.ShortName != "A32000" || kendall.Name != "Kendall T" {
		t.Errorf("first station = %+v", kendall)
	}
	if kendall.Lon != -71.0862 || kendall.Lat != 42.3625 {
		t.Errorf("coordinates = (%v, %v)", kendall.Lon, kendall.Lat)
	}
	if kendall.Capacity != 23 {
		t.Errorf("Capacity = %d, want 23", kendall.Capacity)
	}

	if stations[1].Lon != -71.0936 || stations[1].Lat != 42.3581 {
		t.Errorf("string coordinates not parsed: %+v", stations[1])
	}
	if stations[1].Name != "MIT at Mass Ave" {
		t.Errorf("Name = %q, want whitespace collapsed", stations[1].Name)
	}

	if stations[2].ShortName != "12345" {
		t.Errorf("numeric short name = %q, want 12345", stations[2].ShortName)
	}
}

func TestParseStations_TopLevelArray(t *testing.T) {
	doc := `[{"short_name":"A","lon":-71.0,"lat":42.0},{"short_name":"B","lon":-71.1,"lat":42.1}]`

	stations, err := NewStationParser().ParseStations(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("ParseStations failed: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("Expected 2 stations, got %d", len(stations))
	}
	if stations[0].ShortName != "A" || stations[1].ShortName != "B" {
		t.Errorf("unexpected order or names: %+v", stations)
	}
}

func TestParseStations_XML(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{
			name: "multiple stations",
			doc: `<?xml version="1.0" encoding="UTF-8"?>
<stations>
  <station><short_name>A32000</short_name><name>Kendall T</name><lon>-71.0862</lon><lat>42.3625</lat></station>
  <station><short_name>M32006</short_name><name>MIT at Mass Ave</name><lon>-71.0936</lon><lat>42.3581</lat></station>
</stations>`,
			want: 2,
		},
		{
			name: "single station",
			doc:  `<stations><station><short_name>A32000</short_name><lon>-71.0862</lon><lat>42.3625</lat></station></stations>`,
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stations, err := NewStationParser().ParseStations(context.Background(), []byte(tt.doc))
			if err != nil {
				t.Fatalf("ParseStations failed: %v", err)
			}
			if len(stations) != tt.want {
				t.Fatalf("Expected %d stations, got %d", tt.want, len(stations))
			}
			if stations[0].ShortName != "A32000" || stations[0].Lat != 42.3625 {
				t.Errorf("first station = %+v", stations[0])
			}
		})
	}
}

func TestParseStations_SkipsUnusableAndDuplicates(t *testing.T) {
	doc := `{"data":{"stations":[
  {"short_name":"A","lon":-71.0,"lat":42.0,"name":"first"},
  {"name":"no id","lon":-71.0,"lat":42.0},
  {"short_name":"","lon":-71.0,"lat":42.0},
  {"short_name":"B","lon":"west","lat":42.0},
  {"short_name":"C","lat":42.0},
  {"short_name":"A","lon":-70.0,"lat":41.0,"name":"second"},
  "not an object",
  {"short_name":"D","lon":-71.2,"lat":42.2}
]}}`

	stations, err := NewStationParser().ParseStations(context.Background(), []byte(doc))
	if err != nil {
		t.Fatalf("ParseStations failed: %v", err)
	}

	if len(stations) != 2 {
		t.Fatalf("Expected 2 usable stations, got %d: %+v", len(stations), stations)
	}
	if stations[0].ShortName != "A" || stations[0].Name != "first" {
		t.Errorf("duplicate short name should keep the first record, got %+v", stations[0])
	}
	if stations[1].ShortName != "D" {
		t.Errorf("second station = %+v, want D", stations[1])
	}
}

func TestParseStations_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"invalid json", `{"data": {"stations": [`},
		{"invalid xml", `<stations><station>`},
		{"no station list", `{"data": {"bikes": []}}`},
		{"empty station list", `{"data": {"stations": []}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStationParser().ParseStations(context.Background(), []byte(tt.doc)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestStringValue(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{" A32000 ", "A32000"},
		{float64(42), "42"},
		{42.5, "42.5"},
		{true, "true"},
		{nil, ""},
		{[]interface{}{"x"}, ""},
	}

	for _, tt := range tests {
		if got := stringValue(tt.input); got != tt.want {
			t.Errorf("stringValue(%#v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
