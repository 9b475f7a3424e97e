package parser

import (
	"encoding/base64"
	"fmt"
	"html"
	"math"
	"sort"
	"strings"

	"bikeflow/pkg/types"
)

// Marker fill colours by flow level
const (
	ColorDepartures = "#4682B4" // Steel Blue: mostly departures
	ColorBalanced   = "#A2708A" // even mix of steel blue and dark orange
	ColorArrivals   = "#FF8C00" // Dark Orange: mostly arrivals
)

const (
	markerStroke  = "white"
	markerOpacity = 0.8
	mapPadding    = 30.0
)

// MarkerGenerator renders station markers and whole-map SVGs
type MarkerGenerator struct{}

func NewMarkerGenerator() *MarkerGenerator {
	return &MarkerGenerator{}
}

// FlowColor returns the fill for a quantized flow value
func (g *MarkerGenerator) FlowColor(flow float64) string {
	switch {
	case flow >= 1:
		return ColorDepartures
	case flow <= 0:
		return ColorArrivals
	default:
		return ColorBalanced
	}
}

// TrafficTitle is the hover text of a marker
func TrafficTitle(st types.StationTraffic) string {
	return fmt.Sprintf("%d trips (%d dep, %d arr)", st.TotalTraffic, st.Departures, st.Arrivals)
}

// GenerateStationMarker creates a base64-encoded SVG circle sized and
// coloured for one station
func (g *MarkerGenerator) GenerateStationMarker(view types.StationView) string {
	r := math.Max(view.Radius, 0)
	size := int(math.Ceil(2*r)) + 2
	center := float64(size) / 2

	svg := fmt.Sprintf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
  <circle cx="%.1f" cy="%.1f" r="%.2f" fill="%s" stroke="%s" stroke-width="1" opacity="%.1f">
    <title>%s</title>
  </circle>
</svg>`, size, size, center, center, r, g.FlowColor(view.Flow), markerStroke, markerOpacity,
		html.EscapeString(TrafficTitle(view.StationTraffic)))

	encoded := base64.StdEncoding.EncodeToString([]byte(svg))
	return fmt.Sprintf("data:image/svg+xml;base64,%s", encoded)
}

// GenerateMapSVG draws every station of the snapshot on a Web Mercator
// projection fitted to the station bounds, with the time label in the
// corner. Larger markers are drawn first so small ones stay visible.
func (g *MarkerGenerator) GenerateMapSVG(snapshot *types.Snapshot, width, height int) []byte {
	proj := fitProjection(snapshot.Stations, float64(width), float64(height))

	views := make([]types.StationView, len(snapshot.Stations))
	copy(views, snapshot.Stations)
	sort.SliceStable(views, func(i, j int) bool { return views[i].Radius > views[j].Radius })

	var b strings.Builder
	fmt.Fprintf(&b, `<svg width="%d" height="%d" viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg">`+"\n",
		width, height, width, height)
	fmt.Fprintf(&b, `  <rect width="%d" height="%d" fill="#f8f9fa"/>`+"\n", width, height)

	b.WriteString(`  <g class="stations">` + "\n")
	for _, v := range views {
		if v.Radius <= 0 {
			continue
		}
		x, y := proj.project(v.Lon, v.Lat)
		fmt.Fprintf(&b,
			`    <circle data-station="%s" cx="%.1f" cy="%.1f" r="%.2f" fill="%s" stroke="%s" stroke-width="1" opacity="%.1f"><title>%s</title></circle>`+"\n",
			html.EscapeString(v.ShortName), x, y, v.Radius, g.FlowColor(v.Flow), markerStroke, markerOpacity,
			html.EscapeString(stationTitle(v)))
	}
	b.WriteString("  </g>\n")

	fmt.Fprintf(&b, `  <text x="12" y="24" font-family="Arial, sans-serif" font-size="16" font-weight="bold" fill="#333">%s</text>`+"\n",
		html.EscapeString(snapshot.Label))
	fmt.Fprintf(&b, `  <text x="12" y="44" font-family="Arial, sans-serif" font-size="12" fill="#666">%d trips</text>`+"\n",
		snapshot.TripCount)
	b.WriteString("</svg>\n")

	return []byte(b.String())
}

func stationTitle(v types.StationView) string {
	if v.Name == "" {
		return TrafficTitle(v.StationTraffic)
	}
	return v.Name + ": " + TrafficTitle(v.StationTraffic)
}

// projection maps Web Mercator unit coordinates onto the canvas
type projection struct {
	minX, minY   float64
	scale        float64
	offX, offY   float64
	canvasHeight float64
}

// mercator returns unit-square Web Mercator coordinates, y growing north
func mercator(lon, lat float64) (float64, float64) {
	lat = math.Max(math.Min(lat, 85.05112878), -85.05112878)
	x := (lon + 180) / 360
	phi := lat * math.Pi / 180
	y := math.Log(math.Tan(math.Pi/4+phi/2)) / (2 * math.Pi)
	return x, y
}

func fitProjection(views []types.StationView, width, height float64) projection {
	p := projection{scale: 1, canvasHeight: height}
	if len(views) == 0 {
		return p
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range views {
		x, y := mercator(v.Lon, v.Lat)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	innerW := math.Max(width-2*mapPadding, 1)
	innerH := math.Max(height-2*mapPadding, 1)
	dx, dy := maxX-minX, maxY-minY

	switch {
	case dx == 0 && dy == 0:
		p.scale = 1
	case dx == 0:
		p.scale = innerH / dy
	case dy == 0:
		p.scale = innerW / dx
	default:
		p.scale = math.Min(innerW/dx, innerH/dy)
	}

	p.minX, p.minY = minX, minY
	// center the fitted box
	p.offX = (width - dx*p.scale) / 2
	p.offY = (height - dy*p.scale) / 2
	return p
}

func (p projection) project(lon, lat float64) (float64, float64) {
	x, y := mercator(lon, lat)
	px := p.offX + (x-p.minX)*p.scale
	py := p.canvasHeight - (p.offY + (y-p.minY)*p.scale)
	return px, py
}
