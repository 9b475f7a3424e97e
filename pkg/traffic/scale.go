package traffic

import (
	"math"

	"bikeflow/pkg/types"
)

// NeutralRatio is the departure ratio of a station with no traffic
const NeutralRatio = 0.5

// Marker radius ranges in pixels. A filtered view spreads over a wider range
// because its counts are a fraction of the full day's.
var (
	UnfilteredRadiusRange = [2]float64{0, 25}
	FilteredRadiusRange   = [2]float64{3, 50}
)

// flowLevels is the output range of the departure-ratio quantize scale
var flowLevels = []float64{0, 0.5, 1}

// DepartureRatio returns Departures/TotalTraffic, or NeutralRatio when the
// station saw no traffic.
func DepartureRatio(st types.StationTraffic) float64 {
	if st.TotalTraffic == 0 {
		return NeutralRatio
	}
	return float64(st.Departures) / float64(st.TotalTraffic)
}

// Flow quantizes a ratio in [0, 1] into 0 (mostly arrivals), 0.5 (balanced)
// or 1 (mostly departures). Out of range input is clamped.
func Flow(ratio float64) float64 {
	if math.IsNaN(ratio) {
		return NeutralRatio
	}
	n := len(flowLevels)
	i := int(math.Floor(float64(n) * ratio))
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	return flowLevels[i]
}

// RadiusScale maps total traffic to a marker radius with a square-root
// scale, so marker area grows linearly with traffic.
type RadiusScale struct {
	domainMax float64
	rangeMin  float64
	rangeMax  float64
}

// NewRadiusScale builds the scale for a domain of [0, maxTraffic]. The
// range depends on whether f is set.
func NewRadiusScale(maxTraffic int, f types.TimeFilter) RadiusScale {
	r := UnfilteredRadiusRange
	if f.IsSet() {
		r = FilteredRadiusRange
	}
	return RadiusScale{
		domainMax: float64(maxTraffic),
		rangeMin:  r[0],
		rangeMax:  r[1],
	}
}

// Radius returns the marker radius for a traffic count. Values above the
// domain extrapolate. A zero-width domain maps to the middle of the range.
func (s RadiusScale) Radius(totalTraffic int) float64 {
	span := math.Sqrt(s.domainMax)
	if span == 0 {
		return s.rangeMin + (s.rangeMax-s.rangeMin)/2
	}
	t := math.Sqrt(float64(totalTraffic)) / span
	return s.rangeMin + (s.rangeMax-s.rangeMin)*t
}

// View attaches ratio, flow and radius to each station
func View(traffic []types.StationTraffic, scale RadiusScale) []types.StationView {
	views := make([]types.StationView, len(traffic))
	for i, st := range traffic {
		ratio := DepartureRatio(st)
		views[i] = types.StationView{
			StationTraffic: st,
			DepartureRatio: ratio,
			Flow:           Flow(ratio),
			Radius:         scale.Radius(st.TotalTraffic),
		}
	}
	return views
}
