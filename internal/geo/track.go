package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/cage-sim/cageclient/pkg/core"
)

// Track accumulates the geographic fixes of one run.
type Track struct {
	coords   []float64 // lon, lat pairs
	distance float64
	lastLat  float64
	lastLon  float64
}

// Add appends the status' fix when it has one that differs from the last.
func (t *Track) Add(st core.VehicleStatus) bool {
	if _, ok := StatusLocation(st); !ok {
		return false
	}
	if len(t.coords) > 0 {
		if st.Latitude == t.lastLat && st.Longitude == t.lastLon {
			return false
		}
		t.distance += GroundDistance(t.lastLat, t.lastLon, st.Latitude, st.Longitude)
	}
	t.coords = append(t.coords, st.Longitude, st.Latitude)
	t.lastLat, t.lastLon = st.Latitude, st.Longitude
	return true
}

// Len returns the number of fixes.
func (t *Track) Len() int { return len(t.coords) / 2 }

// Distance returns the ground distance covered, in meters.
func (t *Track) Distance() float64 { return t.distance }

// LineString returns the fixes as a WGS84 line. It needs two fixes.
func (t *Track) LineString() (geom.LineString, bool) {
	if t.Len() < 2 {
		return geom.LineString{}, false
	}
	seq := geom.NewSequence(append([]float64(nil), t.coords...), geom.DimXY)
	return geom.NewLineString(seq), true
}
