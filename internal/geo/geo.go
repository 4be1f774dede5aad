// Package geo converts the vehicle's geographic fixes into map geometry.
package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/cage-sim/cageclient/pkg/core"
)

// ErrInvalidCoordinates is returned for latitudes or longitudes out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var toWebMercator = wgs84.EPSG().Transform(4326, 3857)

// Validate checks a WGS84 latitude/longitude pair.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// WebMercator projects a WGS84 position onto EPSG:3857.
func WebMercator(lat, lon float64) (x, y float64) {
	x, y, _ = toWebMercator(lon, lat, 0)
	return x, y
}

// Coords3857From4326 returns the EPSG:3857 point of a WGS84 position.
func Coords3857From4326(lat, lon float64) (geom.Point, error) {
	if err := Validate(lat, lon); err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	x, y := WebMercator(lat, lon)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY}), nil
}

// LonLatPoint returns a WGS84 point, X being longitude, as GeoJSON expects.
func LonLatPoint(lat, lon float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: lon, Y: lat}, Type: geom.DimXY})
}

// StatusLocation returns the vehicle's WGS84 point when the status carries a
// geographic fix.
func StatusLocation(st core.VehicleStatus) (geom.Point, bool) {
	if !st.HasLatLon || Validate(st.Latitude, st.Longitude) != nil {
		return geom.Point{}, false
	}
	return LonLatPoint(st.Latitude, st.Longitude), true
}

// GroundDistance approximates the distance in meters between two nearby
// WGS84 positions. Web Mercator distances are scaled back by the cosine of
// the mean latitude.
func GroundDistance(lat1, lon1, lat2, lon2 float64) float64 {
	a, errA := Coords3857From4326(lat1, lon1)
	b, errB := Coords3857From4326(lat2, lon2)
	if errA != nil || errB != nil {
		return 0
	}
	d, ok := geom.Distance(a.AsGeometry(), b.AsGeometry())
	if !ok {
		return 0
	}
	return d * math.Cos((lat1+lat2)/2*math.Pi/180)
}
