// pkg/core/vehicle.go
package core

import (
	"fmt"
	"maps"
	"strings"
)

// VehicleStatus is the decoded state of the vehicle at one telemetry instant.
// Telemetry messages may carry any subset of these fields; fields absent from
// a message keep the value of the previous one.
type VehicleStatus struct {
	SimClock    float64    `json:"simClock"` // seconds
	LeftRPM     float64    `json:"leftRpm"`
	RightRPM    float64    `json:"rightRpm"`
	Accel       Vector3    `json:"accel"`  // m/s^2
	AngVel      Vector3    `json:"angVel"` // rad/s
	Orientation Quaternion `json:"orientation"`
	Position    Vector3    `json:"position"` // meters

	// Latitude and Longitude are decimal degrees, valid only when HasLatLon.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	HasLatLon bool    `json:"hasLatLon"`
}

func (s VehicleStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SimClock:%.3f\n", s.SimClock)
	fmt.Fprintf(&b, "RPM:(%.2f, %.2f)\n", s.LeftRPM, s.RightRPM)
	fmt.Fprintf(&b, "Accel:%s\n", s.Accel)
	fmt.Fprintf(&b, "AngVel:%s\n", s.AngVel)
	fmt.Fprintf(&b, "Orientation:%s\n", s.Orientation)
	fmt.Fprintf(&b, "Position:%s\n", s.Position)
	if s.HasLatLon {
		fmt.Fprintf(&b, "LatLon:(%.10g, %.10g)\n", s.Latitude, s.Longitude)
	}
	return b.String()
}

// VehicleInfo is the static description of the selected vehicle, fetched
// from its metadata at connect time.
type VehicleInfo struct {
	Name            string               `json:"name"`
	WheelPerimeterL float64              `json:"wheelPerimeterL"` // meters
	WheelPerimeterR float64              `json:"wheelPerimeterR"` // meters
	TreadWidth      float64              `json:"treadWidth"`      // meters
	ReductionRatio  float64              `json:"reductionRatio"`
	Transforms      map[string]Transform `json:"transforms"`
}

// Clone returns a copy that shares no map storage with v.
func (v VehicleInfo) Clone() VehicleInfo {
	out := v
	out.Transforms = maps.Clone(v.Transforms)
	if out.Transforms == nil {
		out.Transforms = make(map[string]Transform)
	}
	return out
}
