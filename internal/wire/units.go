package wire

import (
	"math"

	"github.com/cage-sim/cageclient/pkg/core"
)

// The simulator works in centimeters and degrees in a left-handed frame.
// The client exposes meters and radians in a right-handed frame.
const (
	centimetersPerMeter = 100.0
	halfTurnDegrees     = 180.0
)

// Decode60 converts sexagesimal degrees, minutes and seconds into decimal
// degrees.
func Decode60(degrees, minutes, seconds float64) float64 {
	return degrees + minutes/60 + seconds/3600
}

func toWireLength(m float64) float64 { return m * centimetersPerMeter }

func toWireAngularRate(radPerSec float64) float64 { return radPerSec * halfTurnDegrees / math.Pi }

func fromWireAngle(deg float64) float64 { return deg * math.Pi / halfTurnDegrees }

func accelFromWire(v core.Vector3) core.Vector3 {
	return core.Vector3{
		X: v.X / centimetersPerMeter,
		Y: -v.Y / centimetersPerMeter,
		Z: v.Z / centimetersPerMeter,
	}
}

func angVelFromWire(v core.Vector3) core.Vector3 {
	return core.Vector3{
		X: fromWireAngle(v.X),
		Y: -fromWireAngle(v.Y),
		Z: -fromWireAngle(v.Z),
	}
}

// positionFromWire is also used for metadata translations.
func positionFromWire(v core.Vector3) core.Vector3 {
	return core.Vector3{
		X: v.X / centimetersPerMeter,
		Y: -v.Y / centimetersPerMeter,
		Z: v.Z / centimetersPerMeter,
	}
}

// rotationFromWire mirrors the Y axis and inverts W.
func rotationFromWire(q core.Quaternion) core.Quaternion {
	return core.Quaternion{W: -q.W, X: q.X, Y: -q.Y, Z: q.Z}
}

func vector(o Object, key string) (*core.Vector3, error) {
	child, ok, err := o.Child(key)
	if err != nil || !ok {
		return nil, err
	}
	var v core.Vector3
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"X", &v.X}, {"Y", &v.Y}, {"Z", &v.Z}} {
		if err := component(child, key, c.name, c.dst); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func quaternion(o Object, key string) (*core.Quaternion, error) {
	child, ok, err := o.Child(key)
	if err != nil || !ok {
		return nil, err
	}
	var q core.Quaternion
	for _, c := range []struct {
		name string
		dst  *float64
	}{{"W", &q.W}, {"X", &q.X}, {"Y", &q.Y}, {"Z", &q.Z}} {
		if err := component(child, key, c.name, c.dst); err != nil {
			return nil, err
		}
	}
	return &q, nil
}

func component(o Object, parent, name string, dst *float64) error {
	f, ok, err := o.Number(name)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewError(core.ErrProtocol, "decode", "missing "+parent+"."+name, nil)
	}
	*dst = f
	return nil
}

// sexagesimal decodes a {X,Y,Z} degrees/minutes/seconds triple.
func sexagesimal(o Object, key string) (*float64, error) {
	v, err := vector(o, key)
	if err != nil || v == nil {
		return nil, err
	}
	deg := Decode60(v.X, v.Y, v.Z)
	return &deg, nil
}
