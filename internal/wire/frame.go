package wire

import (
	"github.com/cage-sim/cageclient/pkg/core"
)

// Report is one telemetry message: the publishing actor's name and the
// still-undecoded report body.
type Report struct {
	Name string
	Body Object
}

// ParseReport decodes a telemetry message. A message without a Report object
// or without a string Report.Name is a protocol error.
func ParseReport(data []byte) (*Report, error) {
	obj, err := Parse(data)
	if err != nil {
		return nil, err
	}
	body, ok, err := obj.Child("Report")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewError(core.ErrProtocol, "telemetry", "missing Report", nil)
	}
	name, ok, err := body.Text("Name")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewError(core.ErrProtocol, "telemetry", "missing Report.Name", nil)
	}
	return &Report{Name: name, Body: body}, nil
}

// Frame is the typed content of a Report. Each field is nil when the report
// did not carry it. Values are already converted to client units and frame.
type Frame struct {
	Time    *float64
	HasData bool

	LeftRPM     *float64
	RightRPM    *float64
	Accel       *core.Vector3
	AngVel      *core.Vector3
	Orientation *core.Quaternion
	Position    *core.Vector3
	Latitude    *float64
	Longitude   *float64
}

// DecodeFrame validates and converts every field of the report in one pass.
func DecodeFrame(r *Report) (Frame, error) {
	var f Frame

	t, ok, err := r.Body.Number("Time")
	if err != nil {
		return Frame{}, err
	}
	if ok {
		f.Time = &t
	}

	data, ok, err := r.Body.Child("Data")
	if err != nil || !ok {
		return f, err
	}
	f.HasData = true

	if f.LeftRPM, err = optionalNumber(data, "LeftRpm"); err != nil {
		return Frame{}, err
	}
	if f.RightRPM, err = optionalNumber(data, "RightRpm"); err != nil {
		return Frame{}, err
	}

	if f.Accel, err = convertVector(data, "Accel", accelFromWire); err != nil {
		return Frame{}, err
	}
	if f.AngVel, err = convertVector(data, "AngVel", angVelFromWire); err != nil {
		return Frame{}, err
	}
	if f.Position, err = convertVector(data, "Position", positionFromWire); err != nil {
		return Frame{}, err
	}

	pose, err := quaternion(data, "Pose")
	if err != nil {
		return Frame{}, err
	}
	if pose != nil {
		q := rotationFromWire(*pose)
		f.Orientation = &q
	}

	if f.Latitude, err = sexagesimal(data, "lat"); err != nil {
		return Frame{}, err
	}
	if f.Longitude, err = sexagesimal(data, "lon"); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Apply writes every field present in the frame into st and leaves the rest
// untouched.
func (f Frame) Apply(st *core.VehicleStatus) {
	if f.Time != nil {
		st.SimClock = *f.Time
	}
	if f.LeftRPM != nil {
		st.LeftRPM = *f.LeftRPM
	}
	if f.RightRPM != nil {
		st.RightRPM = *f.RightRPM
	}
	if f.Accel != nil {
		st.Accel = *f.Accel
	}
	if f.AngVel != nil {
		st.AngVel = *f.AngVel
	}
	if f.Orientation != nil {
		st.Orientation = *f.Orientation
	}
	if f.Position != nil {
		st.Position = *f.Position
	}
	if f.Latitude != nil {
		st.Latitude = *f.Latitude
		st.HasLatLon = true
	}
	if f.Longitude != nil {
		st.Longitude = *f.Longitude
		st.HasLatLon = true
	}
}

func optionalNumber(o Object, key string) (*float64, error) {
	v, ok, err := o.Number(key)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func convertVector(o Object, key string, conv func(core.Vector3) core.Vector3) (*core.Vector3, error) {
	v, err := vector(o, key)
	if err != nil || v == nil {
		return nil, err
	}
	out := conv(*v)
	return &out, nil
}
