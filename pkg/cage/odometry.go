package cage

import "github.com/cage-sim/cageclient/pkg/core"

// Odometer integrates wheel speed into travelled distance. It ignores
// rotation, so it is only meaningful for straight runs.
type Odometer struct {
	perimeter float64
	reduction float64

	clock    float64
	started  bool
	distance float64
}

// NewOdometer uses the wheel geometry from info.
func NewOdometer(info core.VehicleInfo) *Odometer {
	return &Odometer{
		perimeter: (info.WheelPerimeterL + info.WheelPerimeterR) / 2,
		reduction: info.ReductionRatio,
	}
}

// Update advances the odometer to st and returns the distance covered since
// the previous update. The first update only records the clock.
func (o *Odometer) Update(st core.VehicleStatus) float64 {
	if !o.started {
		o.started = true
		o.clock = st.SimClock
		return 0
	}
	dt := st.SimClock - o.clock
	o.clock = st.SimClock
	if o.reduction == 0 || dt <= 0 {
		return 0
	}

	// The right wheel turns negative when driving forward.
	dx := (st.LeftRPM - st.RightRPM) / 60 / 2 / o.reduction * o.perimeter * dt
	o.distance += dx
	return dx
}

// Distance returns the total distance in meters.
func (o *Odometer) Distance() float64 { return o.distance }
