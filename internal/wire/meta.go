package wire

import (
	"strings"

	"github.com/cage-sim/cageclient/pkg/core"
)

// TransformPrefix marks metadata keys that describe a sensor or body frame.
const TransformPrefix = "Transform-"

// DecodeVehicleMeta fills info from a vehicle's metadata and returns the
// names of the frames whose transforms were found. Entries already present in
// info.Transforms are kept unless the metadata defines the same frame.
func DecodeVehicleMeta(meta Object, info *core.VehicleInfo) ([]string, error) {
	for _, f := range []struct {
		key   string
		dst   *float64
		scale float64
	}{
		{"TreadWidth", &info.TreadWidth, centimetersPerMeter},
		{"WheelPerimeterL", &info.WheelPerimeterL, centimetersPerMeter},
		{"WheelPerimeterR", &info.WheelPerimeterR, centimetersPerMeter},
		{"ReductionRatio", &info.ReductionRatio, 1},
	} {
		v, ok, err := meta.Number(f.key)
		if err != nil {
			return nil, err
		}
		if ok {
			*f.dst = v / f.scale
		}
	}

	if info.Transforms == nil {
		info.Transforms = make(map[string]core.Transform)
	}

	var frames []string
	for _, key := range meta.Keys() {
		if len(key) <= len(TransformPrefix) || !strings.EqualFold(key[:len(TransformPrefix)], TransformPrefix) {
			continue
		}
		frame := key[len(TransformPrefix):]
		raw, err := transform(meta, key)
		if err != nil {
			return nil, err
		}
		info.Transforms[frame] = core.Transform{
			Translation: positionFromWire(raw.Translation),
			Rotation:    rotationFromWire(raw.Rotation),
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// DecodeGeoReference reads the metadata of a GeoReference actor. The result
// is invalid, without error, when GeoLocation or Transform is missing. The
// reference pose is kept in the simulator's native frame.
func DecodeGeoReference(meta Object) (core.WorldInfo, error) {
	geo, hasGeo, err := meta.Child("GeoLocation")
	if err != nil {
		return core.WorldInfo{}, err
	}
	_, hasTransform, err := meta.Child("Transform")
	if err != nil {
		return core.WorldInfo{}, err
	}
	if !hasGeo || !hasTransform {
		return core.WorldInfo{}, nil
	}

	lat, err := sexagesimal(geo, "latitude")
	if err != nil {
		return core.WorldInfo{}, err
	}
	lon, err := sexagesimal(geo, "longitude")
	if err != nil {
		return core.WorldInfo{}, err
	}
	if lat == nil || lon == nil {
		return core.WorldInfo{}, core.NewError(core.ErrProtocol, "decode", "GeoLocation needs latitude and longitude", nil)
	}

	ref, err := transform(meta, "Transform")
	if err != nil {
		return core.WorldInfo{}, err
	}

	return core.WorldInfo{
		Valid:             true,
		Latitude0:         *lat,
		Longitude0:        *lon,
		ReferenceLocation: ref.Translation,
		ReferenceRotation: ref.Rotation,
	}, nil
}

// transform reads a {"translation":{x,y,z},"rotation":{w,x,y,z}} entry as
// sent, without unit or handedness conversion.
func transform(o Object, key string) (core.Transform, error) {
	child, ok, err := o.Child(key)
	if err != nil {
		return core.Transform{}, err
	}
	if !ok {
		return core.Transform{}, core.NewError(core.ErrProtocol, "decode", "missing "+key, nil)
	}
	t, err := vector(child, "translation")
	if err != nil {
		return core.Transform{}, err
	}
	r, err := quaternion(child, "rotation")
	if err != nil {
		return core.Transform{}, err
	}
	if t == nil || r == nil {
		return core.Transform{}, core.NewError(core.ErrProtocol, "decode", key+" needs translation and rotation", nil)
	}
	return core.Transform{Translation: *t, Rotation: *r}, nil
}
