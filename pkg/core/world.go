// pkg/core/world.go
package core

// WorldInfo ties the simulated world to a geographic location. It is taken
// from the GeoReference actor when the simulation has one. All fields other
// than Valid are meaningless while Valid is false.
type WorldInfo struct {
	Valid      bool    `json:"valid"`
	Latitude0  float64 `json:"latitude0"`  // decimal degrees
	Longitude0 float64 `json:"longitude0"` // decimal degrees

	// Reference pose of the GeoReference actor, in the simulator's native
	// frame and units.
	ReferenceLocation Vector3    `json:"referenceLocation"`
	ReferenceRotation Quaternion `json:"referenceRotation"`
}
