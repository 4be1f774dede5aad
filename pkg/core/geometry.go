// pkg/core/geometry.go
package core

import "fmt"

// Vector3 is a three-component vector in the client's right-handed frame.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", v.X, v.Y, v.Z)
}

// Quaternion is an orientation, W first.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

func (q Quaternion) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f, %.4f)", q.W, q.X, q.Y, q.Z)
}

// Transform is a frame offset relative to the vehicle body.
type Transform struct {
	Translation Vector3    `json:"translation"` // meters
	Rotation    Quaternion `json:"rotation"`
}
