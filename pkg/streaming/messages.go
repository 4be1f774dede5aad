// Package streaming defines the messages of the vehicle status relay.
package streaming

import (
	"github.com/goccy/go-json"

	"github.com/cage-sim/cageclient/pkg/core"
)

// Message type constants matching the relay protocol.
const (
	TypeStartSession  = "start_session"
	TypeVehicleStatus = "vehicle_status"
	TypeEndSession    = "end_session"
	TypeAck           = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload describes the vehicle a session drives.
type StartSessionPayload struct {
	SessionID string           `json:"sessionId"`
	Endpoint  string           `json:"endpoint"`
	Vehicle   core.VehicleInfo `json:"vehicle"`
	World     core.WorldInfo   `json:"world"`
}

// VehicleStatusPayload carries one decoded telemetry status. Location is a
// GeoJSON point, present only when the status has a geographic fix.
type VehicleStatusPayload struct {
	SessionID string             `json:"sessionId"`
	Status    core.VehicleStatus `json:"status"`
	Location  json.RawMessage    `json:"location,omitempty"`
}

// EndSessionPayload summarizes a finished session. Track is a GeoJSON
// LineString of the geographic fixes, when there were at least two.
type EndSessionPayload struct {
	SessionID string          `json:"sessionId"`
	Distance  float64         `json:"distance"` // meters
	Track     json.RawMessage `json:"track,omitempty"`
}
