// Package relay streams decoded vehicle status to a WebSocket server so
// that a live view can follow the session.
package relay

import (
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/cage-sim/cageclient/internal/geo"
	"github.com/cage-sim/cageclient/pkg/core"
	"github.com/cage-sim/cageclient/pkg/streaming"
)

// Config holds relay settings.
type Config struct {
	URL    string
	Secret string
}

// Relay is safe for use by one publishing goroutine; Close may be called
// from any goroutine.
type Relay struct {
	conn      *conn
	cfg       Config
	sessionID string
	track     geo.Track
}

// New creates a relay. It does not connect until Init.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		conn: newConn(logger.With("component", "relay")),
		cfg:  cfg,
	}
}

// Init connects to the relay server.
func (r *Relay) Init() error {
	return r.conn.open(r.cfg.URL, r.cfg.Secret)
}

// Close disconnects from the relay server.
func (r *Relay) Close() error {
	return r.conn.close()
}

func envelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartSession announces the vehicle and waits for the server's ack. The
// message is replayed whenever the relay reconnects.
func (r *Relay) StartSession(sessionID, endpoint string, info core.VehicleInfo, world core.WorldInfo) error {
	data, err := envelope(streaming.TypeStartSession, streaming.StartSessionPayload{
		SessionID: sessionID,
		Endpoint:  endpoint,
		Vehicle:   info,
		World:     world,
	})
	if err != nil {
		return err
	}
	r.sessionID = sessionID
	r.track = geo.Track{}
	r.conn.setReplay(data)
	return r.conn.sendAndWait(data, streaming.TypeStartSession, ackDeadline)
}

// PublishStatus queues one status without waiting.
func (r *Relay) PublishStatus(st core.VehicleStatus) error {
	payload := streaming.VehicleStatusPayload{SessionID: r.sessionID, Status: st}
	if p, ok := geo.StatusLocation(st); ok {
		loc, err := p.MarshalJSON()
		if err != nil {
			return fmt.Errorf("marshal location: %w", err)
		}
		payload.Location = loc
		r.track.Add(st)
	}
	data, err := envelope(streaming.TypeVehicleStatus, payload)
	if err != nil {
		return err
	}
	r.conn.send(data)
	return nil
}

// EndSession sends the session summary and waits for the server's ack.
func (r *Relay) EndSession() error {
	payload := streaming.EndSessionPayload{SessionID: r.sessionID, Distance: r.track.Distance()}
	if ls, ok := r.track.LineString(); ok {
		track, err := ls.MarshalJSON()
		if err != nil {
			return fmt.Errorf("marshal track: %w", err)
		}
		payload.Track = track
	}
	data, err := envelope(streaming.TypeEndSession, payload)
	if err != nil {
		return err
	}

	err = r.conn.sendAndWait(data, streaming.TypeEndSession, ackDeadline)
	r.conn.setReplay(nil)
	r.track = geo.Track{}
	return err
}
