// Package cage is a client for the CAGE vehicle simulator. A Session
// discovers a vehicle actor, follows its telemetry and drives it.
package cage

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cage-sim/cageclient/internal/control"
	"github.com/cage-sim/cageclient/internal/telemetry"
	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/internal/wire"
	"github.com/cage-sim/cageclient/pkg/core"
)

// BlockForever makes Poll and ReceiveStatus wait without a deadline.
const BlockForever = telemetry.BlockForever

// ErrNotConnected is returned by operations that need a connected session.
var ErrNotConnected = errors.New("session not connected")

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTransport replaces the ZeroMQ transport.
func WithTransport(f transport.Factory) Option {
	return func(s *Session) { s.newContext = f }
}

// Session is one client connection to a simulated vehicle. It is meant to be
// driven from a single goroutine; LastError, State and Stats may be read from
// others.
type Session struct {
	cfg        Config
	logger     *slog.Logger
	newContext transport.Factory
	id         string
	metrics    *sessionMetrics

	mu       sync.Mutex
	state    State
	lastErr  string
	endpoint string
	info     core.VehicleInfo
	world    core.WorldInfo
	defaults map[string]core.Transform

	tctx      transport.Context
	control   *control.Channel
	telemetry *telemetry.Channel
}

// New creates a disconnected session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg.withDefaults(),
		logger:     slog.Default(),
		newContext: transport.NewZMQContext,
		id:         uuid.NewString(),
		metrics:    newSessionMetrics(),
		defaults:   make(map[string]core.Transform),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.info = s.freshInfo()
	return s
}

// ID identifies this session in logs and relayed data.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the id of the selected vehicle actor.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// VehicleInfo returns a copy of the selected vehicle's description.
func (s *Session) VehicleInfo() core.VehicleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone()
}

// WorldInfo returns the geo-reference of the simulated world.
func (s *Session) WorldInfo() core.WorldInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

// LastError returns the message of the most recent failure. Any successful
// operation clears it.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns the session's traffic counters.
func (s *Session) Stats() Stats {
	return s.metrics.snapshot()
}

// SetDefaultTransform registers a frame transform. It survives later
// connects unless the vehicle metadata defines the same frame.
func (s *Session) SetDefaultTransform(frame string, t core.Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[frame] = t
	s.info.Transforms[frame] = t
}

// Connect runs the discovery handshake. Any previous connection is closed
// first. Apart from a metadata failure with RequireMetadata unset, every
// error leaves the session Disconnected with all resources released.
func (s *Session) Connect() error {
	s.teardown()

	if err := s.cfg.Validate(); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.state = Connecting
	s.mu.Unlock()

	log := s.logger.With("session", s.id, "server", s.cfg.Host())
	log.Info("Connecting", "commandAddr", s.cfg.CommandAddr(), "vehicle", s.cfg.VehicleName())

	tctx, err := s.newContext()
	if err != nil {
		return s.abort(core.NewError(core.ErrTransport, "connect", "open context", err))
	}
	s.tctx = tctx

	s.control = control.New(tctx, s.cfg.CommandAddr(), control.Options{
		SendTimeout: s.cfg.SendTimeout,
		RecvTimeout: s.cfg.RecvTimeout,
		Logger:      log,
	})
	if err := s.control.Connect(); err != nil {
		return s.abort(err)
	}

	ids, err := s.control.ListEndpoints(VehicleTag)
	if err != nil {
		return s.abort(fmt.Errorf("unable to get endpoint list: %w", err))
	}
	endpoint, ok := SelectEndpoint(ids, s.cfg.VehicleName())
	if !ok {
		return s.abort(core.NewError(core.ErrNoMatch, "connect",
			fmt.Sprintf("no %s endpoint matches %q among [%s]", VehicleTag, s.cfg.VehicleName(), strings.Join(ids, ", ")), nil))
	}
	log.Info("Vehicle selected", "endpoint", endpoint, "candidates", len(ids))

	world := s.resolveGeoReference(log)

	s.telemetry = telemetry.New(tctx, s.cfg.TelemetryAddr(), telemetry.Options{
		Linger: s.cfg.Linger,
		Logger: log,
	})
	if err := s.telemetry.Connect(); err != nil {
		return s.abort(err)
	}
	s.telemetry.AddFilter(endpoint)

	s.mu.Lock()
	s.endpoint = endpoint
	s.world = world
	s.mu.Unlock()

	if err := s.loadVehicleInfo(endpoint, log); err != nil {
		if s.cfg.RequireMetadata {
			return s.abort(err)
		}
		s.mu.Lock()
		s.state = Connected
		s.mu.Unlock()
		log.Warn("Connected without vehicle metadata", "error", err)
		return s.fail(err)
	}

	s.mu.Lock()
	s.state = Connected
	s.lastErr = ""
	s.mu.Unlock()
	log.Info("Connected", "endpoint", endpoint, "geoReference", world.Valid)
	return nil
}

func (s *Session) loadVehicleInfo(endpoint string, log *slog.Logger) error {
	meta, err := s.control.ActorMetadata(endpoint)
	if err != nil {
		return core.NewError(core.ErrMetadataUnavailable, "connect", "fetch metadata of "+endpoint, err)
	}

	s.mu.Lock()
	info := s.info.Clone()
	s.mu.Unlock()

	info.Name = endpoint
	frames, err := wire.DecodeVehicleMeta(meta, &info)
	if err != nil {
		return core.NewError(core.ErrMetadataUnavailable, "connect", "decode metadata of "+endpoint, err)
	}
	for _, f := range frames {
		log.Debug("Found transform", "frame", f)
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return nil
}

// resolveGeoReference never fails the handshake; problems are logged and
// leave the world info invalid.
func (s *Session) resolveGeoReference(log *slog.Logger) core.WorldInfo {
	ids, err := s.control.ListEndpoints(GeoReferenceTag)
	if err != nil {
		log.Warn("GeoReference lookup failed", "error", err)
		return core.WorldInfo{}
	}
	if len(ids) == 0 {
		log.Debug("No GeoReference actor")
		return core.WorldInfo{}
	}
	if len(ids) > 1 {
		log.Warn("Multiple GeoReference actors, using the first", "endpoints", ids)
	}

	meta, err := s.control.ActorMetadata(ids[0])
	if err != nil {
		log.Warn("GeoReference metadata unavailable", "endpoint", ids[0], "error", err)
		return core.WorldInfo{}
	}
	world, err := wire.DecodeGeoReference(meta)
	if err != nil {
		log.Warn("GeoReference metadata malformed", "endpoint", ids[0], "error", err)
		return core.WorldInfo{}
	}
	if !world.Valid {
		log.Warn("GeoReference metadata incomplete", "endpoint", ids[0])
	}
	return world
}

// Poll waits up to timeout for telemetry. BlockForever waits indefinitely.
func (s *Session) Poll(timeout time.Duration) (bool, error) {
	_, ready, err := s.poll(timeout)
	if err != nil {
		return false, s.fail(err)
	}
	s.ok()
	return ready, nil
}

// poll returns the channel it polled so the caller reads from the same one.
func (s *Session) poll(timeout time.Duration) (*telemetry.Channel, bool, error) {
	tel, err := s.connectedTelemetry("poll")
	if err != nil {
		return nil, false, err
	}
	ready, err := tel.PollReadable(timeout)
	if err != nil {
		return nil, false, err
	}
	return tel, ready, nil
}

// ReceiveStatus waits up to timeout for one telemetry message and applies it
// to st. It returns false without error on timeout and for messages from
// other actors.
func (s *Session) ReceiveStatus(st *core.VehicleStatus, timeout time.Duration) (bool, error) {
	tel, ready, err := s.poll(timeout)
	if err != nil {
		return false, s.fail(err)
	}
	if !ready {
		s.ok()
		return false, nil
	}

	report, err := tel.ReceiveOne()
	if err != nil {
		if errors.Is(err, core.ErrProtocol) {
			s.metrics.frame("invalid")
		}
		return false, s.fail(err)
	}
	if report == nil {
		s.metrics.frame("filtered")
		s.ok()
		return false, nil
	}

	frame, err := wire.DecodeFrame(report)
	if err == nil && (frame.Time == nil || !frame.HasData) {
		err = core.NewError(core.ErrProtocol, "receive status", "report without Time or Data", nil)
	}
	if err != nil {
		s.metrics.frame("invalid")
		return false, s.fail(err)
	}

	frame.Apply(st)
	s.metrics.frame("accepted")
	s.ok()
	return true, nil
}

// SetRPM commands both wheel speeds.
func (s *Session) SetRPM(left, right float64) error {
	body, err := wire.EncodeRPM(left, right)
	if err != nil {
		return s.fail(err)
	}
	return s.command("RPM", body)
}

// SetVW commands forward speed v (m/s) and yaw rate w (rad/s).
func (s *Session) SetVW(v, w float64) error {
	body, err := wire.EncodeVW(v, w)
	if err != nil {
		return s.fail(err)
	}
	return s.command("VW", body)
}

// SetVelocityComponents commands forward and left speed (m/s) and yaw rate
// w (rad/s).
func (s *Session) SetVelocityComponents(forward, left, w float64) error {
	body, err := wire.EncodeFLW(forward, left, w)
	if err != nil {
		return s.fail(err)
	}
	return s.command("FLW", body)
}

func (s *Session) command(cmdType string, body []byte) error {
	ctl, endpoint, err := s.connectedControl("command")
	if err != nil {
		return s.fail(err)
	}
	start := time.Now()
	_, err = ctl.SendActorMessage(endpoint, body)
	s.metrics.command(cmdType, time.Since(start), err)
	if err != nil {
		return s.fail(fmt.Errorf("failed to send %s command to %s: %w", cmdType, endpoint, err))
	}
	s.ok()
	return nil
}

// ExecConsole runs a console command on the server.
func (s *Session) ExecConsole(cmd string) (string, error) {
	ctl, _, err := s.connectedControl("console")
	if err != nil {
		return "", s.fail(err)
	}
	out, err := ctl.ExecConsoleCommand(cmd)
	if err != nil {
		return "", s.fail(err)
	}
	s.ok()
	return out, nil
}

// ListEndpoints lists the endpoints carrying tag.
func (s *Session) ListEndpoints(tag string) ([]string, error) {
	ctl, _, err := s.connectedControl("list endpoints")
	if err != nil {
		return nil, s.fail(err)
	}
	ids, err := ctl.ListEndpoints(tag)
	if err != nil {
		return nil, s.fail(err)
	}
	s.ok()
	return ids, nil
}

// ActorMetadata fetches the raw metadata of any endpoint.
func (s *Session) ActorMetadata(endpoint string) (map[string]any, error) {
	ctl, _, err := s.connectedControl("actor metadata")
	if err != nil {
		return nil, s.fail(err)
	}
	meta, err := ctl.ActorMetadata(endpoint)
	if err != nil {
		return nil, s.fail(err)
	}
	s.ok()
	return meta, nil
}

// Close releases every resource and returns to Disconnected with the vehicle
// and world info reset.
func (s *Session) Close() error {
	errs := s.teardown()
	s.logger.Debug("Session closed", "session", s.id)
	return errors.Join(errs...)
}

func (s *Session) connectedControl(op string) (*control.Channel, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.control == nil {
		return nil, "", fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	return s.control, s.endpoint, nil
}

func (s *Session) connectedTelemetry(op string) (*telemetry.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.telemetry == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	return s.telemetry, nil
}

// abort tears everything down after a failed handshake step.
func (s *Session) abort(err error) error {
	s.teardown()
	s.logger.Error("Connect failed", "session", s.id, "error", err)
	return s.fail(err)
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	return err
}

func (s *Session) ok() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Session) teardown() []error {
	var errs []error
	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			errs = append(errs, err)
		}
		s.telemetry = nil
	}
	if s.control != nil {
		if err := s.control.Close(); err != nil {
			errs = append(errs, err)
		}
		s.control = nil
	}
	if s.tctx != nil {
		if err := s.tctx.Close(); err != nil {
			errs = append(errs, core.NewError(core.ErrTransport, "close", "context", err))
		}
		s.tctx = nil
	}

	s.mu.Lock()
	s.state = Disconnected
	s.endpoint = ""
	s.info = s.freshInfo()
	s.world = core.WorldInfo{}
	s.mu.Unlock()
	return errs
}

func (s *Session) freshInfo() core.VehicleInfo {
	info := core.VehicleInfo{Transforms: make(map[string]core.Transform, len(s.defaults))}
	for k, v := range s.defaults {
		info.Transforms[k] = v
	}
	return info
}
