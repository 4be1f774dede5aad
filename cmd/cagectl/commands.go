package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/cage-sim/cageclient/internal/config"
	"github.com/cage-sim/cageclient/internal/control"
	"github.com/cage-sim/cageclient/internal/influx"
	"github.com/cage-sim/cageclient/internal/relay"
	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/pkg/cage"
	"github.com/cage-sim/cageclient/pkg/core"
)

// sessionConfig maps the session config section onto a cage.Config.
func sessionConfig(sc config.SessionConfig) cage.Config {
	return cage.Config{
		Server:          sc.Server,
		Vehicle:         sc.Vehicle,
		CommandPort:     sc.CommandPort,
		TelemetryPort:   sc.TelemetryPort,
		SendTimeout:     sc.SendTimeout,
		RecvTimeout:     sc.RecvTimeout,
		Linger:          sc.Linger,
		RequireMetadata: sc.RequireMetadata,
	}
}

// pollTimeout falls back to one second for unset or invalid values.
func pollTimeout(sc config.SessionConfig) time.Duration {
	if sc.PollTimeout <= 0 {
		return time.Second
	}
	return sc.PollTimeout
}

// withControl runs fn against a bare control channel. Console and discovery
// commands need no vehicle.
func withControl(fn func(*control.Channel) error) error {
	cfg := sessionConfig(config.GetSessionConfig())
	if err := cfg.Validate(); err != nil {
		return err
	}

	tctx, err := transport.NewZMQContext()
	if err != nil {
		return err
	}
	defer tctx.Close()

	ch := control.New(tctx, cfg.CommandAddr(), control.Options{
		SendTimeout: cfg.SendTimeout,
		RecvTimeout: cfg.RecvTimeout,
		Logger:      Logger,
	})
	if err := ch.Connect(); err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}

func consoleCommand(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("console: missing command")
	}
	return withControl(func(ch *control.Channel) error {
		result, err := ch.ExecConsoleCommand(strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result)
		return nil
	})
}

func endpointsCommand(args []string, out io.Writer) error {
	tag := cage.VehicleTag
	if len(args) > 0 {
		tag = args[0]
	}
	return withControl(func(ch *control.Channel) error {
		ids, err := ch.ListEndpoints(tag)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	})
}

func metaCommand(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("meta: missing endpoint")
	}
	return withControl(func(ch *control.Channel) error {
		meta, err := ch.ActorMetadata(args[0])
		if err != nil {
			return err
		}
		return printJSON(out, meta)
	})
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// connectSession opens a session from config. A missing vehicle metadata
// only fails when requireInfo is set.
func connectSession(requireInfo bool) (*cage.Session, error) {
	s := cage.New(sessionConfig(config.GetSessionConfig()), cage.WithLogger(Logger))
	activeSession.Store(s)

	err := s.Connect()
	switch {
	case err == nil:
	case errors.Is(err, core.ErrMetadataUnavailable) && !requireInfo:
		Logger.Warn("Continuing without vehicle metadata", "error", err)
	default:
		_ = s.Close()
		activeSession.Store(nil)
		return nil, err
	}
	return s, nil
}

func closeSession(s *cage.Session) {
	if err := s.Close(); err != nil {
		Logger.Warn("Session close", "error", err)
	}
	activeSession.Store(nil)
}

func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func startRelay(s *cage.Session) (*relay.Relay, error) {
	rc, err := config.GetRelayConfig()
	if err != nil {
		return nil, err
	}
	r := relay.New(relay.Config{URL: rc.URL, Secret: rc.Secret}, Logger)
	if err := r.Init(); err != nil {
		return nil, err
	}
	if err := r.StartSession(s.ID(), s.Endpoint(), s.VehicleInfo(), s.WorldInfo()); err != nil {
		_ = r.Close()
		return nil, err
	}
	Logger.Info("Relay session started", "url", rc.URL)
	return r, nil
}

func startInflux(ctx context.Context) (*influx.Reporter, error) {
	ic, err := config.GetInfluxConfig()
	if err != nil {
		return nil, err
	}
	rep := influx.NewReporter(influxLogger(), influx.Config{
		Protocol: ic.Protocol,
		Host:     ic.Host,
		Port:     ic.Port,
		Token:    ic.Token,
		Org:      ic.Org,
		Bucket:   ic.Bucket,
		Interval: ic.Interval,
	})
	if err := rep.Connect(ctx); err != nil {
		return nil, err
	}
	go rep.Run(ctx)
	return rep, nil
}

func watchCommand(opts options, out io.Writer) error {
	s, err := connectSession(false)
	if err != nil {
		return err
	}
	defer closeSession(s)

	ctx, cancel := signalContext(opts.duration)
	defer cancel()

	var rel *relay.Relay
	if rc, _ := config.GetRelayConfig(); opts.relay || rc.Enabled {
		if rel, err = startRelay(s); err != nil {
			Logger.Warn("Relay disabled", "error", err)
			rel = nil
		}
	}
	defer func() {
		if rel == nil {
			return
		}
		if err := rel.EndSession(); err != nil {
			Logger.Warn("Relay end_session", "error", err)
		}
		_ = rel.Close()
	}()

	var rep *influx.Reporter
	if ic, _ := config.GetInfluxConfig(); opts.influx || ic.Enabled {
		if rep, err = startInflux(ctx); err != nil {
			Logger.Warn("InfluxDB reporting disabled", "error", err)
			rep = nil
		}
	}
	defer func() {
		if rep != nil {
			rep.Close()
		}
	}()

	odo := cage.NewOdometer(s.VehicleInfo())
	timeout := pollTimeout(config.GetSessionConfig())
	var st core.VehicleStatus
	for ctx.Err() == nil {
		ok, err := s.ReceiveStatus(&st, timeout)
		if err != nil {
			if errors.Is(err, core.ErrProtocol) {
				Logger.Debug("Skipping telemetry message", "error", err)
				continue
			}
			return err
		}
		if !ok {
			continue
		}

		odo.Update(st)
		fmt.Fprintln(out, st.String())

		if rel != nil {
			if err := rel.PublishStatus(st); err != nil {
				Logger.Debug("Relay publish", "error", err)
			}
		}
		if rep != nil {
			rep.Record(influx.Sample{
				SessionID: s.ID(),
				Endpoint:  s.Endpoint(),
				SimClock:  st.SimClock,
				Distance:  odo.Distance(),
				Stats:     s.Stats(),
			})
		}
	}
	Logger.Info("Watch finished", "distance", odo.Distance(), "stats", fmt.Sprintf("%+v", s.Stats()))
	return nil
}

func driveCommand(opts options, out io.Writer) error {
	if opts.distance <= 0 || opts.speed == 0 {
		return fmt.Errorf("drive: need a positive --distance and a non-zero --speed")
	}

	s, err := connectSession(true)
	if err != nil {
		return err
	}
	defer closeSession(s)

	ctx, cancel := signalContext(0)
	defer cancel()

	if err := s.SetVW(opts.speed, 0); err != nil {
		return err
	}
	defer func() {
		if err := s.SetVW(0, 0); err != nil {
			Logger.Error("Failed to stop vehicle", "error", err)
		}
	}()

	odo := cage.NewOdometer(s.VehicleInfo())
	timeout := pollTimeout(config.GetSessionConfig())
	var st core.VehicleStatus
	for ctx.Err() == nil {
		ok, err := s.ReceiveStatus(&st, timeout)
		if err != nil {
			if errors.Is(err, core.ErrProtocol) {
				continue
			}
			return err
		}
		if !ok {
			continue
		}
		odo.Update(st)
		fmt.Fprintf(out, "%.3f\t%.3f m\n", st.SimClock, odo.Distance())
		if math.Abs(odo.Distance()) >= opts.distance {
			Logger.Info("Distance reached", "distance", odo.Distance(), "simClock", st.SimClock)
			return nil
		}
	}
	return ctx.Err()
}
