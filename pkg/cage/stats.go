package cage

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/cage-sim/cageclient/pkg/cage"

// Stats is a snapshot of a session's traffic counters.
type Stats struct {
	FramesReceived     int64
	FramesFiltered     int64
	DecodeErrors       int64
	CommandsSent       int64
	CommandErrors      int64
	LastCommandLatency time.Duration
}

type sessionMetrics struct {
	framesReceived atomic.Int64
	framesFiltered atomic.Int64
	decodeErrors   atomic.Int64
	commandsSent   atomic.Int64
	commandErrors  atomic.Int64
	lastLatency    atomic.Int64

	frames   metric.Int64Counter
	commands metric.Int64Counter
	latency  metric.Float64Histogram
}

// newSessionMetrics uses the global meter, a no-op unless a provider is set.
func newSessionMetrics() *sessionMetrics {
	m := otel.Meter(instrumentationName)
	s := &sessionMetrics{}

	var err error
	if s.frames, err = m.Int64Counter("cage.telemetry.frames",
		metric.WithDescription("Telemetry frames received, by outcome")); err != nil {
		otel.Handle(err)
	}
	if s.commands, err = m.Int64Counter("cage.commands",
		metric.WithDescription("Actor commands sent, by type and outcome")); err != nil {
		otel.Handle(err)
	}
	if s.latency, err = m.Float64Histogram("cage.command.latency",
		metric.WithDescription("Actor command round trip"),
		metric.WithUnit("ms")); err != nil {
		otel.Handle(err)
	}
	return s
}

func (s *sessionMetrics) frame(outcome string) {
	switch outcome {
	case "accepted":
		s.framesReceived.Add(1)
	case "filtered":
		s.framesFiltered.Add(1)
	case "invalid":
		s.decodeErrors.Add(1)
	}
	if s.frames != nil {
		s.frames.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (s *sessionMetrics) command(cmdType string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.commandErrors.Add(1)
	} else {
		s.commandsSent.Add(1)
		s.lastLatency.Store(int64(d))
	}
	attrs := metric.WithAttributes(attribute.String("type", cmdType), attribute.String("outcome", outcome))
	if s.commands != nil {
		s.commands.Add(context.Background(), 1, attrs)
	}
	if s.latency != nil && err == nil {
		s.latency.Record(context.Background(), float64(d)/float64(time.Millisecond), attrs)
	}
}

func (s *sessionMetrics) snapshot() Stats {
	return Stats{
		FramesReceived:     s.framesReceived.Load(),
		FramesFiltered:     s.framesFiltered.Load(),
		DecodeErrors:       s.decodeErrors.Load(),
		CommandsSent:       s.commandsSent.Load(),
		CommandErrors:      s.commandErrors.Load(),
		LastCommandLatency: time.Duration(s.lastLatency.Load()),
	}
}
