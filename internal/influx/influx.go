// Package influx reports session traffic counters to InfluxDB.
package influx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/cage-sim/cageclient/internal/queue"
	"github.com/cage-sim/cageclient/pkg/cage"
)

// Measurement is the name of every point written.
const Measurement = "cage_session"

const (
	defaultInterval = 5 * time.Second
	maxPending      = 4096
)

// ErrNotConnected is returned by Flush before a successful Connect.
var ErrNotConnected = errors.New("influx reporter not connected")

// Config holds the InfluxDB connection settings.
type Config struct {
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
	Interval time.Duration
}

// ServerURL joins protocol, host and port.
func (c Config) ServerURL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// Sample is one observation of a running session.
type Sample struct {
	Time      time.Time
	SessionID string
	Endpoint  string
	SimClock  float64
	Distance  float64 // odometer, meters
	Stats     cage.Stats
}

// Point converts a sample into an InfluxDB point.
func (s Sample) Point() *influxdb2_write.Point {
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"session":  s.SessionID,
			"endpoint": s.Endpoint,
		},
		map[string]any{
			"sim_clock":          s.SimClock,
			"distance":           s.Distance,
			"frames_received":    s.Stats.FramesReceived,
			"frames_filtered":    s.Stats.FramesFiltered,
			"decode_errors":      s.Stats.DecodeErrors,
			"commands_sent":      s.Stats.CommandsSent,
			"command_errors":     s.Stats.CommandErrors,
			"command_latency_ms": float64(s.Stats.LastCommandLatency) / float64(time.Millisecond),
		},
		s.Time)
}

// Reporter buffers samples and writes them in batches. Samples recorded
// while the server is unreachable are kept up to a limit, newest first.
type Reporter struct {
	cfg     Config
	Logger  zerolog.Logger
	pending *queue.Queue[Sample]

	mu     sync.Mutex
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
}

// NewReporter creates a reporter. It does not connect until Connect.
func NewReporter(log zerolog.Logger, cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Reporter{
		cfg:     cfg,
		Logger:  log,
		pending: queue.NewBounded[Sample](maxPending),
	}
}

// Connect creates the client and checks that the server answers.
func (r *Reporter) Connect(ctx context.Context) error {
	client := influxdb2.NewClientWithOptions(
		r.cfg.ServerURL(),
		r.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(uint(r.cfg.Interval/time.Millisecond)),
	)

	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		if err == nil {
			err = errors.New("server not ready")
		}
		return fmt.Errorf("influx ping %s: %w", r.cfg.ServerURL(), err)
	}

	writer := client.WriteAPI(r.cfg.Org, r.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			r.Logger.Error().Err(writeErr).Str("bucket", r.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(writer.Errors())

	r.mu.Lock()
	r.client, r.writer = client, writer
	r.mu.Unlock()

	r.Logger.Info().Str("url", r.cfg.ServerURL()).Str("bucket", r.cfg.Bucket).
		Msg("InfluxDB reporter connected")
	return nil
}

// Record queues a sample for the next flush.
func (r *Reporter) Record(s Sample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	r.pending.Push(s)
}

// Pending returns the number of queued samples.
func (r *Reporter) Pending() int {
	return r.pending.Len()
}

// Flush hands every queued sample to the write API.
func (r *Reporter) Flush() error {
	r.mu.Lock()
	writer := r.writer
	r.mu.Unlock()
	if writer == nil {
		return ErrNotConnected
	}

	if n := r.pending.Dropped(); n > 0 {
		r.Logger.Warn().Int("dropped", n).Msg("InfluxDB samples dropped while queued")
	}
	samples := r.pending.Drain()
	for _, s := range samples {
		writer.WritePoint(s.Point())
	}
	writer.Flush()
	r.Logger.Trace().Int("points", len(samples)).Msg("InfluxDB flush")
	return nil
}

// Run flushes at the configured interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.Logger.Debug().Err(err).Msg("InfluxDB flush skipped")
			}
		}
	}
}

// Close flushes what is left and closes the client.
func (r *Reporter) Close() {
	if err := r.Flush(); err != nil && !errors.Is(err, ErrNotConnected) {
		r.Logger.Warn().Err(err).Msg("InfluxDB final flush failed")
	}
	r.mu.Lock()
	client := r.client
	r.client, r.writer = nil, nil
	r.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
