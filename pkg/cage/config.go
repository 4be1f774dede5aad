package cage

import (
	"fmt"
	"strings"
	"time"

	"github.com/cage-sim/cageclient/internal/transport"
	"github.com/cage-sim/cageclient/pkg/core"
)

// Default server ports.
const (
	DefaultCommandPort   = 54323
	DefaultTelemetryPort = 54321
)

// Endpoint tags used during discovery.
const (
	VehicleTag      = "Vehicle"
	GeoReferenceTag = "GeoReference"
)

// Config describes which server and vehicle a Session talks to.
type Config struct {
	// Server is "host" or "host/vehicle".
	Server string
	// Vehicle overrides the vehicle part of Server. Empty selects the first
	// vehicle the server lists.
	Vehicle string

	CommandPort   int
	TelemetryPort int

	// SendTimeout and RecvTimeout bound each command request.
	SendTimeout time.Duration
	RecvTimeout time.Duration
	Linger      time.Duration

	// RequireMetadata makes Connect fail and tear down when the vehicle's
	// metadata cannot be fetched. Otherwise the session stays connected and
	// Connect reports core.ErrMetadataUnavailable.
	RequireMetadata bool
}

// ParsePeer splits "host/vehicle" at its last slash.
func ParsePeer(peer string) (host, vehicle string) {
	i := strings.LastIndex(peer, "/")
	if i < 0 {
		return peer, ""
	}
	return peer[:i], peer[i+1:]
}

func (c Config) withDefaults() Config {
	if c.CommandPort == 0 {
		c.CommandPort = DefaultCommandPort
	}
	if c.TelemetryPort == 0 {
		c.TelemetryPort = DefaultTelemetryPort
	}
	return c
}

// Validate checks the configuration without contacting the server.
func (c Config) Validate() error {
	host, _ := ParsePeer(c.Server)
	if host == "" {
		return core.NewError(core.ErrConfig, "config", "server host is empty", nil)
	}
	for name, port := range map[string]int{"command": c.CommandPort, "telemetry": c.TelemetryPort} {
		if port < 0 || port > 65535 {
			return core.NewError(core.ErrConfig, "config", fmt.Sprintf("invalid %s port %d", name, port), nil)
		}
	}
	if c.SendTimeout < 0 || c.RecvTimeout < 0 || c.Linger < 0 {
		return core.NewError(core.ErrConfig, "config", "timeouts must not be negative", nil)
	}
	return nil
}

// Host returns the server host.
func (c Config) Host() string {
	host, _ := ParsePeer(c.Server)
	return host
}

// VehicleName returns the name used to select the vehicle endpoint.
func (c Config) VehicleName() string {
	if c.Vehicle != "" {
		return c.Vehicle
	}
	_, vehicle := ParsePeer(c.Server)
	return vehicle
}

// CommandAddr returns the command endpoint address.
func (c Config) CommandAddr() string {
	return transport.Address(c.Host(), c.withDefaults().CommandPort)
}

// TelemetryAddr returns the telemetry endpoint address.
func (c Config) TelemetryAddr() string {
	return transport.Address(c.Host(), c.withDefaults().TelemetryPort)
}

// SelectEndpoint returns the first id containing name, or the first id when
// name is empty.
func SelectEndpoint(ids []string, name string) (string, bool) {
	for _, id := range ids {
		if strings.Contains(id, name) {
			return id, true
		}
	}
	return "", false
}
