package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "cagectl.cfg.json"

// SessionConfig holds the simulator connection settings.
type SessionConfig struct {
	Server          string        `json:"server" mapstructure:"server"`
	Vehicle         string        `json:"vehicle" mapstructure:"vehicle"`
	CommandPort     int           `json:"commandPort" mapstructure:"commandPort"`
	TelemetryPort   int           `json:"telemetryPort" mapstructure:"telemetryPort"`
	SendTimeout     time.Duration `json:"sendTimeout" mapstructure:"sendTimeout"`
	RecvTimeout     time.Duration `json:"recvTimeout" mapstructure:"recvTimeout"`
	Linger          time.Duration `json:"linger" mapstructure:"linger"`
	PollTimeout     time.Duration `json:"pollTimeout" mapstructure:"pollTimeout"`
	RequireMetadata bool          `json:"requireMetadata" mapstructure:"requireMetadata"`
}

// RelayConfig holds the live status relay settings.
type RelayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// InfluxConfig holds the session metrics sink settings.
type InfluxConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Protocol string        `json:"protocol" mapstructure:"protocol"`
	Host     string        `json:"host" mapstructure:"host"`
	Port     string        `json:"port" mapstructure:"port"`
	Token    string        `json:"token" mapstructure:"token"`
	Org      string        `json:"org" mapstructure:"org"`
	Bucket   string        `json:"bucket" mapstructure:"bucket"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// GraylogConfig holds the GELF log sink settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds the OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "")

	viper.SetDefault("session.server", "localhost")
	viper.SetDefault("session.vehicle", "")
	viper.SetDefault("session.commandPort", 54323)
	viper.SetDefault("session.telemetryPort", 54321)
	viper.SetDefault("session.sendTimeout", "1s")
	viper.SetDefault("session.recvTimeout", "1s")
	viper.SetDefault("session.linger", "0s")
	viper.SetDefault("session.pollTimeout", "1s")
	viper.SetDefault("session.requireMetadata", false)

	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("relay.secret", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "cage-metrics")
	viper.SetDefault("influx.bucket", "cage_sessions")
	viper.SetDefault("influx.interval", "5s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "cagectl")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)
}

// Load sets defaults and reads the JSON config file from configDir.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// BindFlags maps command line flags onto config keys. Flags that were set
// take precedence over the file.
func BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %q: %w", flag, err)
		}
	}
	return nil
}

// GetSessionConfig returns the session section. Keys are read one by one so
// that bound flags are honored.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		Server:          viper.GetString("session.server"),
		Vehicle:         viper.GetString("session.vehicle"),
		CommandPort:     viper.GetInt("session.commandPort"),
		TelemetryPort:   viper.GetInt("session.telemetryPort"),
		SendTimeout:     viper.GetDuration("session.sendTimeout"),
		RecvTimeout:     viper.GetDuration("session.recvTimeout"),
		Linger:          viper.GetDuration("session.linger"),
		PollTimeout:     viper.GetDuration("session.pollTimeout"),
		RequireMetadata: viper.GetBool("session.requireMetadata"),
	}
}

// GetRelayConfig returns the relay section.
func GetRelayConfig() (RelayConfig, error) {
	var c RelayConfig
	if err := viper.UnmarshalKey("relay", &c); err != nil {
		return RelayConfig{}, fmt.Errorf("relay config: %w", err)
	}
	return c, nil
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() (InfluxConfig, error) {
	var c InfluxConfig
	if err := viper.UnmarshalKey("influx", &c); err != nil {
		return InfluxConfig{}, fmt.Errorf("influx config: %w", err)
	}
	return c, nil
}

// GetGraylogConfig returns the graylog section.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}
