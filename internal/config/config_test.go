package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"session": { "server": "10.0.0.1/Rover", "recvTimeout": "250ms", "requireMetadata": true },
		"influx": { "enabled": true, "bucket": "bench", "interval": "2s" }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))

	s := GetSessionConfig()
	assert.Equal(t, "10.0.0.1/Rover", s.Server)
	assert.Equal(t, 250*time.Millisecond, s.RecvTimeout)
	assert.Equal(t, time.Second, s.SendTimeout)
	assert.True(t, s.RequireMetadata)
	assert.Equal(t, 54323, s.CommandPort)

	in, err := GetInfluxConfig()
	require.NoError(t, err)
	assert.True(t, in.Enabled)
	assert.Equal(t, "bench", in.Bucket)
	assert.Equal(t, 2*time.Second, in.Interval)
	assert.Equal(t, "cage-metrics", in.Org)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	s := GetSessionConfig()
	assert.Equal(t, SessionConfig{
		Server:        "localhost",
		CommandPort:   54323,
		TelemetryPort: 54321,
		SendTimeout:   time.Second,
		RecvTimeout:   time.Second,
		PollTimeout:   time.Second,
	}, s)

	r, err := GetRelayConfig()
	require.NoError(t, err)
	assert.False(t, r.Enabled)
	assert.Equal(t, "ws://localhost:5000/api/v1/stream", r.URL)

	assert.Equal(t, GraylogConfig{Address: "localhost:12201"}, GetGraylogConfig())

	o := GetOTelConfig()
	assert.False(t, o.Enabled)
	assert.Equal(t, "cagectl", o.ServiceName)
	assert.Equal(t, 5*time.Second, o.BatchTimeout)

	assert.Equal(t, "info", GetString("logLevel"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	// Defaults are still registered.
	assert.Equal(t, "localhost", GetSessionConfig().Server)
}

func TestBindFlags(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server", "", "")
	flags.String("vehicle", "", "")
	require.NoError(t, flags.Parse([]string{"--server", "sim/Rover_C_1"}))

	require.NoError(t, BindFlags(flags, map[string]string{
		"server":  "session.server",
		"vehicle": "session.vehicle",
	}))

	s := GetSessionConfig()
	assert.Equal(t, "sim/Rover_C_1", s.Server)
	assert.Equal(t, "", s.Vehicle)

	assert.Error(t, BindFlags(flags, map[string]string{"nope": "x"}))
}
