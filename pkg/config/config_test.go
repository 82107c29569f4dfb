package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "127.0.0.1:8192", cfg.Address())
}

func TestParseFull(t *testing.T) {
	data := []byte(`
host: 10.0.0.5
port: 9000
network: udp
reliable: true
mux: mux
destinations:
  - path: Core
    id: 0
  - path: Channel[0]
    id: 1
poll:
  enabled: true
  interval: 250ms
  paths: [Core/Version]
request:
  timeout: 1s
  maxAttempts: 5
reconnect:
  initial: 50ms
  max: 5s
session:
  window: 8
  retransmitTimeout: 20ms
protocolLog: /tmp/regbus.rlog
protocolLogMaxSize: 1048576
metricsAddr: ":9102"
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5:9000", cfg.Address())
	assert.True(t, cfg.Reliable)
	assert.Equal(t, MuxDestinations, cfg.Mux)
	assert.Equal(t, []Destination{{Path: "Core", ID: 0}, {Path: "Channel[0]", ID: 1}}, cfg.Destinations)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, []string{"Core/Version"}, cfg.Poll.Paths)
	assert.Equal(t, time.Second, cfg.Request.Timeout)
	assert.Equal(t, 5, cfg.Request.MaxAttempts)
	assert.Equal(t, 32, cfg.Request.MaxInFlight, "untouched keys keep defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.Reconnect.Initial)
	assert.Equal(t, uint16(8), cfg.Session.Window)
	assert.Equal(t, 20*time.Millisecond, cfg.Session.RetransmitTimeout)
	assert.Equal(t, uint16(1400), cfg.Session.MaxSegmentSize)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, int64(1<<20), cfg.ProtocolLogMaxSize)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "hots: x"},
		{"bad port", "port: 70000"},
		{"bad network", "network: sctp"},
		{"reliable over tcp", "network: tcp\nreliable: true"},
		{"mux without destinations", "mux: mux"},
		{"destinations without mux", "destinations: [{path: Core, id: 1}]"},
		{"path bound twice", "mux: mux\ndestinations: [{path: Core, id: 1}, {path: Core, id: 2}]"},
		{"bad mux", "mux: many"},
		{"zero poll interval", "poll: {enabled: true, interval: 0s}"},
		{"negative attempts", "request: {maxAttempts: -1}"},
		{"negative capture size", "protocolLogMaxSize: -1"},
		{"not yaml", "host: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestSimulateNeedsNoHost(t *testing.T) {
	cfg, err := Parse([]byte("simulate: true\nhost: \"\"\nport: 0"))
	require.NoError(t, err)
	assert.True(t, cfg.Simulate)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 1234\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)

	require.NoError(t, os.WriteFile(path, []byte("port: -1\n"), 0o600))
	_, err = Load(path)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, path, le.File)
	assert.Contains(t, err.Error(), "port -1 out of range")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
