package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
peer:
  namespace: room1
  name: alice
  port: 7001
rendezvous:
  host: rendezvous.local
  port: 9000
connection:
  ping_interval: 15
  ack_timeout: 5
  discovery_interval: 20
  max_reconnect_attempts: 3
  reconnect_backoff_base: 2
  reconnect_backoff_max: 30
logging:
  level: debug
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "alice@room1", cfg.Peer.PeerID())
	require.Equal(t, 15, cfg.Connection.PingIntervalSec)
	require.Equal(t, 3, cfg.Connection.MaxReconnectAttempts)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
peer:
  namespace: room1
  name: alice
  port: 7001
rendezvous:
  host: rendezvous.local
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DefaultPingIntervalSec, cfg.Connection.PingIntervalSec)
	require.Equal(t, DefaultMaxReconnectAttempts, cfg.Connection.MaxReconnectAttempts)
}

func TestLoadRejectsBadPeerID(t *testing.T) {
	path := writeTempConfig(t, `
peer:
  namespace: "ro@om1"
  name: alice
  port: 7001
rendezvous:
  host: rendezvous.local
  port: 9000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
