// Package config loads and validates the node's YAML configuration,
// following the nested-struct-with-yaml-tags shape of this project's
// teacher codebase (nspcc-dev/neo-go's pkg/config).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the teacher's defaulting of zero-value ServerConfig
// fields (MinPeers/MaxPeers/AttemptConnPeers) in pkg/network.
const (
	DefaultPingIntervalSec       = 30
	DefaultAckTimeoutSec         = 10
	DefaultDiscoveryIntervalSec  = 60
	DefaultMaxReconnectAttempts  = 5
	DefaultReconnectBackoffBase  = 2
	DefaultReconnectBackoffMaxS  = 60
	DefaultRegisterTTLSec        = 7200
	DefaultRendezvousDialTimeout = 10
)

// Config is the top-level configuration document.
type Config struct {
	Peer       PeerConfig       `yaml:"peer"`
	Rendezvous RendezvousConfig `yaml:"rendezvous"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggerConfig     `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// PeerConfig identifies this node: its namespace, name and listen port.
// Its PeerId is "<name>@<namespace>".
type PeerConfig struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	Port      int    `yaml:"port"`
}

// PeerID returns the "<name>@<namespace>" identity for this node.
func (p PeerConfig) PeerID() string {
	return p.Name + "@" + p.Namespace
}

// Validate checks that the peer identity is well-formed.
func (p PeerConfig) Validate() error {
	if p.Namespace == "" {
		return fmt.Errorf("peer.namespace must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("peer.name must not be empty")
	}
	if containsAt(p.Namespace) || containsAt(p.Name) {
		return fmt.Errorf("peer.namespace and peer.name must not contain '@'")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("peer.port must be in (0, 65535], got %d", p.Port)
	}
	return nil
}

func containsAt(s string) bool {
	for _, r := range s {
		if r == '@' {
			return true
		}
	}
	return false
}

// RendezvousConfig addresses the directory service.
type RendezvousConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Validate checks the rendezvous endpoint is set.
func (r RendezvousConfig) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("rendezvous.host must not be empty")
	}
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("rendezvous.port must be in (0, 65535], got %d", r.Port)
	}
	return nil
}

// ConnectionConfig tunes the keep-alive, router and reconnect subsystems.
// All durations are expressed in whole seconds in the YAML document, as
// specified.
type ConnectionConfig struct {
	PingIntervalSec        int `yaml:"ping_interval"`
	AckTimeoutSec          int `yaml:"ack_timeout"`
	DiscoveryIntervalSec   int `yaml:"discovery_interval"`
	MaxReconnectAttempts   int `yaml:"max_reconnect_attempts"`
	ReconnectBackoffBase   int `yaml:"reconnect_backoff_base"`
	ReconnectBackoffMaxSec int `yaml:"reconnect_backoff_max"`
}

// setDefaults fills zero-value fields, mirroring the teacher's
// ServerConfig defaulting.
func (c *ConnectionConfig) setDefaults() {
	if c.PingIntervalSec <= 0 {
		c.PingIntervalSec = DefaultPingIntervalSec
	}
	if c.AckTimeoutSec <= 0 {
		c.AckTimeoutSec = DefaultAckTimeoutSec
	}
	if c.DiscoveryIntervalSec <= 0 {
		c.DiscoveryIntervalSec = DefaultDiscoveryIntervalSec
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBackoffBase <= 0 {
		c.ReconnectBackoffBase = DefaultReconnectBackoffBase
	}
	if c.ReconnectBackoffMaxSec <= 0 {
		c.ReconnectBackoffMaxSec = DefaultReconnectBackoffMaxS
	}
}

// Validate checks the connection tuning knobs are sane.
func (c ConnectionConfig) Validate() error {
	if c.ReconnectBackoffBase < 1 {
		return fmt.Errorf("connection.reconnect_backoff_base must be >= 1")
	}
	if c.ReconnectBackoffMaxSec < c.ReconnectBackoffBase {
		return fmt.Errorf("connection.reconnect_backoff_max must be >= reconnect_backoff_base")
	}
	return nil
}

// PingInterval is ConnectionConfig.PingIntervalSec as a time.Duration.
func (c ConnectionConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSec) * time.Second
}

// AckTimeout is ConnectionConfig.AckTimeoutSec as a time.Duration.
func (c ConnectionConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSec) * time.Second
}

// DiscoveryInterval is ConnectionConfig.DiscoveryIntervalSec as a
// time.Duration.
func (c ConnectionConfig) DiscoveryInterval() time.Duration {
	return time.Duration(c.DiscoveryIntervalSec) * time.Second
}

// ReconnectBackoffMax is ConnectionConfig.ReconnectBackoffMaxSec as a
// time.Duration.
func (c ConnectionConfig) ReconnectBackoffMax() time.Duration {
	return time.Duration(c.ReconnectBackoffMaxSec) * time.Second
}

// LoggerConfig controls log level, encoding and destination, matching the
// teacher's pkg/config/logger.go Logger struct.
type LoggerConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Validate checks the log level parses, if set.
func (l LoggerConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: invalid value %q", l.Level)
	}
}

// MetricsConfig controls the optional Prometheus exporter. Port 0 disables
// it; this is supplemental ambient observability, not part of the core
// spec's data model.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses the YAML configuration file at path, applies
// defaults, and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Connection.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate runs every sub-config's Validate in turn, matching the
// teacher's composition of Logger.Validate() into the top-level config
// check.
func (c Config) Validate() error {
	if err := c.Peer.Validate(); err != nil {
		return err
	}
	if err := c.Rendezvous.Validate(); err != nil {
		return err
	}
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}
