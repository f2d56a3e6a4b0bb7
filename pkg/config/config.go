// Package config provides YAML-based configuration loading for dtumesh.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root node configuration.
type Config struct {
	// AppName is the logical name of the node/application.
	AppName string `mapstructure:"app_name"`

	// NodeID pins the local node identifier; empty means a random id is
	// generated each start.
	NodeID string `mapstructure:"node_id"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Mesh holds transport-layer tunables.
	Mesh MeshConfig `mapstructure:"mesh"`

	// Providers configures the built-in channel providers.
	Providers ProvidersConfig `mapstructure:"providers"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation for file outputs
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MeshConfig holds the transport-layer tunables.
type MeshConfig struct {
	// Relay advertises willingness to store-and-forward for other nodes.
	Relay bool `mapstructure:"relay"`
	// RelayCapacity bounds the store-and-forward queue.
	RelayCapacity int `mapstructure:"relay_capacity"`
	// RelayHoldHours is how long an undeliverable packet is held.
	RelayHoldHours int `mapstructure:"relay_hold_hours"`
	// HeartbeatMS is the external tick interval for the node binary.
	HeartbeatMS int `mapstructure:"heartbeat_ms"`
	// SendTimeoutMS bounds a single provider transmission.
	SendTimeoutMS int `mapstructure:"send_timeout_ms"`
	// GossipSeed, when non-zero, makes gossip decisions reproducible.
	GossipSeed int64 `mapstructure:"gossip_seed"`
}

// ProvidersConfig configures the bundled channel providers. All other
// mediums are expected to be driven by external detectors/providers.
type ProvidersConfig struct {
	UDP UDPConfig `mapstructure:"udp"`
}

// UDPConfig configures the datagram provider backing the internet channel.
type UDPConfig struct {
	Enable bool     `mapstructure:"enable"`
	Listen string   `mapstructure:"listen"`
	Peers  []string `mapstructure:"peers"` // static peer addresses
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "dtumesh-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/dtumesh.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Mesh: MeshConfig{
			Relay:          true,
			RelayCapacity:  500,
			RelayHoldHours: 24,
			HeartbeatMS:    1000,
			SendTimeoutMS:  5000,
		},
		Providers: ProvidersConfig{
			UDP: UDPConfig{Enable: true, Listen: ":7780"},
		},
	}
}

// SendTimeout returns the per-transmission timeout as a duration.
func (m MeshConfig) SendTimeout() time.Duration {
	return time.Duration(m.SendTimeoutMS) * time.Millisecond
}

// Heartbeat returns the tick interval as a duration.
func (m MeshConfig) Heartbeat() time.Duration {
	return time.Duration(m.HeartbeatMS) * time.Millisecond
}

// RelayHold returns the relay hold time as a duration.
func (m MeshConfig) RelayHold() time.Duration {
	return time.Duration(m.RelayHoldHours) * time.Hour
}

// Load reads configuration from path (if non-empty), otherwise searches
// common locations. Environment variables use the prefix DTUMESH and
// `.`/`-` are replaced with `_`. Example: DTUMESH_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DTUMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("mesh.relay", cfg.Mesh.Relay)
	v.SetDefault("mesh.relay_capacity", cfg.Mesh.RelayCapacity)
	v.SetDefault("mesh.relay_hold_hours", cfg.Mesh.RelayHoldHours)
	v.SetDefault("mesh.heartbeat_ms", cfg.Mesh.HeartbeatMS)
	v.SetDefault("mesh.send_timeout_ms", cfg.Mesh.SendTimeoutMS)
	v.SetDefault("mesh.gossip_seed", cfg.Mesh.GossipSeed)
	v.SetDefault("providers.udp.enable", cfg.Providers.UDP.Enable)
	v.SetDefault("providers.udp.listen", cfg.Providers.UDP.Listen)
	v.SetDefault("providers.udp.peers", cfg.Providers.UDP.Peers)

	if path == "" {
		if envPath := os.Getenv("DTUMESH_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dtumesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dtumesh"))
		}
	}

	// Read config file if present; otherwise continue with defaults/env.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Mesh.RelayCapacity <= 0 {
		c.Mesh.RelayCapacity = 500
	}
	if c.Mesh.RelayHoldHours <= 0 {
		c.Mesh.RelayHoldHours = 24
	}
	if c.Mesh.HeartbeatMS <= 0 {
		c.Mesh.HeartbeatMS = 1000
	}
	if c.Mesh.SendTimeoutMS <= 0 {
		c.Mesh.SendTimeoutMS = 5000
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
