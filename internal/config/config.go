package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Home     string         `yaml:"home"`
	Port     PortConfig     `yaml:"port"`
	Watch    WatchConfig    `yaml:"watch"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Relay    RelayConfig    `yaml:"relay"`
	Status   StatusConfig   `yaml:"status"`
}

type PortConfig struct {
	// Prefix names the virtual MIDI ports: <prefix>_in and <prefix>_out.
	Prefix string `yaml:"prefix"`
}

type WatchConfig struct {
	// Debounce coalesces bursts of write events to the same path.
	// Editors typically emit several notifications per save.
	Debounce time.Duration `yaml:"debounce"`
}

type DispatchConfig struct {
	// PollInterval is the sleep between dispatcher iterations. It bounds
	// CPU usage and sets the worst-case added MIDI latency.
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RelayConfig struct {
	// QueueSize bounds the inbound MIDI queue; overflow drops oldest.
	QueueSize int `yaml:"queue_size"`
}

type StatusConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Token             string        `yaml:"token"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
}

func defaultConfig() *Config {
	return &Config{
		Port: PortConfig{
			Prefix: "mep",
		},
		Watch: WatchConfig{
			Debounce: 100 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			PollInterval: time.Millisecond,
		},
		Relay: RelayConfig{
			QueueSize: 128,
		},
		Status: StatusConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              8532,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			SampleInterval:    2 * time.Second,
		},
	}
}

// Load reads the YAML config at path over the defaults. A missing file
// is not an error, since mep runs fine without any configuration; an
// unreadable or malformed one is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultPath returns the conventional config location
// (~/.config/mep/config.yaml or the platform equivalent). Empty when
// the user config dir cannot be resolved.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mep", "config.yaml")
}

// HomeDir resolves the scripts directory: the configured override when
// set, otherwise ~/.mep. The result is always absolute, because the
// watcher and the catalog compare script paths by string equality.
// Failing to resolve the user home is fatal for the caller, since
// without it there is nowhere to read scripts from.
func (c *Config) HomeDir() (string, error) {
	if c.Home != "" {
		abs, err := filepath.Abs(c.Home)
		if err != nil {
			return "", fmt.Errorf("resolve scripts dir %s: %w", c.Home, err)
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mep"), nil
}

// InputPortName returns the virtual input port name for the configured
// prefix.
func (c *Config) InputPortName() string {
	return c.prefix() + "_in"
}

// OutputPortName returns the virtual output port name for the
// configured prefix.
func (c *Config) OutputPortName() string {
	return c.prefix() + "_out"
}

func (c *Config) prefix() string {
	if c.Port.Prefix != "" {
		return c.Port.Prefix
	}
	return "mep"
}
