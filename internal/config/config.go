// Package config loads the service configuration from a yaml file,
// filling defaults for anything left unspecified.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like
// "250ms" or "1s". Bare integers are taken as milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration converts to the standard library type.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tracker TrackerConfig `yaml:"tracker"`
	Gateway GatewayConfig `yaml:"gateway"`
	Queue   QueueConfig   `yaml:"queue"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TrackerConfig struct {
	// DebounceDelay is the quiescence window for per-guild churn. Zero
	// degenerates to immediate per-call flushing.
	DebounceDelay     Duration `yaml:"debounce_delay"`
	BroadcastThrottle Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  Duration `yaml:"snapshot_interval"`
}

type GatewayConfig struct {
	URL               string   `yaml:"url"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ReconnectMin      Duration `yaml:"reconnect_min"`
	ReconnectMax      Duration `yaml:"reconnect_max"`
}

type QueueConfig struct {
	NSQDAddr           string   `yaml:"nsqd_addr"`
	LookupdHTTPAddr    string   `yaml:"lookupd_http_addr"`
	Topic              string   `yaml:"topic"`
	Channel            string   `yaml:"channel"`
	StatusPollInterval Duration `yaml:"status_poll_interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Tracker: TrackerConfig{
			DebounceDelay:     Duration(2 * time.Second),
			BroadcastThrottle: Duration(100 * time.Millisecond),
			SnapshotInterval:  Duration(5 * time.Second),
		},
		Gateway: GatewayConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			ReconnectMin:      Duration(time.Second),
			ReconnectMax:      Duration(30 * time.Second),
		},
		Queue: QueueConfig{
			Topic:              "guild-events",
			Channel:            "uptime-tracker",
			StatusPollInterval: Duration(time.Second),
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) validate() error {
	if c.Tracker.DebounceDelay < 0 {
		return fmt.Errorf("tracker.debounce_delay must be >= 0, got %s", c.Tracker.DebounceDelay.Duration())
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
