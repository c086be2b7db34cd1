// Package config provides YAML-based configuration loading for Crewdeck.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Crewdeck configuration, loaded from config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	DB     DBConfig     `yaml:"db"`
	NATS   NATSConfig   `yaml:"nats"`
	Auth   AuthConfig   `yaml:"auth"`
	Chat   ChatConfig   `yaml:"chat"`
}

// ServerConfig holds settings for the socket gateway HTTP server.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	PingIntervalSec int    `yaml:"ping_interval_sec"`
	PongTimeoutSec  int    `yaml:"pong_timeout_sec"`
	MaxFrameBytes   int64  `yaml:"max_frame_bytes"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NATSConfig holds settings for the cross-instance broadcast bus.
// An empty URL means single-instance mode with an in-process bus.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds the JWT verification secret. When Secret is empty the
// CREWDECK_SECRET environment variable is consulted at load time.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// ChatConfig tunes messaging-core behavior.
type ChatConfig struct {
	DirectHistoryLimit int    `yaml:"direct_history_limit"`
	PreviewLength      int    `yaml:"preview_length"`
	PresenceResyncCron string `yaml:"presence_resync_cron"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PingIntervalSec == 0 {
		c.Server.PingIntervalSec = 25
	}
	if c.Server.PongTimeoutSec == 0 {
		c.Server.PongTimeoutSec = 60
	}
	if c.Server.MaxFrameBytes == 0 {
		c.Server.MaxFrameBytes = 100 << 20
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "crewdeck"
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("CREWDECK_SECRET")
	}
	if c.Chat.DirectHistoryLimit == 0 {
		c.Chat.DirectHistoryLimit = 50
	}
	if c.Chat.PreviewLength == 0 {
		c.Chat.PreviewLength = 100
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Auth.Secret == "" {
		errs = append(errs, "auth.secret is required (or set CREWDECK_SECRET)")
	}
	if c.Server.PongTimeoutSec <= c.Server.PingIntervalSec {
		errs = append(errs, "server.pong_timeout_sec must exceed server.ping_interval_sec")
	}
	if c.Chat.DirectHistoryLimit < 0 {
		errs = append(errs, "chat.direct_history_limit must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
