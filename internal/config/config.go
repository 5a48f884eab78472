// Package config loads the service configuration. Precedence, lowest to
// highest: built-in defaults, the YAML file named by ESCROW_CONFIG, then
// environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host             string `yaml:"host" env:"ESCROW_SERVER_HOST"`
	Port             int    `yaml:"port" env:"ESCROW_SERVER_PORT"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs" env:"ESCROW_SERVER_READ_TIMEOUT"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs" env:"ESCROW_SERVER_WRITE_TIMEOUT"`
	RateLimitPerSec  int    `yaml:"rate_limit_per_sec" env:"ESCROW_SERVER_RATE_LIMIT"`
	RateLimitBurst   int    `yaml:"rate_limit_burst" env:"ESCROW_SERVER_RATE_BURST"`
}

// DatabaseConfig configures the storage backend. An empty driver selects the
// in-memory store, which is the development default.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"ESCROW_DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"ESCROW_DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"ESCROW_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"ESCROW_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_secs" env:"ESCROW_DB_CONN_MAX_LIFETIME"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"ESCROW_LOG_LEVEL"`
	Format     string `yaml:"format" env:"ESCROW_LOG_FORMAT"`
	Output     string `yaml:"output" env:"ESCROW_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"ESCROW_LOG_FILE_PREFIX"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ESCROW_AUTH_ENABLED"`
	Secret  string `yaml:"secret" env:"ESCROW_AUTH_SECRET"`
}

// EventsConfig configures event fanout.
type EventsConfig struct {
	BufferSize   int    `yaml:"buffer_size" env:"ESCROW_EVENTS_BUFFER"`
	RedisAddr    string `yaml:"redis_addr" env:"ESCROW_EVENTS_REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel" env:"ESCROW_EVENTS_REDIS_CHANNEL"`
}

// SweeperConfig configures the subscription fee sweeper.
type SweeperConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ESCROW_SWEEPER_ENABLED"`
	Schedule  string `yaml:"schedule" env:"ESCROW_SWEEPER_SCHEDULE"`
	Authority string `yaml:"authority" env:"ESCROW_SWEEPER_AUTHORITY"`
	FeeAmount uint64 `yaml:"fee_amount" env:"ESCROW_SWEEPER_FEE_AMOUNT"`
}

// MonitorConfig configures host resource sampling.
type MonitorConfig struct {
	Enabled      bool `yaml:"enabled" env:"ESCROW_MONITOR_ENABLED"`
	IntervalSecs int  `yaml:"interval_secs" env:"ESCROW_MONITOR_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 15,
			RateLimitPerSec:  50,
			RateLimitBurst:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Events: EventsConfig{
			BufferSize:   1024,
			RedisChannel: "escrow.events",
		},
		Sweeper: SweeperConfig{
			Schedule: "0 * * * *",
		},
		Monitor: MonitorConfig{
			Enabled:      true,
			IntervalSecs: 15,
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("ESCROW_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth enabled but no secret configured")
	}
	if c.Sweeper.Enabled && c.Sweeper.Authority == "" {
		return fmt.Errorf("sweeper enabled but no authority configured")
	}
	return nil
}
