// Package config defines the documents stored in the configuration directory.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File names inside the configuration directory.
const (
	FileName       = "config.yml"
	AddonsFileName = "addons.yml"
	SecretFileName = "server_secret"
	AddonsDirName  = "addons"
)

// Database adapters understood by the connector.
const (
	AdapterSQLite   = "sqlite"
	AdapterPostgres = "postgres"
)

// Config is the primary server settings document (config.yml).
type Config struct {
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	DB          DatabaseConfig   `yaml:"db"`
	Redis       RedisConfig      `yaml:"redis"`
	Logmaster   LoggingConfig    `yaml:"logmaster"`
	Migrations  MigrationsConfig `yaml:"migrations"`
}

// ServerConfig configures the HTTP listener that serves after boot.
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	ShutdownTimeout int             `yaml:"shutdown_timeout"` // seconds
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig bounds addon invocations per client.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// DatabaseConfig selects an adapter and its parameters.
type DatabaseConfig struct {
	Adapter         string `yaml:"adapter"`
	Name            string `yaml:"name"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"sslmode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// RedisConfig is optional; an empty Addr disables redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// LoggingConfig mirrors the logmaster section.
type LoggingConfig struct {
	LogLevel string `yaml:"log_level"`
	File     string `yaml:"file"`
	Format   string `yaml:"format"`
}

// MigrationsConfig points at an on-disk migration directory. Empty uses the bundled set.
type MigrationsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads and validates config.yml at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes decodes a config document, applies defaults and validates it.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9696
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 40
	}
	c.DB.Adapter = strings.ToLower(strings.TrimSpace(c.DB.Adapter))
	if c.DB.Adapter == "postgres" || c.DB.Adapter == "postgresql" {
		c.DB.Adapter = AdapterPostgres
		if c.DB.Port == 0 {
			c.DB.Port = 5432
		}
		if c.DB.SSLMode == "" {
			c.DB.SSLMode = "disable"
		}
	}
	if c.Logmaster.LogLevel == "" {
		c.Logmaster.LogLevel = "INFO"
	}
}

// Validate checks that the document can drive a boot.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	switch c.DB.Adapter {
	case AdapterSQLite:
		if strings.TrimSpace(c.DB.Name) == "" {
			return fmt.Errorf("db: name is required for the sqlite adapter")
		}
	case AdapterPostgres:
		if strings.TrimSpace(c.DB.Host) == "" {
			return fmt.Errorf("db: host is required for the postgres adapter")
		}
		if strings.TrimSpace(c.DB.Name) == "" {
			return fmt.Errorf("db: name is required for the postgres adapter")
		}
	case "":
		return fmt.Errorf("db: adapter is required")
	default:
		return fmt.Errorf("db: unknown adapter %q", c.DB.Adapter)
	}
	return nil
}
