// ABOUTME: Configuration loading and parsing for inboxd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete inboxd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Blob     BlobConfig     `yaml:"blob"`
	Redis    RedisConfig    `yaml:"redis"`
	Routing  RoutingConfig  `yaml:"routing"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GatewayConfig holds the outbound messaging provider configuration
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// BlobConfig holds object storage configuration for media uploads
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	PublicURL string `yaml:"public_url"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RedisConfig holds the optional cross-instance event fanout configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

// RoutingConfig holds assignment behavior switches
type RoutingConfig struct {
	EnforceCapacity bool `yaml:"enforce_capacity"`
	Distribution    bool `yaml:"distribution"`
}

// DeliveryConfig holds send pipeline tuning
type DeliveryConfig struct {
	MaxMediaBytes int64 `yaml:"max_media_bytes"`

	DispatchTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DispatchTimeoutRaw string `yaml:"dispatch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}

	// Blob storage is optional, but if configured it must be complete
	if c.Blob.Endpoint != "" {
		if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
			return fmt.Errorf("blob.access_key and blob.secret_key are required when blob.endpoint is set")
		}
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required when blob.endpoint is set")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Delivery.MaxMediaBytes < 0 {
		return fmt.Errorf("delivery.max_media_bytes must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.TimeoutRaw != "" {
		cfg.Gateway.Timeout, err = time.ParseDuration(cfg.Gateway.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing gateway.timeout %q: %w", cfg.Gateway.TimeoutRaw, err)
		}
	}

	if cfg.Delivery.DispatchTimeoutRaw != "" {
		cfg.Delivery.DispatchTimeout, err = time.ParseDuration(cfg.Delivery.DispatchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing delivery.dispatch_timeout %q: %w", cfg.Delivery.DispatchTimeoutRaw, err)
		}
	}

	return nil
}
