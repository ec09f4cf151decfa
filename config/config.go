// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Collections CollectionsConfig `yaml:"collections"`
	Query       QueryConfig       `yaml:"query"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Activity    ActivityConfig    `yaml:"activity"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "memory", "sqlite" or "mongo"
	DSN    string `yaml:"dsn"`    // file path for sqlite, URI for mongo
	Name   string `yaml:"name"`   // database name for mongo
}

// CollectionsConfig locates the collection definitions.
type CollectionsConfig struct {
	Dir       string `yaml:"dir"`
	StrictIDs bool   `yaml:"strict_ids"` // reject a batch when any id is malformed
}

// QueryConfig bounds list and reference queries.
type QueryConfig struct {
	DefaultLimit int64 `yaml:"default_limit"`
	MaxLimit     int64 `yaml:"max_limit"`
	RefLimit     int64 `yaml:"ref_limit"`
}

// AuthConfig configures how callers are identified.
type AuthConfig struct {
	JWTSecret    string         `yaml:"jwt_secret,omitempty"`
	Issuer       string         `yaml:"issuer"`
	TokenTTL     time.Duration  `yaml:"token_ttl"`
	APIKeyHeader string         `yaml:"api_key_header"` // default: X-API-Key
	APIKeys      []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one configured API key. Hash is a bcrypt hash, as printed
// by the hash-key command.
type APIKeyConfig struct {
	Name    string `yaml:"name"`
	Hash    string `yaml:"hash"`
	Subject string `yaml:"subject"`
	Role    string `yaml:"role"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// ActivityConfig configures the activity log. When enabled, every emitted
// lifecycle event is written to Collection in batches.
type ActivityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Collection    string        `yaml:"collection"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML content.
func Parse(data []byte) (*Config, error) {
	data = expandEnv(data)

	cfg := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references. Bare $NAME is left alone so bcrypt
// hashes survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	ENTITYGATE_SERVER_HOST         - Server host (default: 0.0.0.0)
//	ENTITYGATE_SERVER_PORT         - Server port (default: 8080)
//	ENTITYGATE_DATABASE_DRIVER     - memory, sqlite or mongo (default: sqlite)
//	ENTITYGATE_DATABASE_DSN        - Database path or URI (default: entitygate.db)
//	ENTITYGATE_DATABASE_NAME       - Mongo database name (default: entitygate)
//	ENTITYGATE_COLLECTIONS_DIR     - Collection definitions (default: ./collections)
//	ENTITYGATE_STRICT_IDS          - Reject batches with malformed ids (default: false)
//	ENTITYGATE_JWT_SECRET          - Token signing secret
//	ENTITYGATE_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	ENTITYGATE_LOG_FORMAT          - Log format: json or console (default: json)
//	ENTITYGATE_METRICS_ENABLED     - Enable /metrics endpoint (default: true)
//	ENTITYGATE_ACTIVITY_ENABLED    - Record emitted events (default: false)
func LoadFromEnv() (*Config, error) {
	return Parse(nil)
}

// LoadWithFallback loads path when it exists and falls back to environment
// variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies ENTITYGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("ENTITYGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ENTITYGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENTITYGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("ENTITYGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("ENTITYGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("ENTITYGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("ENTITYGATE_DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}

	// Collections and queries
	if v := os.Getenv("ENTITYGATE_COLLECTIONS_DIR"); v != "" {
		cfg.Collections.Dir = v
	}
	if v := os.Getenv("ENTITYGATE_STRICT_IDS"); v != "" {
		cfg.Collections.StrictIDs = parseBool(v)
	}
	if v := os.Getenv("ENTITYGATE_QUERY_MAX_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Query.MaxLimit = n
		}
	}

	// Auth configuration
	if v := os.Getenv("ENTITYGATE_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ENTITYGATE_API_KEY_HEADER"); v != "" {
		cfg.Auth.APIKeyHeader = v
	}

	// Logging configuration
	if v := os.Getenv("ENTITYGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENTITYGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("ENTITYGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ENTITYGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	if v := os.Getenv("ENTITYGATE_ACTIVITY_ENABLED"); v != "" {
		cfg.Activity.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "entitygate.db"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "entitygate"
	}

	if cfg.Collections.Dir == "" {
		cfg.Collections.Dir = "./collections"
	}

	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = 20
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = 500
	}
	if cfg.Query.RefLimit == 0 {
		cfg.Query.RefLimit = 50
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "entitygate"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.APIKeyHeader == "" {
		cfg.Auth.APIKeyHeader = "X-API-Key"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Activity.Collection == "" {
		cfg.Activity.Collection = "_activity"
	}
	if cfg.Activity.BatchSize == 0 {
		cfg.Activity.BatchSize = 100
	}
	if cfg.Activity.FlushInterval == 0 {
		cfg.Activity.FlushInterval = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"memory": true, "sqlite": true, "mongo": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: memory, sqlite, mongo, got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "mongo" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'mongo'")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Query.DefaultLimit < 1 || cfg.Query.MaxLimit < 1 || cfg.Query.RefLimit < 1 {
		return fmt.Errorf("query limits must be positive")
	}
	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		return fmt.Errorf("query.default_limit (%d) exceeds query.max_limit (%d)", cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	names := make(map[string]bool, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		if key.Name == "" {
			return fmt.Errorf("auth.api_keys[%d].name is required", i)
		}
		if names[key.Name] {
			return fmt.Errorf("auth.api_keys[%d]: duplicate name %q", i, key.Name)
		}
		names[key.Name] = true
		if !strings.HasPrefix(key.Hash, "$2") {
			return fmt.Errorf("auth.api_keys[%d].hash must be a bcrypt hash", i)
		}
		if key.Subject == "" || key.Role == "" {
			return fmt.Errorf("auth.api_keys[%d]: subject and role are required", i)
		}
	}

	if cfg.Activity.BatchSize < 1 || cfg.Activity.FlushInterval < 0 {
		return fmt.Errorf("activity.batch_size must be positive and activity.flush_interval non-negative")
	}

	return nil
}
