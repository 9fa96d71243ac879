// Package config loads the environment configuration of the collection
// service and of the basketctl client.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultServerPort      = 8080
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsEnabled  = true
	DefaultStoreDriver     = StoreMemory
	DefaultCacheTTL        = 15 * time.Minute
	DefaultSessionTTL      = 24 * time.Hour
	DefaultAllowedOrigins  = "*"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Environment variable names.
const (
	EnvServerPort      = "APP_SERVER_PORT"
	EnvLogLevel        = "APP_LOG_LEVEL"
	EnvShutdownTimeout = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled  = "APP_METRICS_ENABLED"
	EnvStoreDriver     = "APP_STORE_DRIVER"
	EnvDatabaseURL     = "APP_DATABASE_URL"
	EnvRedisAddr       = "APP_REDIS_ADDR"
	EnvRedisPassword   = "APP_REDIS_PASSWORD" //nolint:gosec // env var name, not a credential
	EnvRedisDB         = "APP_REDIS_DB"
	EnvCacheTTL        = "APP_CACHE_TTL"
	EnvUsers           = "APP_USERS"
	EnvSessionTTL      = "APP_SESSION_TTL"
	EnvCookieSecure    = "APP_COOKIE_SECURE"
	EnvAllowedOrigins  = "APP_ALLOWED_ORIGINS"
)

// Config holds the collection service configuration.
type Config struct {
	// Server settings.
	ServerPort      int
	LogLevel        string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	AllowedOrigins  []string

	// Storage: memory or postgres, plus an optional Redis read cache.
	StoreDriver   string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Accounts (format: "email1:bcrypt_hash,email2:bcrypt_hash") and sessions.
	Users        string
	SessionTTL   time.Duration
	CookieSecure bool
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidStoreDriver     = errors.New("store driver must be one of: memory, postgres")
	ErrDatabaseURLRequired    = errors.New("database URL must be set when store driver is postgres")
	ErrInvalidCacheTTL        = errors.New("cache TTL must be positive")
	ErrInvalidSessionTTL      = errors.New("session TTL must be positive")
	ErrInvalidRedisDB         = errors.New("redis DB must not be negative")
	ErrUsersRequired          = errors.New("at least one user must be configured")
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables with defaults.
// Environment variables have priority over default values.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      DefaultServerPort,
		LogLevel:        DefaultLogLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
		MetricsEnabled:  DefaultMetricsEnabled,
		AllowedOrigins:  splitList(DefaultAllowedOrigins),
		StoreDriver:     DefaultStoreDriver,
		CacheTTL:        DefaultCacheTTL,
		SessionTTL:      DefaultSessionTTL,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromEnv loads configuration values from environment variables.
func (c *Config) loadFromEnv() error {
	if err := c.loadServerEnv(); err != nil {
		return err
	}

	if err := c.loadStorageEnv(); err != nil {
		return err
	}

	return c.loadSessionEnv()
}

// loadServerEnv loads server-related environment variables.
func (c *Config) loadServerEnv() error {
	if err := envInt(EnvServerPort, &c.ServerPort); err != nil {
		return err
	}

	if val := os.Getenv(EnvLogLevel); val != "" {
		c.LogLevel = val
	}

	if err := envDuration(EnvShutdownTimeout, &c.ShutdownTimeout); err != nil {
		return err
	}

	if err := envBool(EnvMetricsEnabled, &c.MetricsEnabled); err != nil {
		return err
	}

	if val := os.Getenv(EnvAllowedOrigins); val != "" {
		c.AllowedOrigins = splitList(val)
	}

	return nil
}

// loadStorageEnv loads repository and cache variables.
func (c *Config) loadStorageEnv() error {
	if val := os.Getenv(EnvStoreDriver); val != "" {
		c.StoreDriver = strings.ToLower(val)
	}

	c.DatabaseURL = os.Getenv(EnvDatabaseURL)
	c.RedisAddr = os.Getenv(EnvRedisAddr)
	c.RedisPassword = os.Getenv(EnvRedisPassword)

	if err := envInt(EnvRedisDB, &c.RedisDB); err != nil {
		return err
	}

	return envDuration(EnvCacheTTL, &c.CacheTTL)
}

// loadSessionEnv loads account and session variables.
func (c *Config) loadSessionEnv() error {
	c.Users = os.Getenv(EnvUsers)

	if err := envDuration(EnvSessionTTL, &c.SessionTTL); err != nil {
		return err
	}

	return envBool(EnvCookieSecure, &c.CookieSecure)
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateStorage()
}

// validateServer validates server-related configuration.
func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}

	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.SessionTTL <= 0 {
		return ErrInvalidSessionTTL
	}

	if strings.TrimSpace(c.Users) == "" {
		return ErrUsersRequired
	}

	return nil
}

// validateStorage validates repository and cache configuration.
func (c *Config) validateStorage() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}
	default:
		return ErrInvalidStoreDriver
	}

	if c.CacheTTL <= 0 {
		return ErrInvalidCacheTTL
	}

	if c.RedisDB < 0 {
		return ErrInvalidRedisDB
	}

	return nil
}

// CacheEnabled reports whether a Redis cache is configured.
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

func envInt(name string, dst *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

func envBool(name string, dst *bool) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = b
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
