package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Client defaults.
const (
	DefaultAPIURL           = "http://localhost:8080/api"
	DefaultSnapshotPath     = "basket.db"
	DefaultCatalogPath      = "catalog.yaml"
	DefaultClientLogLevel   = "warn"
	DefaultRemoteTimeout    = 15 * time.Second
	DefaultBreakerEnabled   = true
	DefaultBreakerThreshold = 5
	DefaultBreakerOpenFor   = 30 * time.Second
)

// Client environment variable names. APP_LOG_LEVEL is shared with the server.
const (
	EnvAPIURL           = "APP_API_URL"
	EnvSnapshotPath     = "APP_SNAPSHOT_PATH"
	EnvCatalogPath      = "APP_CATALOG_PATH"
	EnvRemoteTimeout    = "APP_REMOTE_TIMEOUT"
	EnvBreakerEnabled   = "APP_BREAKER_ENABLED"
	EnvBreakerThreshold = "APP_BREAKER_THRESHOLD"
	EnvBreakerOpenFor   = "APP_BREAKER_OPEN_FOR"
)

// ClientConfig holds the basketctl configuration.
type ClientConfig struct {
	APIURL   string
	LogLevel string

	// SnapshotPath is the SQLite file holding the anonymous collections.
	// An empty path keeps them in memory for the session only.
	SnapshotPath string
	CatalogPath  string

	// RemoteTimeout bounds every detached remote write.
	RemoteTimeout time.Duration

	BreakerEnabled   bool
	BreakerThreshold int
	BreakerOpenFor   time.Duration
}

// Client validation errors.
var (
	ErrInvalidAPIURL           = errors.New("API URL must be an absolute http(s) URL")
	ErrInvalidRemoteTimeout    = errors.New("remote timeout must be positive")
	ErrInvalidBreakerThreshold = errors.New("breaker threshold must be at least 1")
	ErrInvalidBreakerOpenFor   = errors.New("breaker open duration must be positive")
	ErrCatalogPathRequired     = errors.New("catalog path must be set")
)

// LoadClient reads the client configuration from environment variables with defaults.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:           DefaultAPIURL,
		LogLevel:         DefaultClientLogLevel,
		SnapshotPath:     DefaultSnapshotPath,
		CatalogPath:      DefaultCatalogPath,
		RemoteTimeout:    DefaultRemoteTimeout,
		BreakerEnabled:   DefaultBreakerEnabled,
		BreakerThreshold: DefaultBreakerThreshold,
		BreakerOpenFor:   DefaultBreakerOpenFor,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading client config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return cfg, nil
}

func (c *ClientConfig) loadFromEnv() error {
	if val := os.Getenv(EnvAPIURL); val != "" {
		c.APIURL = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		c.LogLevel = val
	}
	if val, ok := os.LookupEnv(EnvSnapshotPath); ok {
		c.SnapshotPath = val
	}
	if val := os.Getenv(EnvCatalogPath); val != "" {
		c.CatalogPath = val
	}

	if err := envDuration(EnvRemoteTimeout, &c.RemoteTimeout); err != nil {
		return err
	}
	if err := envBool(EnvBreakerEnabled, &c.BreakerEnabled); err != nil {
		return err
	}
	if err := envInt(EnvBreakerThreshold, &c.BreakerThreshold); err != nil {
		return err
	}
	return envDuration(EnvBreakerOpenFor, &c.BreakerOpenFor)
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidAPIURL
	}

	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.CatalogPath == "" {
		return ErrCatalogPathRequired
	}

	if c.RemoteTimeout <= 0 {
		return ErrInvalidRemoteTimeout
	}

	if c.BreakerEnabled {
		if c.BreakerThreshold < 1 {
			return ErrInvalidBreakerThreshold
		}
		if c.BreakerOpenFor <= 0 {
			return ErrInvalidBreakerOpenFor
		}
	}

	return nil
}
