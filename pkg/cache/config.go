package cache

import (
	"fmt"
	"time"
)

// BackendKind selects the key-value backend implementation.
type BackendKind string

const (
	// BackendMemory is a process-local map-backed cache. No external service needed.
	BackendMemory BackendKind = "memory"
	// BackendRedis uses a Redis server (single instance or cluster).
	BackendRedis BackendKind = "redis"
)

// DefaultTTL is the fallback time-to-live applied when a Config carries none.
const DefaultTTL = 15 * time.Minute

// Config holds cache configuration
type Config struct {
	// Cache Strategy
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Backend    BackendKind   `json:"backend" yaml:"backend"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`

	// Redis Connection (ignored for the memory backend)
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// DefaultConfig returns an enabled in-memory cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		Backend:    BackendMemory,
		DefaultTTL: DefaultTTL,
	}
}

// Validate checks if the cache configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		// Nothing else to check.
	case BackendRedis:
		if c.Cluster.Enabled {
			if len(c.Cluster.Addresses) == 0 {
				return fmt.Errorf("cluster mode requires at least one address")
			}
		} else {
			if c.Host == "" {
				return fmt.Errorf("redis host is required")
			}
			if c.Port < 1 || c.Port > 65535 {
				return fmt.Errorf("redis port must be between 1 and 65535, got %d", c.Port)
			}
		}
	case "":
		return fmt.Errorf("cache backend is required")
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}

	if c.DefaultTTL < 0 {
		return fmt.Errorf("default_ttl cannot be negative")
	}
	return nil
}

// GetAddr returns the host:port address for single-instance Redis
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode reports whether Redis Cluster mode is configured
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled
}

// ttl returns the configured default TTL, falling back to the package default.
func (c *Config) ttl() time.Duration {
	if c.DefaultTTL > 0 {
		return c.DefaultTTL
	}
	return DefaultTTL
}
