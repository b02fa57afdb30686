package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// JWT verification of tokens minted by the external auth service.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// RingTimeout bounds how long an unanswered call rings before it
	// is marked missed.
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`

	// DatabasePath is the call-history SQLite file; empty disables
	// history persistence.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// CacheConnections maps logical cache names to redis URLs.
	CacheConnections map[string]string `mapstructure:"cache_connections" yaml:"cache_connections"`
	// CacheFallbackEnabled turns per-name fallback routing on.
	CacheFallbackEnabled bool `mapstructure:"cache_fallback_enabled" yaml:"cache_fallback_enabled"`
	// PresenceUseCache mirrors presence state into the "presence"
	// cache connection (falling back per routing rules).
	PresenceUseCache bool `mapstructure:"presence_use_cache" yaml:"presence_use_cache"`
	// PresenceTTL bounds stale presence records in the cache.
	PresenceTTL time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		JWTIssuer:         "ringlink",
		JWTAudience:       "ringlink-server",
		RingTimeout:       30 * time.Second,
		DatabasePath:      "ringlink.db",
		CacheConnections:  map[string]string{},
		PresenceTTL:       2 * time.Minute,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RingTimeout != 0 {
		c.RingTimeout = other.RingTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
