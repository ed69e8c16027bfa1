package config

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting. Trigger endpoints (run
// creation, webhooks and events) get their own, stricter tier.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Public  RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Trigger RateLimitTier `yaml:"trigger,omitempty" mapstructure:"trigger"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}
