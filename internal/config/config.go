// Package config provides configuration loading for the Zephir decision
// service: a handful of environment variables bound through Viper, no
// YAML schema of its own beyond the optional default-policy seed file.
package config

// Config is the top-level configuration for Zephir, built from the
// environment variables spec §6 names.
type Config struct {
	// DSN is the database connection string for the PolicyStore.
	// Required. A postgres:// or postgresql:// DSN selects the
	// Postgres-backed store; a sqlite: or sqlite:// DSN (e.g.
	// "sqlite::memory:" or "sqlite:///var/lib/zephir/db.sqlite")
	// selects the embedded SQLite store; anything else falls back to
	// the in-memory store. An empty DSN is rejected at startup with
	// exit code 1.
	DSN string `mapstructure:"dsn" validate:"required"`

	// ServePort is the HTTP listener port. Defaults to 8091.
	ServePort int `mapstructure:"serve_port" validate:"min=1,max=65535"`

	// MinConn/MaxConn size the PolicyStore's connection pool.
	// Defaults: 0/5.
	MinConn int32 `mapstructure:"minconn" validate:"min=0"`
	MaxConn int32 `mapstructure:"maxconn" validate:"min=1"`

	// ConnectionTimeoutMS bounds how long a store operation may take
	// before the request fails, in milliseconds. Default: 500.
	ConnectionTimeoutMS int `mapstructure:"connection_timeout" validate:"min=1"`

	// RedisDSN, when non-empty, selects the Redis-backed external
	// CompiledPolicyCache in place of the in-memory default.
	RedisDSN string `mapstructure:"redis_dsn"`

	// DefaultPolicyFile optionally points at a YAML file seeding the
	// initial policy/identity/group set on first boot (see
	// internal/bootstrap). Not part of spec §6's env var list; an
	// ambient convenience the teacher's own YAML-seed pattern offered.
	DefaultPolicyFile string `mapstructure:"default_policy_file"`

	// LogLevel sets the minimum slog level. Valid values: "debug",
	// "info", "warn", "error". Defaults to "info".
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// SetDefaults applies the spec §6 default values to fields left unset.
func (c *Config) SetDefaults() {
	if c.ServePort == 0 {
		c.ServePort = 8091
	}
	if c.MaxConn == 0 {
		c.MaxConn = 5
	}
	if c.ConnectionTimeoutMS == 0 {
		c.ConnectionTimeoutMS = 500
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
