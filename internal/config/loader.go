package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper to read Zephir's configuration purely from
// the environment, per spec §6 (no YAML dialect of its own). Unprefixed
// names are used because the six variables spec §6 names — DSN,
// SERVE_PORT, MINCONN, MAXCONN, CONNECTION_TIMEOUT, REDIS_DSN — are
// already specific enough not to collide, and the spec gives them no
// prefix.
func InitViper() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	for _, key := range []string{
		"dsn", "serve_port", "minconn", "maxconn",
		"connection_timeout", "redis_dsn", "default_policy_file", "log_level",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig builds a Config from the bound environment, applies
// defaults, and validates it. Exactly one of the failure modes spec §6's
// "Exit codes" section describes — a missing DSN — surfaces through the
// returned error; callers map that to process exit code 1.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
