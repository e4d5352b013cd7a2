// Package cmd provides the CLI commands for Zephir.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alekitto/zephir-go/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "zephir",
	Short: "Zephir - authorization decision service",
	Long: `Zephir evaluates whether a subject may perform an action on a
resource, against policies attached to identities and the groups they
belong to.

Configuration is read entirely from the environment (DSN, SERVE_PORT,
MINCONN, MAXCONN, CONNECTION_TIMEOUT, REDIS_DSN) — there is no YAML
config file.

Commands:
  serve       Start the decision service
  hash-key    Generate an Argon2id (or, with --sha256, SHA-256) hash for an admin API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
