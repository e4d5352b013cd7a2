package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alekitto/zephir-go/internal/domain/auth"
)

var useSHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an admin API key",
	Long: `Generate a hash of an admin API key for seeding the auth store.

By default this prints an Argon2id hash in PHC format, the form new
keys should be issued with. Pass --sha256 for the legacy
"sha256:<hex>" form still accepted for keys issued before the
Argon2id migration.

Example:
  zephir hash-key "my-secret-api-key"

Security note: the key will appear in shell history. Consider an
environment variable instead:
  zephir hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if useSHA256 {
			fmt.Printf("sha256:%s\n", auth.HashKey(key))
			return nil
		}
		hash, err := auth.HashKeyArgon2id(key)
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&useSHA256, "sha256", false, "emit the legacy sha256:<hex> form instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
