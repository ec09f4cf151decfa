package main

import (
	"fmt"

	"github.com/artpar/entitygate/adapters/auth"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash an API key for auth.api_keys",
	Long: `Print the bcrypt hash of an API key.

Without an argument a random key is generated and printed along with
its hash. Only the hash belongs in the config file.

Examples:
  entitygate hash-key
  entitygate hash-key my-plaintext-key --cost 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashKey,
}

var (
	hashKeyCost int
)

func init() {
	rootCmd.AddCommand(hashKeyCmd)

	hashKeyCmd.Flags().IntVar(&hashKeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

func runHashKey(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	key := ""
	if len(args) == 1 {
		key = args[0]
	} else {
		key = "eg_" + auth.GenerateSecret()
		fmt.Fprintf(out, "key:  %s\n", key)
	}

	hash, err := auth.HashKey(key, hashKeyCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Fprintf(out, "hash: %s\n", hash)
	return nil
}
