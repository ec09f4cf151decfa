package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "entitygate",
	Short: "Metadata-driven entity access layer",
	Long: `entitygate serves declaratively described collections over a JSON API.

Each collection definition declares fields, role permissions and
reference relationships. entitygate derives from it which operations a
caller may run and which fields they may read or write.

Quick start:
  entitygate validate   # Check config and collection definitions
  entitygate serve      # Start the API server

Credentials:
  entitygate hash-key   # Hash an API key for auth.api_keys
  entitygate token      # Mint a bearer token`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "entitygate.yaml", "config file path")
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
