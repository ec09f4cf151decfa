package main

import (
	"context"
	"fmt"
	"os"

	"github.com/artpar/entitygate/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the entitygate API server.

The server will:
  - Load configuration from entitygate.yaml (or --config)
  - Or load configuration from ENTITYGATE_* environment variables
  - Register every collection under collections.dir
  - Connect to the document store and prepare unique indexes
  - Serve /api/{collection}, /_meta and /metrics

Environment variables (for container deployments):
  ENTITYGATE_DATABASE_DRIVER    - memory, sqlite or mongo
  ENTITYGATE_DATABASE_DSN       - Database path or MongoDB URI
  ENTITYGATE_COLLECTIONS_DIR    - Collection definition directory
  ENTITYGATE_SERVER_PORT        - Server port (default: 8080)
  ENTITYGATE_JWT_SECRET         - Bearer token signing secret
  ENTITYGATE_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  entitygate serve
  entitygate serve --config /etc/entitygate/config.yaml
  entitygate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload log level and api keys when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := bootstrap.Options{Watch: hotReload}
	if _, err := os.Stat(cfgFile); err == nil {
		opts.ConfigPath = cfgFile
	} else if cmd.Flags().Changed("config") {
		return fmt.Errorf("config file not found: %s", cfgFile)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return app.Run(ctx)
}
