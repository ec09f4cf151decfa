package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/entitygate/bootstrap"
	"github.com/artpar/entitygate/config"
	"github.com/artpar/entitygate/core/events"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and collection definitions",
	Long: `Validate the entitygate configuration and every collection definition.

Checks:
  - Config syntax and values are valid
  - Every collection definition parses
  - References, links and hooks resolve across collections
  - The document store is reachable (optional)

Exits non-zero on the first problem found.

Examples:
  entitygate validate
  entitygate validate --config /etc/entitygate/config.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the document store is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	reg, err := bootstrap.LoadRegistry(cfg.Collections.Dir, events.NewBus(zerolog.Nop()), zerolog.Nop(), nil)
	if err != nil {
		fmt.Fprintf(out, "  %s Collections valid\n", crossMark)
		return fmt.Errorf("collection error: %w", err)
	}
	fmt.Fprintf(out, "  %s Collections valid (%s)\n", checkMark, cfg.Collections.Dir)

	for _, meta := range reg.List() {
		var roles []string
		for _, role := range meta.Resolver.Roles() {
			roles = append(roles, role+":"+meta.Resolver.Declared(role, "").String())
		}
		fmt.Fprintf(out, "      %-16s %2d fields  roles %s\n",
			meta.Name, len(meta.Derived.Fields), strings.Join(roles, " "))
		for _, ref := range reg.Referrers(meta.Name) {
			policy := string(ref.Delete)
			if policy == "" {
				policy = "restrict"
			}
			fmt.Fprintf(out, "      %16s <- %s.%s (%s)\n", "", ref.Collection, ref.Field, policy)
		}
	}

	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	if validateCheckDatabase {
		if err := checkDatabase(cfg.Database); err != nil {
			fmt.Fprintf(out, "  %s Database reachable\n", crossMark)
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Fprintf(out, "  %s Database reachable\n", checkMark)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(cfg config.DatabaseConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	return store.Close()
}
