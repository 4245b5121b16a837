package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dakota002/gcn.nasa.gov/internal/repository/postgres"
)

func migrateCmd(opts *options) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if source == "" {
				source = cfg.Postgres.MigrationsPath
			}

			version, dirty, err := postgres.Migrate(source, cfg.Postgres.DSN)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "migrations source URL (default: postgres.migrations_path)")

	return cmd
}
