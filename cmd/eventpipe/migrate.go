package main

import (
	"database/sql"
	"fmt"

	"github.com/3rs4lg4d0/eventpipe/internal/config"
	"github.com/3rs4lg4d0/eventpipe/sql/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the outbox and orders tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		for _, name := range postgres.UpScripts {
			script, err := postgres.Migrations.ReadFile(name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			if _, err := db.ExecContext(cmd.Context(), string(script)); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
		}
		return nil
	},
}
