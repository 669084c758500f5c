package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/persona-council/internal/app"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema for sqlite or postgres backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := app.Migrate(cfg.Store); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Store.Backend)
			return nil
		},
	}
}
