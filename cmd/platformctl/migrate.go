package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"supashowcase/internal/schema"
	"supashowcase/internal/util"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var policies bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the showcase tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dsn == "" {
				return errors.New("--database-url is required (or DATABASE_URL)")
			}
			logger := util.NewLogger(cmd.ErrOrStderr(), opts.logLevel)
			db, err := schema.Open(opts.dsn, nil)
			if err != nil {
				return err
			}
			if err := schema.Migrate(cmd.Context(), db, policies); err != nil {
				return err
			}
			logger.Info("schema migrated", "policies", policies)
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
	cmd.Flags().BoolVar(&policies, "policies", false, "Also apply row level security policies")
	return cmd
}
