package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var schemas []string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables for one or more tenant schemas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(schemas) == 0 {
				return errors.New("at least one --schema is required")
			}
			cfg, log, err := loadConfig(flags)
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best effort on exit

			for _, schema := range schemas {
				if err := a.courier.Migrate(cmd.Context(), schema); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&schemas, "schema", nil, "tenant schema to migrate (repeatable or comma separated)")
	return cmd
}
