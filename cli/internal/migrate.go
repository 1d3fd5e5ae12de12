package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/passgate/migrations"
)

func newMigrateCommand() *cobra.Command {
	var forceVersion int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations. With --force-version the recorded schema
version is overwritten without running anything, to recover from a dirty state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			conn, err := c.Runtime.Database()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("force-version") {
				if err := conn.ForceMigrationVersion(migrations.FS, forceVersion); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema version forced to %d\n", forceVersion)
				return nil
			}

			if err := conn.RunMigrations(migrations.FS); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}

	cmd.Flags().IntVar(&forceVersion, "force-version", 0, "force the recorded schema version")
	return cmd
}
