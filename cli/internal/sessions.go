package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage web portal sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired browser sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			n, err := c.Services.Sessions.Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clean up sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired session(s)\n", n)
			return nil
		},
	})

	return cmd
}
