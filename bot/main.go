package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passgate-bot",
		Short: "Passgate Telegram bot",
		Long: `Passgate Telegram bot links a chat to a directory account so the chat can
receive password reset codes.`,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newRegisterCommand())

	return cmd
}
