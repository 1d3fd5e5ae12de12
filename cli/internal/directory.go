package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDirectoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Operate on directory accounts",
	}

	cmd.AddCommand(newSetPasswordCommand())
	return cmd
}

func newSetPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-password LOGIN",
		Short: "Set the directory password of a login",
		Long: `Set the directory password of a login. On a terminal the password is read twice
without echo; otherwise the first line of stdin is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			ctx := cmd.Context()

			p, err := c.Services.Identities.Lookup(ctx, args[0])
			if err != nil {
				return err
			}

			password, err := readNewPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if err := c.Runtime.Directory.SetPassword(ctx, p.PrincipalName, password); err != nil {
				return fmt.Errorf("failed to set password for %s: %w", p.PrincipalName, err)
			}
			c.Logger.Info("password set by administrator", "login", p.PrincipalName)
			fmt.Fprintf(cmd.OutOrStdout(), "Password set for %s\n", p.PrincipalName)
			return nil
		},
	}
}

// readNewPassword prompts twice on a terminal, or reads one line from a pipe
func readNewPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		fmt.Fprint(prompt, "New password: ")
		first, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprint(prompt, "Repeat password: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		if len(first) == 0 {
			return "", errors.New("empty password")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
