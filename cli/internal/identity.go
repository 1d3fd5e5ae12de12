package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/devilmonastery/passgate/internal/domain/entities"
	"github.com/devilmonastery/passgate/internal/domain/services"
)

func newIdentityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect and repair identity records",
	}

	cmd.AddCommand(newIdentityShowCommand())
	cmd.AddCommand(newIdentitySetChannelCommand())
	cmd.AddCommand(newIdentityUnlinkChatCommand())
	cmd.AddCommand(newIdentityDestroyOTPCommand())
	cmd.AddCommand(newIdentityAuditCommand())

	return cmd
}

// identityView is the printable form of a record. Secrets and tokens are reduced to flags.
type identityView struct {
	Login          string     `yaml:"login"`
	DisplayName    string     `yaml:"display_name"`
	Stored         bool       `yaml:"stored"`
	Email          string     `yaml:"email,omitempty"`
	Phone          string     `yaml:"phone,omitempty"`
	ChatID         *int64     `yaml:"chat_id,omitempty"`
	OTP            bool       `yaml:"otp"`
	PendingBinding string     `yaml:"pending_binding,omitempty"`
	PendingReset   bool       `yaml:"pending_reset"`
	CreatedAt      *time.Time `yaml:"created_at,omitempty"`
	UpdatedAt      *time.Time `yaml:"updated_at,omitempty"`
}

func newIdentityView(rec *entities.Identity) identityView {
	v := identityView{
		Login:        rec.Login,
		DisplayName:  rec.DisplayName,
		Stored:       rec.IsPersisted(),
		ChatID:       rec.ChatChannel,
		OTP:          rec.HasOTP(),
		PendingReset: rec.HasResetToken(),
	}
	if rec.EmailChannel != nil {
		v.Email = *rec.EmailChannel
	}
	if rec.PhoneChannel != nil {
		v.Phone = *rec.PhoneChannel
	}
	if rec.HasBindToken() {
		v.PendingBinding = rec.BindDestination.String()
	}
	if rec.IsPersisted() {
		v.CreatedAt = &rec.CreatedAt
		v.UpdatedAt = &rec.UpdatedAt
	}
	return v
}

func printIdentity(w io.Writer, v identityView, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode identity: %w", err)
		}
		return enc.Close()

	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Login:\t%s\n", v.Login)
		fmt.Fprintf(tw, "Display name:\t%s\n", v.DisplayName)
		fmt.Fprintf(tw, "Stored:\t%t\n", v.Stored)
		fmt.Fprintf(tw, "Email:\t%s\n", orDash(v.Email))
		fmt.Fprintf(tw, "Phone:\t%s\n", orDash(v.Phone))
		chat := "-"
		if v.ChatID != nil {
			chat = fmt.Sprintf("%d", *v.ChatID)
		}
		fmt.Fprintf(tw, "Chat:\t%s\n", chat)
		fmt.Fprintf(tw, "OTP:\t%t\n", v.OTP)
		fmt.Fprintf(tw, "Pending binding:\t%s\n", orDash(v.PendingBinding))
		fmt.Fprintf(tw, "Pending reset:\t%t\n", v.PendingReset)
		if v.UpdatedAt != nil {
			fmt.Fprintf(tw, "Updated:\t%s\n", v.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q (text, yaml)", format)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// modifyIdentity runs fn on the record of login under the login lock
func modifyIdentity(ctx context.Context, svc *services.Services, login string, fn func(rec *entities.Identity) error) (*entities.Identity, error) {
	principal, err := svc.Identities.Normalize(login)
	if err != nil {
		return nil, err
	}
	unlock := svc.Identities.Lock(principal)
	defer unlock()

	rec, err := svc.Identities.Resolve(ctx, principal)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func newIdentityShowCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show LOGIN",
		Short: "Show the identity record of a login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			rec, err := c.Services.Identities.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIdentity(cmd.OutOrStdout(), newIdentityView(rec), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func newIdentitySetChannelCommand() *cobra.Command {
	var email, phone string

	cmd := &cobra.Command{
		Use:   "set-channel LOGIN",
		Short: "Set or clear the email and phone channels",
		Long:  `Set the email and phone channels of a login. An empty value clears the channel; an omitted flag leaves it alone.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var emailArg, phoneArg *string
			if cmd.Flags().Changed("email") {
				emailArg = &email
			}
			if cmd.Flags().Changed("phone") {
				phoneArg = &phone
			}
			if emailArg == nil && phoneArg == nil {
				return errors.New("nothing to change: pass --email and/or --phone")
			}

			c := getCliContext(cmd)
			rec, err := modifyIdentity(cmd.Context(), c.Services, args[0], func(rec *entities.Identity) error {
				return c.Services.Binding.SetChannels(cmd.Context(), rec, emailArg, phoneArg)
			})
			if err != nil {
				return err
			}
			return printIdentity(cmd.OutOrStdout(), newIdentityView(rec), "text")
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address (empty clears)")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number (empty clears)")
	return cmd
}

func newIdentityUnlinkChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink-chat LOGIN",
		Short: "Unlink the Telegram chat of a login and notify it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			svc := c.chatServices()

			var had bool
			_, err := modifyIdentity(cmd.Context(), svc, args[0], func(rec *entities.Identity) error {
				had = rec.HasChat()
				return svc.Binding.UnlinkChat(cmd.Context(), rec)
			})
			if err != nil {
				return err
			}
			if !had {
				fmt.Fprintln(cmd.OutOrStdout(), "No chat linked")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Chat unlinked")
			return nil
		},
	}
}

func newIdentityDestroyOTPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy-otp LOGIN",
		Short: "Remove the authenticator app factor of a login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)

			var had bool
			_, err := modifyIdentity(cmd.Context(), c.Services, args[0], func(rec *entities.Identity) error {
				had = rec.HasOTP()
				return c.Services.OTP.Destroy(cmd.Context(), rec)
			})
			if err != nil {
				return err
			}
			if !had {
				fmt.Fprintln(cmd.OutOrStdout(), "No authenticator enrolled")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Authenticator removed")
			return nil
		},
	}
}

func newIdentityAuditCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit LOGIN",
		Short: "List recent audit entries of a login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			login, err := c.Services.Identities.Normalize(args[0])
			if err != nil {
				return err
			}

			entries, err := c.Services.Audit.List(cmd.Context(), login, limit)
			if err != nil {
				return fmt.Errorf("failed to list audit entries: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit entries")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tDESTINATION\tOK\tDETAILS")
			for _, e := range entries {
				details := ""
				if len(e.Metadata) > 0 {
					if b, err := json.Marshal(e.Metadata); err == nil {
						details = string(b)
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.Destination, e.Success, details)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}
