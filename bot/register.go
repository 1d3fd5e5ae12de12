package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/passgate/bot/internal/bot/commands"
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/infrastructure/telegram"
)

func newRegisterCommand() *cobra.Command {
	var (
		configPath string
		cleanup    bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the bot command menu with Telegram",
		Long: `Register the bot commands shown in the Telegram command menu.
Use --cleanup to remove all commands without registering new ones.

setMyCommands replaces the whole list, so stale commands disappear as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stdout, nil))

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Telegram.Token == "" {
				return fmt.Errorf("telegram.token is required")
			}

			api, err := telegram.NewClient(cfg.Telegram.Token, 30*time.Second)
			if err != nil {
				return err
			}

			if cleanup {
				log.Info("removing all commands", slog.String("bot", api.Self.UserName))
				if _, err := api.Request(tgbotapi.NewDeleteMyCommands()); err != nil {
					return fmt.Errorf("failed to remove commands: %w", err)
				}
				log.Info("all commands removed")
				return nil
			}

			defs := commands.Definitions()
			log.Info("registering commands",
				slog.String("bot", api.Self.UserName),
				slog.Int("command_count", len(defs)))

			if _, err := api.Request(tgbotapi.NewSetMyCommands(defs...)); err != nil {
				return fmt.Errorf("failed to register commands: %w", err)
			}
			for _, def := range defs {
				log.Info("registered command", slog.String("name", def.Command))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove all commands without registering new ones")

	return cmd
}
